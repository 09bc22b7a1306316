// Package v1 implements version 1 of the configuration parser.
//
// It applies some defaults to the configurations:
//   - Default key algorithm: EC P-256
//   - Default signature algorithm: none, the generator derives it from the issuer key
//   - Default certificate validity: 5 years, starting from the current point in time
//   - Default issuer: the subject
package v1

import (
	"bytes"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/karrick/tparse/v2"
	"github.com/wokdav/certsign/generator/config"
	"github.com/wokdav/certsign/generator/der"
	"github.com/wokdav/certsign/generator/keys"
	"github.com/wokdav/certsign/generator/signer"
	"github.com/wokdav/certsign/generator/tbs"
)

const DefaultValidityYears = 5

const defaultKeyAlgorithm = keys.P256

const (
	dateForm     = "2006-01-02"
	binaryPrefix = "!binary:"
	hexPrefix    = "!hex:"
	emptyPrefix  = "!empty"
	nullPrefix   = "!null"
)

func init() {
	config.AddConfigurator(1, V1Configurator{})
}

// Struct for YAML/JSON marshaling.
type CertValidity struct {
	From  string `json:"from"`
	Until string `json:"until"`
}

// Struct for YAML/JSON marshaling.
type CertConfig struct {
	Version                  int             `json:"version"`
	SerialNumber             json.RawMessage `json:"serialNumber"`
	Subject                  string          `json:"subject"`
	Issuer                   *string         `json:"issuer"`
	Validity                 CertValidity    `json:"validity"`
	KeyAlgorithm             string          `json:"keyAlgorithm"`
	SignatureAlgorithm       string          `json:"signatureAlgorithm"`
	AllowDuplicateExtensions bool            `json:"allowDuplicateExtensions"`
	IssuerUniqueId           string          `json:"issuerUniqueId"`
	SubjectUniqueId          string          `json:"subjectUniqueId"`
	Extensions               []AnyExtension  `json:"extensions"`
}

// The implementor of [config.Configurator] for version 1.
type V1Configurator struct{}

// Implements ParseConfiguration from [config.Configurator].
// The document is validated against the schema before it is decoded and
// the stated defaults are applied.
func (v V1Configurator) ParseConfiguration(s string) (*config.CertificateContent, error) {
	js, err := yaml.YAMLToJSON([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("config-v1: %w", err)
	}

	if err := certificateSchema.Validate(bytes.NewReader(js)); err != nil {
		return nil, fmt.Errorf("config-v1: %w", err)
	}

	var certCfg CertConfig
	if err := json.Unmarshal(js, &certCfg); err != nil {
		return nil, fmt.Errorf("config-v1: %w", err)
	}

	return initCertificate(certCfg)
}

func (v V1Configurator) CertificateExample() string {
	return certificateExample
}

func parseSerialNumber(raw json.RawMessage) (*big.Int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	s := string(raw)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}

	n, ok := new(big.Int), false
	if strings.HasPrefix(s, "0x") {
		n, ok = n.SetString(s[2:], 16)
	} else {
		n, ok = n.SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("config-v1: invalid serial number '%v'", s)
	}
	if n.Sign() <= 0 {
		return nil, fmt.Errorf("config-v1: serial number must be positive, got %v", n)
	}

	return n, nil
}

func parseName(s string) (tbs.Name, error) {
	if strings.TrimSpace(s) == "" {
		return tbs.Name{}, nil
	}
	return tbs.ParseName(s)
}

// parseTime accepts dates, RFC3339 timestamps and expressions like now-1h.
func parseTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(dateForm, s, time.UTC); err == nil {
		return t, nil
	}

	t, err := tparse.ParseNow(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("is neither YYYY-MM-DD, RFC3339 nor relative to now")
	}

	return t.UTC(), nil
}

// toTimes resolves the validity period. until may be a duration relative
// to from.
func (cv CertValidity) toTimes() (time.Time, time.Time, error) {
	var from, until time.Time
	var err error

	if len(cv.From) != 0 {
		from, err = parseTime(cv.From)
		if err != nil {
			return from, until, fmt.Errorf(`config-v1: "from" %w`, err)
		}
	} else {
		from = time.Now().UTC()
	}

	switch {
	case len(cv.Until) == 0:
		until = from.AddDate(DefaultValidityYears, 0, 0)
	case durationRx.MatchString(cv.Until):
		all := durationRx.FindStringSubmatch(cv.Until)

		// the pattern only matches digits, so we ignore errors here
		y, _ := strconv.Atoi(all[2])
		m, _ := strconv.Atoi(all[4])
		d, _ := strconv.Atoi(all[6])

		until = from.AddDate(y, m, d)
	default:
		until, err = parseTime(cv.Until)
		if err != nil {
			return from, until, fmt.Errorf(`config-v1: "until" %w`, err)
		}
	}

	return from, until, nil
}

func readRawString(s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, binaryPrefix):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, binaryPrefix))
		if err != nil {
			return nil, fmt.Errorf("config-v1: invalid base64 content: %w", err)
		}
		return b, nil
	case strings.HasPrefix(s, hexPrefix):
		b, err := hex.DecodeString(strings.TrimPrefix(s, hexPrefix))
		if err != nil {
			return nil, fmt.Errorf("config-v1: invalid hex content: %w", err)
		}
		return b, nil
	case s == emptyPrefix:
		return []byte{}, nil
	case s == nullPrefix:
		return asn1.NullBytes, nil
	}

	return nil, fmt.Errorf("config-v1: unrecognized raw command '%s'", s)
}

func readUniqueID(s string) (*der.BitString, error) {
	if len(s) == 0 {
		return nil, nil
	}

	b, err := readRawString(s)
	if err != nil {
		return nil, err
	}
	id := der.Bits(b)
	return &id, nil
}

func initCertificate(c CertConfig) (*config.CertificateContent, error) {
	out := config.CertificateContent{}
	var err error

	out.SerialNumber, err = parseSerialNumber(c.SerialNumber)
	if err != nil {
		return nil, err
	}

	out.Subject, err = parseName(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("config-v1: subject: %w", err)
	}

	if c.Issuer != nil {
		out.Issuer, err = parseName(*c.Issuer)
		if err != nil {
			return nil, fmt.Errorf("config-v1: issuer: %w", err)
		}
	} else {
		out.Issuer = out.Subject
	}

	out.ValidFrom, out.ValidUntil, err = c.Validity.toTimes()
	if err != nil {
		return nil, err
	}

	out.KeyAlgorithm = defaultKeyAlgorithm
	if len(c.KeyAlgorithm) > 0 {
		out.KeyAlgorithm, err = keys.ParseKeyAlgorithm(c.KeyAlgorithm)
		if err != nil {
			return nil, fmt.Errorf("config-v1: %w", err)
		}
	}

	if len(c.SignatureAlgorithm) > 0 {
		alg, err := signer.ParseAlgorithm(c.SignatureAlgorithm)
		if err != nil {
			return nil, fmt.Errorf("config-v1: %w", err)
		}
		out.SignatureAlgorithm = &alg
	}

	out.IssuerUniqueID, err = readUniqueID(c.IssuerUniqueId)
	if err != nil {
		return nil, err
	}
	out.SubjectUniqueID, err = readUniqueID(c.SubjectUniqueId)
	if err != nil {
		return nil, err
	}

	out.AllowDuplicateExtensions = c.AllowDuplicateExtensions
	out.Extensions, err = parseExtensions(c.Extensions)
	if err != nil {
		return nil, err
	}

	return &out, nil
}
