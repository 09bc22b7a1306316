// Package config provides certificate configurations.
// It supports configuration versioning, having each implementation
// register themselves in this package.
// External parties should only use this package for configuring
// and ignore the underlying implementations. This package must not
// import its implementations to avoid circular imports.
//
// Each implementation is expected to be YAML or JSON, with the topmost
// element being a map containing a property named 'version' that is set
// to an integer. All other details are up to the implementation.
// This allows this package to decide which version applies to a config
// file, so callers don't need to pre-parse config files.
package config

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ghodss/yaml"
	"github.com/wokdav/certsign/generator/der"
	"github.com/wokdav/certsign/generator/keys"
	"github.com/wokdav/certsign/generator/signer"
	"github.com/wokdav/certsign/generator/tbs"
)

var (
	configuratorsMu sync.RWMutex
	configurators   = make(map[int]Configurator, 1)
)

// Configuration implementations register themselves using this function.
// Versions should be > 0, so an unset version is never valid.
func AddConfigurator(version int, c Configurator) {
	configuratorsMu.Lock()
	defer configuratorsMu.Unlock()
	configurators[version] = c
}

// GetConfigurator returns the configurator for the supplied version.
func GetConfigurator(version int) (Configurator, error) {
	configuratorsMu.RLock()
	defer configuratorsMu.RUnlock()

	c, ok := configurators[version]
	if !ok {
		return nil, fmt.Errorf("config: unknown version: %d", version)
	}

	return c, nil
}

// Versions lists all registered versions in ascending order.
func Versions() []int {
	configuratorsMu.RLock()
	defer configuratorsMu.RUnlock()

	out := make([]int, 0, len(configurators))
	for v := range configurators {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// This is the minimum requirement for config implementations.
// A test-marshal into this is done to determine the underlying config implementation.
type configProxy struct {
	Version int `json:"version"`
}

// ParseConfig is the intended way to parse a config.
// It reads the version integer from the config and hands the document to
// the matching implementation.
// It fails if the document doesn't conform to the assumptions this package
// makes (see package documentation), or if the version does not exist (yet).
func ParseConfig(r io.Reader) (*CertificateContent, error) {
	sb := new(strings.Builder)
	w, err := io.Copy(sb, r)
	if err != nil {
		return nil, fmt.Errorf("config: error reading certificate config buffer after %d bytes: %w", w, err)
	}
	cfgstr := sb.String()

	var proxy configProxy
	err = yaml.Unmarshal([]byte(cfgstr), &proxy)
	if err != nil {
		return nil, errors.New("config: top level must be a map containing a key called 'version' that contains an integer")
	}

	configurator, err := GetConfigurator(proxy.Version)
	if err != nil {
		return nil, err
	}

	return configurator.ParseConfiguration(cfgstr)
}

// The interface each configuration version must implement.
type Configurator interface {
	ParseConfiguration(s string) (*CertificateContent, error)
	CertificateExample() string
}

// CertificateContent is the version independent representation of a
// certificate configuration. The generator turns it into a certificate.
type CertificateContent struct {
	// SerialNumber is chosen randomly if nil.
	SerialNumber *big.Int
	Subject      tbs.Name
	Issuer       tbs.Name
	ValidFrom    time.Time
	ValidUntil   time.Time
	KeyAlgorithm keys.KeyAlgorithm
	// SignatureAlgorithm is derived from the issuer key if nil.
	SignatureAlgorithm       *signer.Algorithm
	IssuerUniqueID           *der.BitString
	SubjectUniqueID          *der.BitString
	AllowDuplicateExtensions bool
	Extensions               []ExtensionConfig
}

// ExtensionContext carries what extensions may need to know about the
// certificate they end up in. It only becomes available once the keys
// are known, which is after the configuration was parsed.
type ExtensionContext struct {
	SubjectPublicKey tbs.PublicKeyInfo
	IssuerPublicKey  tbs.PublicKeyInfo
}

// The interface each extension configuration needs to implement.
// Extensions are built lazily through Build.
type ExtensionConfig interface {
	Oid() asn1.ObjectIdentifier
	Build(ctx ExtensionContext) (tbs.Extension, error)
}

// ConstantExtension is an [ExtensionConfig] whose content is already known
// at the time of config parsing.
type ConstantExtension struct {
	tbs.Extension
}

func (c ConstantExtension) Oid() asn1.ObjectIdentifier {
	return c.ID
}

func (c ConstantExtension) Build(ExtensionContext) (tbs.Extension, error) {
	return c.Extension, nil
}
