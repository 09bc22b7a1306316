package cli

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wokdav/certsign/generator"
	"github.com/wokdav/certsign/generator/cert"
	"github.com/wokdav/certsign/generator/config"
	"github.com/wokdav/certsign/generator/keys"
	"github.com/wokdav/certsign/generator/tbs"
	"github.com/wokdav/certsign/logging"
)

const (
	formatPEM = "pem"
	formatHex = "hex"
	formatDER = "der"
)

var formats = []string{formatPEM, formatHex, formatDER}

func readConfig(path string) (*config.CertificateContent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return config.ParseConfig(f)
}

func readKey(path string) (crypto.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	key, err := keys.ReadPrivateKeyPEM(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

func readPublicKey(path string) (crypto.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	key, err := keys.ReadPublicKeyPEM(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

func writeKey(path string, key crypto.PrivateKey) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if err := keys.WritePrivateKeyPEM(key, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeOutput writes data to path, or to the command's output if path is empty.
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if len(path) == 0 {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func encodeCertificate(c *cert.Certificate, format string) ([]byte, error) {
	switch format {
	case formatPEM:
		s, err := c.PEM()
		return []byte(s), err
	case formatHex:
		s, err := c.EncodedHex()
		return []byte(s + "\n"), err
	case formatDER:
		return c.DER()
	}

	return nil, fmt.Errorf("unknown format '%s', expected one of %s", format, strings.Join(formats, ", "))
}

type keyFlags struct {
	key       string
	keyOut    string
	issuerKey string
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&k.key, "key", "k", "", "PEM file with the subject key (generated if absent)")
	cmd.Flags().StringVar(&k.keyOut, "key-out", "", "where to store a generated subject key")
	cmd.Flags().StringVarP(&k.issuerKey, "issuer-key", "i", "", "PEM file with the issuer key (defaults to the subject key)")
}

// load returns the subject and issuer keys. A missing subject key is generated.
func (k *keyFlags) load(c config.CertificateContent) (crypto.PrivateKey, crypto.PrivateKey, error) {
	var subjectKey crypto.PrivateKey
	var err error

	if len(k.key) > 0 {
		subjectKey, err = readKey(k.key)
		if err != nil {
			return nil, nil, err
		}
	} else {
		subjectKey, err = generator.GenerateKey(c)
		if err != nil {
			return nil, nil, err
		}
		logging.Infof("generated %v key for '%v'", c.KeyAlgorithm, c.Subject)

		if len(k.keyOut) > 0 {
			if err := writeKey(k.keyOut, subjectKey); err != nil {
				return nil, nil, err
			}
		} else {
			logging.Warning("generated subject key is not stored, use --key-out to keep it")
		}
	}

	issuerKey := subjectKey
	if len(k.issuerKey) > 0 {
		issuerKey, err = readKey(k.issuerKey)
		if err != nil {
			return nil, nil, err
		}
	}

	return subjectKey, issuerKey, nil
}

func newIssueCommand() *cobra.Command {
	var kf keyFlags
	var format, out string

	cmd := &cobra.Command{
		Use:   "issue <config>",
		Short: "Build and sign a certificate",
		Long: `Builds the certificate described by the configuration file and signs it
with the issuer key. Without an issuer key the certificate is self-signed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readConfig(args[0])
			if err != nil {
				return err
			}

			subjectKey, issuerKey, err := kf.load(*c)
			if err != nil {
				return err
			}

			certificate, err := generator.Issue(*c, subjectKey, issuerKey)
			if err != nil {
				return err
			}

			data, err := encodeCertificate(certificate, format)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, data)
		},
	}

	kf.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", formatPEM, "output format ("+strings.Join(formats, "|")+")")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	return cmd
}

func newTBSCommand() *cobra.Command {
	var kf keyFlags
	var issuerPub, out string

	cmd := &cobra.Command{
		Use:   "tbs <config>",
		Short: "Print the unsigned TBSCertificate as hex",
		Long: `Builds the certificate described by the configuration file without signing it.
The DER encoded TBSCertificate is printed as hex, so it can be signed elsewhere.
The signature algorithm is derived from the issuer key, unless the
configuration names one. Use 'attach' to complete the certificate.

If the issuer key is not at hand (e.g. it lives in an HSM), pass its public
key or certificate with --issuer-pub instead of --issuer-key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readConfig(args[0])
			if err != nil {
				return err
			}

			subjectKey, issuerKey, err := kf.load(*c)
			if err != nil {
				return err
			}

			var certificate *cert.Certificate
			if len(issuerPub) > 0 {
				pub, err := readPublicKey(issuerPub)
				if err != nil {
					return err
				}
				subjectPub, err := keys.PublicKey(subjectKey)
				if err != nil {
					return err
				}
				certificate, err = generator.PrepareOffline(*c, subjectPub, pub)
				if err != nil {
					return err
				}
			} else {
				certificate, err = generator.Prepare(*c, subjectKey, issuerKey)
				if err != nil {
					return err
				}
			}

			return writeOutput(cmd, out, []byte(hex.EncodeToString(certificate.TBS().Raw())+"\n"))
		},
	}

	kf.register(cmd)
	cmd.Flags().StringVar(&issuerPub, "issuer-pub", "", "PEM file with the issuer public key or certificate")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.MarkFlagsMutuallyExclusive("issuer-key", "issuer-pub")

	return cmd
}

func readHexFile(cmd *cobra.Command, path string) ([]byte, error) {
	r := cmd.InOrStdin()
	if path != "-" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	data, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func newAttachCommand() *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "attach <tbs-hex-file> <signature-hex>",
		Short: "Attach a signature to an unsigned certificate",
		Long: `Reads a hex encoded TBSCertificate as printed by 'tbs' ('-' reads stdin)
and completes it with the supplied hex encoded signature.
The signature is not verified.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbsDER, err := readHexFile(cmd, args[0])
			if err != nil {
				return err
			}

			t, err := tbs.Parse(tbsDER)
			if err != nil {
				return err
			}

			certificate, err := cert.New(t)
			if err != nil {
				return err
			}

			if err := certificate.SetSignatureHex(args[1]); err != nil {
				return err
			}

			data, err := encodeCertificate(certificate, format)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, data)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatPEM, "output format ("+strings.Join(formats, "|")+")")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	return cmd
}
