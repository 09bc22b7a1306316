package cli

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wokdav/certsign/generator/cert"
	"github.com/wokdav/certsign/generator/keys"
	"github.com/wokdav/certsign/generator/signer"
	"github.com/wokdav/certsign/logging"
)

const testConfig = `version: 1
serialNumber: 7
subject: "CN=cli.example"
validity:
  from: "2024-01-01"
  until: "1y"
keyAlgorithm: P-256
extensions:
  - basicConstraints: {critical: true, ca: true}
  - subjectAltName: {dns: [cli.example]}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err.Error())
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	return stdout.String(), err
}

func parseOutput(t *testing.T, pemString string) *x509.Certificate {
	t.Helper()
	certDER, err := cert.FromPEM(pemString)
	if err != nil {
		t.Fatal(err.Error())
	}
	c, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatal(err.Error())
	}
	return c
}

func TestIssue(t *testing.T) {
	cfg := writeFile(t, "cert.yaml", testConfig)
	keyOut := filepath.Join(t.TempDir(), "key.pem")

	out, err := run(t, "issue", cfg, "--key-out", keyOut)
	if err != nil {
		t.Fatal(err.Error())
	}

	c := parseOutput(t, out)
	if c.Subject.CommonName != "cli.example" || c.SerialNumber.Int64() != 7 {
		t.Fatalf("unexpected certificate %v / %v", c.Subject, c.SerialNumber)
	}
	if err := c.CheckSignatureFrom(c); err != nil {
		t.Fatal(err.Error())
	}

	// the stored key belongs to the certificate
	keyPEM, err := os.ReadFile(keyOut)
	if err != nil {
		t.Fatal(err.Error())
	}
	key, err := keys.ReadPrivateKeyPEM(keyPEM)
	if err != nil {
		t.Fatal(err.Error())
	}
	pki, err := keys.PublicKeyInfo(key)
	if err != nil {
		t.Fatal(err.Error())
	}
	spki, err := pki.Encode()
	if err != nil {
		t.Fatal(err.Error())
	}
	if !bytes.Equal(spki, c.RawSubjectPublicKeyInfo) {
		t.Fatal("stored key does not match the certificate")
	}
}

func TestIssueFormats(t *testing.T) {
	cfg := writeFile(t, "cert.yaml", testConfig)
	key := writeKeyFile(t)

	pemOut, err := run(t, "issue", cfg, "--key", key)
	if err != nil {
		t.Fatal(err.Error())
	}
	want := parseOutput(t, pemOut).Raw

	hexOut, err := run(t, "issue", cfg, "--key", key, "--format", "hex")
	if err != nil {
		t.Fatal(err.Error())
	}
	if _, err := hex.DecodeString(strings.TrimSpace(hexOut)); err != nil {
		t.Fatalf("output is not hex: %v", err)
	}
	if strings.ToLower(hexOut) != hexOut {
		t.Fatal("hex output must be lowercase")
	}

	derPath := filepath.Join(t.TempDir(), "cert.der")
	if _, err := run(t, "issue", cfg, "--key", key, "--format", "der", "--out", derPath); err != nil {
		t.Fatal(err.Error())
	}
	derOut, err := os.ReadFile(derPath)
	if err != nil {
		t.Fatal(err.Error())
	}
	c, err := x509.ParseCertificate(derOut)
	if err != nil {
		t.Fatal(err.Error())
	}

	// ecdsa signatures differ, the content doesn't
	if !bytes.Equal(c.RawTBSCertificate, parseOutputTBS(t, want)) {
		t.Fatal("formats contain different certificates")
	}

	if _, err := run(t, "issue", cfg, "--key", key, "--format", "txt"); err == nil {
		t.Fatal("unknown formats should fail")
	}
}

func parseOutputTBS(t *testing.T, certDER []byte) []byte {
	t.Helper()
	c, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatal(err.Error())
	}
	return c.RawTBSCertificate
}

func writeKeyFile(t *testing.T) string {
	t.Helper()
	key, err := keys.Generate(keys.P256, rand.Reader)
	if err != nil {
		t.Fatal(err.Error())
	}

	path := filepath.Join(t.TempDir(), "key.pem")
	if err := writeKey(path, key); err != nil {
		t.Fatal(err.Error())
	}
	return path
}

func TestTBSAndAttach(t *testing.T) {
	cfg := writeFile(t, "cert.yaml", testConfig)
	keyPath := writeKeyFile(t)

	tbsHex, err := run(t, "tbs", cfg, "--key", keyPath)
	if err != nil {
		t.Fatal(err.Error())
	}
	tbsDER, err := hex.DecodeString(strings.TrimSpace(tbsHex))
	if err != nil {
		t.Fatal(err.Error())
	}

	// sign elsewhere
	key, err := readKey(keyPath)
	if err != nil {
		t.Fatal(err.Error())
	}
	signingKey, err := signer.FromPrivateKey(key, signer.ECDSAwithSHA256)
	if err != nil {
		t.Fatal(err.Error())
	}
	signature, err := signer.DefaultEngine().Sign(tbsDER, signingKey)
	if err != nil {
		t.Fatal(err.Error())
	}

	tbsFile := writeFile(t, "tbs.hex", tbsHex)
	out, err := run(t, "attach", tbsFile, hex.EncodeToString(signature.Value))
	if err != nil {
		t.Fatal(err.Error())
	}

	c := parseOutput(t, out)
	if !bytes.Equal(c.RawTBSCertificate, tbsDER) {
		t.Fatal("tbs was modified")
	}
	if err := c.CheckSignatureFrom(c); err != nil {
		t.Fatal(err.Error())
	}
}

func TestAttachErrors(t *testing.T) {
	tests := map[string][]string{
		"missing file":  {"attach", filepath.Join(t.TempDir(), "missing"), "00"},
		"no hex":        {"attach", writeFile(t, "tbs.hex", "xyz"), "00"},
		"no tbs":        {"attach", writeFile(t, "tbs.hex", "3000"), "00"},
		"too many args": {"attach", "a", "b", "c"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := run(t, args...); err == nil {
				t.Fatal("this should fail")
			}
		})
	}
}

func TestIssueErrors(t *testing.T) {
	tests := map[string][]string{
		"missing config": {"issue", filepath.Join(t.TempDir(), "missing.yaml")},
		"invalid config": {"issue", writeFile(t, "cert.yaml", "version: 1\nsubject: 3")},
		"missing key":    {"issue", writeFile(t, "cert.yaml", testConfig), "--key", "missing.pem"},
		"invalid key":    {"issue", writeFile(t, "cert.yaml", testConfig), "--key", writeFile(t, "key.pem", "no key")},
		"no args":        {"issue"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := run(t, args...); err == nil {
				t.Fatal("this should fail")
			}
		})
	}
}

func TestDocExample(t *testing.T) {
	out, err := run(t, "doc", "example")
	if err != nil {
		t.Fatal(err.Error())
	}
	if !strings.Contains(out, "version: 1") {
		t.Fatalf("unexpected example:\n%v", out)
	}

	if _, err := run(t, "doc", "example", "--config-version", "12345"); err == nil {
		t.Fatal("unknown versions should fail")
	}
}

const leafTestConfig = `version: 1
subject: "CN=leaf.cli.example"
issuer: "CN=cli.example"
validity:
  from: "2024-01-01"
  until: "1y"
keyAlgorithm: P-256
extensions:
  - authorityKeyIdentifier: {}
`

func TestTBSWithIssuerPublicKey(t *testing.T) {
	caKeyPath := writeKeyFile(t)
	caPEM, err := run(t, "issue", writeFile(t, "ca.yaml", testConfig), "--key", caKeyPath)
	if err != nil {
		t.Fatal(err.Error())
	}
	ca := parseOutput(t, caPEM)

	caKey, err := readKey(caKeyPath)
	if err != nil {
		t.Fatal(err.Error())
	}
	pki, err := keys.PublicKeyInfo(caKey)
	if err != nil {
		t.Fatal(err.Error())
	}
	spki, err := pki.Encode()
	if err != nil {
		t.Fatal(err.Error())
	}

	tests := map[string]string{
		"public key":  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki})),
		"certificate": caPEM,
	}

	for name, issuerPub := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := writeFile(t, "leaf.yaml", leafTestConfig)
			tbsHex, err := run(t, "tbs", cfg, "--key", writeKeyFile(t), "--issuer-pub", writeFile(t, "issuer.pem", issuerPub))
			if err != nil {
				t.Fatal(err.Error())
			}
			tbsDER, err := hex.DecodeString(strings.TrimSpace(tbsHex))
			if err != nil {
				t.Fatal(err.Error())
			}

			// the ca signs elsewhere
			signingKey, err := signer.FromPrivateKey(caKey, signer.ECDSAwithSHA256)
			if err != nil {
				t.Fatal(err.Error())
			}
			signature, err := signer.DefaultEngine().Sign(tbsDER, signingKey)
			if err != nil {
				t.Fatal(err.Error())
			}

			out, err := run(t, "attach", writeFile(t, "tbs.hex", tbsHex), hex.EncodeToString(signature.Value))
			if err != nil {
				t.Fatal(err.Error())
			}

			leaf := parseOutput(t, out)
			if err := leaf.CheckSignatureFrom(ca); err != nil {
				t.Fatal(err.Error())
			}
			if len(leaf.AuthorityKeyId) == 0 {
				t.Fatal("authority key identifier is missing")
			}
		})
	}
}

func TestTBSErrors(t *testing.T) {
	cfg := writeFile(t, "cert.yaml", testConfig)
	key := writeKeyFile(t)

	tests := map[string][]string{
		"private key as public": {"tbs", cfg, "--key", key, "--issuer-pub", key},
		"missing public key":    {"tbs", cfg, "--key", key, "--issuer-pub", filepath.Join(t.TempDir(), "missing.pem")},
		"both issuer keys":      {"tbs", cfg, "--key", key, "--issuer-key", key, "--issuer-pub", key},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := run(t, args...); err == nil {
				t.Fatal("this should fail")
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cfg := writeFile(t, "cert.yaml", testConfig)
	key := writeKeyFile(t)
	defer logging.Initialize(logging.LevelWarning, nil, nil)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"issue", cfg, "--key", key, "--log-level", "debug"})
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err.Error())
	}

	if !strings.Contains(stderr.String(), "DEBUG: ") {
		t.Fatalf("expected debug logs, got:\n%v", stderr.String())
	}
	if strings.Contains(stdout.String(), "DEBUG: ") {
		t.Fatal("logs must not end up in the certificate output")
	}

	if _, err := run(t, "issue", cfg, "--key", key, "--log-level", "loud"); err == nil {
		t.Fatal("unknown log levels should fail")
	}
}
