package v1

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/wokdav/certsign/generator/config"
	"github.com/wokdav/certsign/generator/ext"
	"github.com/wokdav/certsign/generator/keys"
)

func extensionContext(t *testing.T) config.ExtensionContext {
	t.Helper()
	priv, err := keys.Generate(keys.P256, rand.Reader)
	if err != nil {
		t.Fatal(err.Error())
	}
	pki, err := keys.PublicKeyInfo(priv)
	if err != nil {
		t.Fatal(err.Error())
	}
	return config.ExtensionContext{SubjectPublicKey: pki, IssuerPublicKey: pki}
}

func singleExtension(t *testing.T, yamlExtension string) config.ExtensionConfig {
	t.Helper()
	content := parse(t, "version: 1\nsubject: CN=Test\nextensions:\n  - "+yamlExtension)
	if len(content.Extensions) != 1 {
		t.Fatalf("expected a single extension, got %d", len(content.Extensions))
	}
	return content.Extensions[0]
}

func TestExtensionContent(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		critical bool
		value    string
	}{
		{"basic constraints empty", "basicConstraints: {}", false, "3000"},
		{"basic constraints ca", "basicConstraints: {critical: true, ca: true}", true, "30030101ff"},
		{"basic constraints path", "basicConstraints: {ca: true, pathLen: 0}", false, "30060101ff020100"},
		{"key usage", "keyUsage: {critical: true, flags: [keyCertSign, cRLSign]}", true, "03020106"},
		{"key usage digital signature", "keyUsage: {flags: [digitalSignature]}", false, "03020780"},
		{"key usage non repudiation", "keyUsage: {flags: [digitalSignature, nonRepudiation, keyEncipherment]}", false, "030205e0"},
		{"subject alt name dns", "subjectAltName: {dns: [a.example]}", false, "300b8209612e6578616d706c65"},
		{"subject alt name ip", "subjectAltName: {ip: [127.0.0.1]}", false, "300687047f000001"},
		{"extended key usage", "extendedKeyUsage: {usages: [serverAuth]}", false, "300a06082b06010505070301"},
		{"extended key usage oid", "extendedKeyUsage: {usages: [\"1.2.3\"]}", false, "300406022a03"},
		{"crl distribution points", "crlDistributionPoints: {uris: [\"http://a\"]}", false, "3010300ea00ca00a8608687474703a2f2f61"},
		{"raw override", "basicConstraints: {ca: true, raw: \"!hex:3000\"}", false, "3000"},
		{"raw critical override", "keyUsage: {critical: true, raw: \"!null\"}", true, "0500"},
		{"raw extension", "raw: {oid: \"1.2.3.4\", critical: true, content: \"!binary:BQA=\"}", true, "0500"},
		{"raw extension empty", "raw: {oid: \"1.2.3.4\", content: \"!empty\"}", false, ""},
	}

	ctx := extensionContext(t)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e, err := singleExtension(t, test.yaml).Build(ctx)
			if err != nil {
				t.Fatal(err.Error())
			}
			if e.Critical != test.critical {
				t.Errorf("expected critical=%v", test.critical)
			}
			if got := hex.EncodeToString(e.Value); got != test.value {
				t.Errorf("expected %v, got %v", test.value, got)
			}
		})
	}
}

func TestExtensionOids(t *testing.T) {
	tests := map[string]string{
		"basicConstraints: {}":                                      ext.OidBasicConstraints.String(),
		"keyUsage: {flags: [cRLSign]}":                              ext.OidKeyUsage.String(),
		"subjectAltName: {uri: [\"urn:x\"]}":                        ext.OidSubjectAltName.String(),
		"extendedKeyUsage: {usages: [clientAuth]}":                  ext.OidExtendedKeyUsage.String(),
		"subjectKeyIdentifier: {}":                                  ext.OidSubjectKeyIdentifier.String(),
		"authorityKeyIdentifier: {}":                                ext.OidAuthorityKeyIdentifier.String(),
		"certificatePolicies: {policies: [{oid: \"2.5.29.32.0\"}]}": ext.OidCertificatePolicies.String(),
		"authorityInfoAccess: {ocsp: [\"http://ocsp\"]}":            ext.OidAuthorityInfoAccess.String(),
		"crlDistributionPoints: {uris: [\"http://crl\"]}":           ext.OidCRLDistributionPoints.String(),
		"raw: {oid: \"1.2.3.4\", content: \"!null\"}":               "1.2.3.4",
	}

	ctx := extensionContext(t)
	for yamlExtension, want := range tests {
		t.Run(yamlExtension, func(t *testing.T) {
			cfg := singleExtension(t, yamlExtension)
			if cfg.Oid().String() != want {
				t.Fatalf("expected oid %v, got %v", want, cfg.Oid())
			}

			e, err := cfg.Build(ctx)
			if err != nil {
				t.Fatal(err.Error())
			}
			if e.ID.String() != want {
				t.Fatalf("built extension has oid %v, expected %v", e.ID, want)
			}
		})
	}
}

func TestKeyIdentifiers(t *testing.T) {
	ctx := extensionContext(t)
	issuer := extensionContext(t)
	ctx.IssuerPublicKey = issuer.SubjectPublicKey

	ski, err := singleExtension(t, "subjectKeyIdentifier: {critical: true}").Build(ctx)
	if err != nil {
		t.Fatal(err.Error())
	}
	want, err := ext.SubjectKeyIdentifier(ctx.SubjectPublicKey)
	if err != nil {
		t.Fatal(err.Error())
	}
	if !bytes.Equal(ski.Value, want.Value) || !ski.Critical {
		t.Errorf("unexpected subject key identifier %x", ski.Value)
	}

	aki, err := singleExtension(t, "authorityKeyIdentifier: {}").Build(ctx)
	if err != nil {
		t.Fatal(err.Error())
	}
	want, err = ext.AuthorityKeyIdentifier(ctx.IssuerPublicKey)
	if err != nil {
		t.Fatal(err.Error())
	}
	if !bytes.Equal(aki.Value, want.Value) || aki.Critical {
		t.Errorf("unexpected authority key identifier %x", aki.Value)
	}

	if bytes.Equal(ski.Value[2:], aki.Value[4:]) {
		t.Error("identifiers of different keys must differ")
	}
}

func TestExtensionBuildErrors(t *testing.T) {
	tests := map[string]string{
		"no alt names":    "subjectAltName: {}",
		"invalid ip":      "subjectAltName: {ip: [\"256.0.0.1\"]}",
		"non ascii dns":   "subjectAltName: {dns: [\"bücher.example\"]}",
		"unknown eku":     "extendedKeyUsage: {usages: [everything]}",
		"no aia":          "authorityInfoAccess: {}",
		"no crldp":        "crlDistributionPoints: {}",
		"no key usage":    "keyUsage: {}",
		"ski without key": "subjectKeyIdentifier: {}",
		"aki without key": "authorityKeyIdentifier: {}",
		"no policies":     "certificatePolicies: {}",
	}

	for name, yamlExtension := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := singleExtension(t, yamlExtension).Build(config.ExtensionContext{}); err == nil {
				t.Fatal("this should fail")
			}
		})
	}
}

func TestParseExtensionsRejectsAmbiguity(t *testing.T) {
	_, err := parseExtensions([]AnyExtension{{
		BasicConstraints: &BasicConstraints{},
		KeyUsage:         &KeyUsage{},
	}})
	if err == nil {
		t.Fatal("two extensions in one item should fail")
	}

	if _, err := parseExtensions([]AnyExtension{{}}); err == nil {
		t.Fatal("an empty item should fail")
	}

	out, err := parseExtensions(nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("expected no extensions, got %v, %v", out, err)
	}
}
