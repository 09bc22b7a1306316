package ext

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/wokdav/certsign/generator/der"
	"github.com/wokdav/certsign/generator/tbs"
)

var testSigAlg = tbs.AlgorithmIdentifier{Algorithm: asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}}

func testPublicKey(t *testing.T) tbs.PublicKeyInfo {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err.Error())
	}
	pki, err := tbs.PublicKeyInfoFor(&priv.PublicKey)
	if err != nil {
		t.Fatal(err.Error())
	}

	return pki
}

// parseWithExtensions lets crypto/x509 interpret the extensions. The
// signature is garbage, since parsing doesn't check it.
func parseWithExtensions(t *testing.T, exts ...tbs.Extension) *x509.Certificate {
	t.Helper()

	b := tbs.NewBuilder().
		SetSerialNumber(big.NewInt(1)).
		SetSignatureAlgorithm(testSigAlg).
		SetIssuer(tbs.MustParseName("CN=Test")).
		SetSubject(tbs.MustParseName("CN=Test")).
		SetValidity(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)).
		SetPublicKey(testPublicKey(t))
	for _, e := range exts {
		b.AddExtension(e)
	}

	t1, err := b.Build()
	if err != nil {
		t.Fatal(err.Error())
	}

	cert := der.MustEncode(der.Sequence{
		der.Raw(t1.Raw()),
		testSigAlg.Value(),
		der.Bits([]byte{0x30, 0x00}),
	})

	parsed, err := x509.ParseCertificate(cert)
	if err != nil {
		t.Fatalf("crypto/x509 rejects the extensions: %v", err)
	}

	return parsed
}

func TestKeyIdentifiers(t *testing.T) {
	pki := testPublicKey(t)

	ski, err := SubjectKeyIdentifier(pki)
	if err != nil {
		t.Fatal(err.Error())
	}
	aki, err := AuthorityKeyIdentifier(pki)
	if err != nil {
		t.Fatal(err.Error())
	}

	cert := parseWithExtensions(t, ski, aki)
	if !bytes.Equal(cert.SubjectKeyId, KeyID(pki)) {
		t.Fatalf("expected ski %x, got %x", KeyID(pki), cert.SubjectKeyId)
	}
	if !bytes.Equal(cert.AuthorityKeyId, KeyID(pki)) {
		t.Fatalf("expected aki %x, got %x", KeyID(pki), cert.AuthorityKeyId)
	}
	if len(cert.SubjectKeyId) != 20 {
		t.Fatalf("expected a SHA-1 sized identifier, got %v bytes", len(cert.SubjectKeyId))
	}

	if _, err := SubjectKeyIdentifier(tbs.PublicKeyInfo{}); err == nil {
		t.Fatal("empty key should fail")
	}
	if _, err := AuthorityKeyIdentifierFromID(nil); err == nil {
		t.Fatal("empty identifier should fail")
	}
}

func TestKeyUsageEncoding(t *testing.T) {
	tests := []struct {
		flags KeyUsage
		want  string
	}{
		{DigitalSignature, "03020780"},
		{KeyCertSign | CRLSign, "03020106"},
		{DigitalSignature | KeyEncipherment, "030205a0"},
		{DecipherOnly, "0303070080"},
		{DigitalSignature | DecipherOnly, "0303078080"},
	}

	for _, test := range tests {
		e, err := NewKeyUsage(true, test.flags)
		if err != nil {
			t.Fatal(err.Error())
		}
		if got := hex.EncodeToString(e.Value); got != test.want {
			t.Fatalf("flags %b: expected %v, got %v", test.flags, test.want, got)
		}
		if !e.Critical {
			t.Fatal("critical flag got lost")
		}
	}

	if _, err := NewKeyUsage(false, 0); err == nil {
		t.Fatal("empty key usage should fail")
	}
}

func TestKeyUsageMatchesX509(t *testing.T) {
	flags := DigitalSignature | ContentCommitment | KeyCertSign | CRLSign
	e, err := NewKeyUsage(true, flags)
	if err != nil {
		t.Fatal(err.Error())
	}

	cert := parseWithExtensions(t, e)
	if cert.KeyUsage != x509.KeyUsage(flags) {
		t.Fatalf("expected %b, got %b", flags, cert.KeyUsage)
	}
}

func TestParseKeyUsage(t *testing.T) {
	for i, name := range keyUsageNames {
		ku, err := ParseKeyUsage(name)
		if err != nil {
			t.Fatal(err.Error())
		}
		if ku != KeyUsage(1<<i) {
			t.Fatalf("%v: expected %b, got %b", name, 1<<i, ku)
		}
	}

	if ku, err := ParseKeyUsage("NonRepudiation"); err != nil || ku != ContentCommitment {
		t.Fatalf("expected content commitment, got %v, %v", ku, err)
	}
	if _, err := ParseKeyUsage("everything"); err == nil {
		t.Fatal("this should fail")
	}
}

func TestBasicConstraints(t *testing.T) {
	tests := []struct {
		name    string
		isCA    bool
		pathLen int
		want    string
	}{
		{"end entity", false, -1, "3000"},
		{"ca", true, -1, "30030101ff"},
		{"ca pathlen 0", true, 0, "30060101ff020100"},
		{"ca pathlen 3", true, 3, "30060101ff020103"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e, err := NewBasicConstraints(true, test.isCA, test.pathLen)
			if err != nil {
				t.Fatal(err.Error())
			}
			if got := hex.EncodeToString(e.Value); got != test.want {
				t.Fatalf("expected %v, got %v", test.want, got)
			}

			cert := parseWithExtensions(t, e)
			if cert.IsCA != test.isCA || !cert.BasicConstraintsValid {
				t.Fatalf("expected ca=%v, got %v", test.isCA, cert.IsCA)
			}
			if test.pathLen >= 0 && cert.MaxPathLen != test.pathLen {
				t.Fatalf("expected path length %v, got %v", test.pathLen, cert.MaxPathLen)
			}
			if test.pathLen == 0 && !cert.MaxPathLenZero {
				t.Fatal("path length zero got lost")
			}
		})
	}
}

func TestSubjectAltName(t *testing.T) {
	e, err := NewSubjectAltName(false,
		DNSName("example.com"),
		EmailAddress("mail@example.com"),
		URI("https://example.com/path"),
		IPAddress(net.ParseIP("192.168.0.1")),
		IPAddress(net.ParseIP("2001:db8::1")),
		DirectoryName(tbs.MustParseName("CN=Alt,O=Org")),
	)
	if err != nil {
		t.Fatal(err.Error())
	}

	cert := parseWithExtensions(t, e)
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "example.com" {
		t.Fatalf("unexpected dns names %v", cert.DNSNames)
	}
	if len(cert.EmailAddresses) != 1 || cert.EmailAddresses[0] != "mail@example.com" {
		t.Fatalf("unexpected email addresses %v", cert.EmailAddresses)
	}
	if len(cert.URIs) != 1 || cert.URIs[0].Host != "example.com" {
		t.Fatalf("unexpected uris %v", cert.URIs)
	}
	if len(cert.IPAddresses) != 2 || !cert.IPAddresses[0].Equal(net.ParseIP("192.168.0.1")) ||
		!cert.IPAddresses[1].Equal(net.ParseIP("2001:db8::1")) {
		t.Fatalf("unexpected ip addresses %v", cert.IPAddresses)
	}
	// the four byte form has to be used for ipv4
	if !bytes.Contains(e.Value, []byte{0x87, 0x04, 192, 168, 0, 1}) {
		t.Fatal("ipv4 address isn't encoded in four bytes")
	}
}

func TestSubjectAltNameErrors(t *testing.T) {
	tests := map[string][]GeneralName{
		"empty":      {},
		"nil":        {nil},
		"non-ascii":  {DNSName("exämple.com")},
		"invalid ip": {IPAddress([]byte{1, 2, 3})},
	}

	for name, names := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewSubjectAltName(false, names...); err == nil {
				t.Fatal("this should fail")
			}
		})
	}
}

func TestExtendedKeyUsage(t *testing.T) {
	oids := []asn1.ObjectIdentifier{}
	for k := ServerAuth; k < extKeyUsageLen; k++ {
		oid, ok := k.Oid()
		if !ok {
			t.Fatalf("no oid for %v", k)
		}
		oids = append(oids, oid)
	}

	e, err := NewExtendedKeyUsage(false, oids...)
	if err != nil {
		t.Fatal(err.Error())
	}

	cert := parseWithExtensions(t, e)
	want := []x509.ExtKeyUsage{
		x509.ExtKeyUsageServerAuth,
		x509.ExtKeyUsageClientAuth,
		x509.ExtKeyUsageCodeSigning,
		x509.ExtKeyUsageEmailProtection,
		x509.ExtKeyUsageTimeStamping,
		x509.ExtKeyUsageOCSPSigning,
	}
	if len(cert.ExtKeyUsage) != len(want) {
		t.Fatalf("expected %v, got %v", want, cert.ExtKeyUsage)
	}
	for i := range want {
		if cert.ExtKeyUsage[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cert.ExtKeyUsage)
		}
	}

	if _, ok := extKeyUsageLen.Oid(); ok {
		t.Fatal("out of range usage must not have an oid")
	}
	if _, err := NewExtendedKeyUsage(false); err == nil {
		t.Fatal("empty usage list should fail")
	}
}

func TestParseExtKeyUsage(t *testing.T) {
	oid, err := ParseExtKeyUsage("serverauth")
	if err != nil {
		t.Fatal(err.Error())
	}
	if !oid.Equal(asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}) {
		t.Fatalf("unexpected oid %v", oid)
	}

	oid, err = ParseExtKeyUsage("1.2.3.4")
	if err != nil {
		t.Fatal(err.Error())
	}
	if !oid.Equal(asn1.ObjectIdentifier{1, 2, 3, 4}) {
		t.Fatalf("unexpected oid %v", oid)
	}

	if _, err := ParseExtKeyUsage("nothing"); err == nil {
		t.Fatal("this should fail")
	}
}

func TestCertificatePolicies(t *testing.T) {
	e, err := NewCertificatePolicies(false,
		PolicyInfo{ID: asn1.ObjectIdentifier{2, 23, 140, 1, 2, 1}},
		PolicyInfo{ID: asn1.ObjectIdentifier{1, 2, 3, 4}, CPS: "https://example.com/cps", ExplicitText: "Hello"},
	)
	if err != nil {
		t.Fatal(err.Error())
	}

	cert := parseWithExtensions(t, e)
	if len(cert.PolicyIdentifiers) != 2 || !cert.PolicyIdentifiers[1].Equal(asn1.ObjectIdentifier{1, 2, 3, 4}) {
		t.Fatalf("unexpected policies %v", cert.PolicyIdentifiers)
	}
	if !bytes.Contains(e.Value, []byte("https://example.com/cps")) || !bytes.Contains(e.Value, []byte("Hello")) {
		t.Fatal("qualifiers are missing")
	}

	if _, err := NewCertificatePolicies(false); err == nil {
		t.Fatal("empty policies should fail")
	}
}

func TestAuthorityInfoAccess(t *testing.T) {
	e, err := NewAuthorityInfoAccess(false, []string{"http://ocsp.example.com"}, []string{"http://example.com/ca.cer"})
	if err != nil {
		t.Fatal(err.Error())
	}

	cert := parseWithExtensions(t, e)
	if len(cert.OCSPServer) != 1 || cert.OCSPServer[0] != "http://ocsp.example.com" {
		t.Fatalf("unexpected ocsp servers %v", cert.OCSPServer)
	}
	if len(cert.IssuingCertificateURL) != 1 || cert.IssuingCertificateURL[0] != "http://example.com/ca.cer" {
		t.Fatalf("unexpected issuer urls %v", cert.IssuingCertificateURL)
	}

	if _, err := NewAuthorityInfoAccess(false, nil, nil); err == nil {
		t.Fatal("empty access list should fail")
	}
}

func TestCRLDistributionPoints(t *testing.T) {
	uris := []string{"http://example.com/a.crl", "ldap://example.com/b"}
	e, err := NewCRLDistributionPoints(false, uris...)
	if err != nil {
		t.Fatal(err.Error())
	}

	cert := parseWithExtensions(t, e)
	if len(cert.CRLDistributionPoints) != 2 || cert.CRLDistributionPoints[0] != uris[0] || cert.CRLDistributionPoints[1] != uris[1] {
		t.Fatalf("unexpected distribution points %v", cert.CRLDistributionPoints)
	}

	if _, err := NewCRLDistributionPoints(false); err == nil {
		t.Fatal("empty list should fail")
	}
}

func TestRaw(t *testing.T) {
	content := []byte{0x05, 0x00}
	e := Raw(asn1.ObjectIdentifier{1, 2, 3}, true, content)
	content[0] = 0xff

	if e.Value[0] != 0x05 || !e.Critical {
		t.Fatal("raw extension must keep its own copy")
	}
}
