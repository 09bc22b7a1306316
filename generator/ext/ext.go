// Package ext creates the certificate extensions of RFC 5280.
//
// Every constructor returns a [tbs.Extension] that can be passed to
// [tbs.Builder.AddExtension] directly. The content is always encoded in DER.
package ext

import (
	"crypto/sha1"
	"encoding/asn1"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/wokdav/certsign/generator/der"
	"github.com/wokdav/certsign/generator/tbs"
)

var (
	OidSubjectKeyIdentifier   = asn1.ObjectIdentifier{2, 5, 29, 14}
	OidKeyUsage               = asn1.ObjectIdentifier{2, 5, 29, 15}
	OidSubjectAltName         = asn1.ObjectIdentifier{2, 5, 29, 17}
	OidBasicConstraints       = asn1.ObjectIdentifier{2, 5, 29, 19}
	OidCRLDistributionPoints  = asn1.ObjectIdentifier{2, 5, 29, 31}
	OidCertificatePolicies    = asn1.ObjectIdentifier{2, 5, 29, 32}
	OidAuthorityKeyIdentifier = asn1.ObjectIdentifier{2, 5, 29, 35}
	OidExtendedKeyUsage       = asn1.ObjectIdentifier{2, 5, 29, 37}
	OidAuthorityInfoAccess    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}
)

var (
	oidAccessOcsp      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1}
	oidAccessCaIssuers = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 2}
	oidQualifierCps    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 2, 1}
	oidQualifierNotice = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 2, 2}
)

func newExtension(id asn1.ObjectIdentifier, critical bool, v der.Value) (tbs.Extension, error) {
	content, err := der.Encode(v)
	if err != nil {
		return tbs.Extension{}, fmt.Errorf("ext: can't encode extension %v: %w", id, err)
	}

	return tbs.Extension{ID: id, Critical: critical, Value: content}, nil
}

// Raw creates an extension with arbitrary, pre-encoded content.
// The content doesn't have to be valid DER.
func Raw(id asn1.ObjectIdentifier, critical bool, content []byte) tbs.Extension {
	return tbs.Extension{ID: id, Critical: critical, Value: append([]byte(nil), content...)}
}

// KeyID computes a key identifier as the SHA-1 hash of the subjectPublicKey
// bits (method 1 of RFC 5280, section 4.2.1.2).
func KeyID(pki tbs.PublicKeyInfo) []byte {
	sum := sha1.Sum(pki.PublicKey)
	return sum[:]
}

// SubjectKeyIdentifier is never critical.
func SubjectKeyIdentifier(pki tbs.PublicKeyInfo) (tbs.Extension, error) {
	if len(pki.PublicKey) == 0 {
		return tbs.Extension{}, errors.New("ext: public key is empty, hash would be pointless")
	}

	return newExtension(OidSubjectKeyIdentifier, false, der.OctetString(KeyID(pki)))
}

// AuthorityKeyIdentifier derives the key identifier from the issuer's key.
func AuthorityKeyIdentifier(issuer tbs.PublicKeyInfo) (tbs.Extension, error) {
	if len(issuer.PublicKey) == 0 {
		return tbs.Extension{}, errors.New("ext: issuer public key is empty, hash would be pointless")
	}

	return AuthorityKeyIdentifierFromID(KeyID(issuer))
}

// AuthorityKeyIdentifierFromID uses id verbatim, e.g. the subject key
// identifier taken from the issuer certificate.
func AuthorityKeyIdentifierFromID(id []byte) (tbs.Extension, error) {
	if len(id) == 0 {
		return tbs.Extension{}, errors.New("ext: empty key identifier")
	}

	return newExtension(OidAuthorityKeyIdentifier, false, der.Sequence{der.Implicit{Tag: 0, Bytes: id}})
}

type KeyUsage uint16

// The values are the same as in crypto/x509.
const (
	DigitalSignature KeyUsage = 1 << iota
	ContentCommitment
	KeyEncipherment
	DataEncipherment
	KeyAgreement
	KeyCertSign
	CRLSign
	EncipherOnly
	DecipherOnly
)

// NonRepudiation is the old name of ContentCommitment.
const NonRepudiation = ContentCommitment

const keyUsageMask = DecipherOnly<<1 - 1

var keyUsageNames = []string{
	"digitalSignature",
	"contentCommitment",
	"keyEncipherment",
	"dataEncipherment",
	"keyAgreement",
	"keyCertSign",
	"cRLSign",
	"encipherOnly",
	"decipherOnly",
}

// ParseKeyUsage resolves a flag name as written in RFC 5280
// (e.g. "keyCertSign"). "nonRepudiation" is accepted as well.
func ParseKeyUsage(s string) (KeyUsage, error) {
	if strings.EqualFold(s, "nonRepudiation") {
		return NonRepudiation, nil
	}

	for i, name := range keyUsageNames {
		if strings.EqualFold(name, s) {
			return KeyUsage(1 << i), nil
		}
	}

	return 0, fmt.Errorf("ext: unknown key usage '%s'", s)
}

// bits returns the named bit list in its DER form: bit 0 is the most
// significant bit, trailing zero bits are removed.
func (k KeyUsage) bits() der.BitString {
	length := 0
	for i := 0; i < len(keyUsageNames); i++ {
		if k&(1<<i) != 0 {
			length = i + 1
		}
	}

	out := make([]byte, (length+7)/8)
	for i := 0; i < length; i++ {
		if k&(1<<i) != 0 {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}

	return der.BitString{Bytes: out, UnusedBits: len(out)*8 - length}
}

// NewKeyUsage fails if no flag is set. RFC 5280 demands at least one.
func NewKeyUsage(critical bool, flags KeyUsage) (tbs.Extension, error) {
	if flags&keyUsageMask == 0 {
		return tbs.Extension{}, errors.New("ext: key usage needs at least one flag")
	}

	return newExtension(OidKeyUsage, critical, flags.bits())
}

// NewBasicConstraints leaves out the path length if pathLen is negative.
func NewBasicConstraints(critical bool, isCA bool, pathLen int) (tbs.Extension, error) {
	seq := der.Sequence{}
	if isCA {
		seq = append(seq, der.Boolean(true))
	}
	if pathLen >= 0 {
		seq = append(seq, der.Int(pathLen))
	}

	return newExtension(OidBasicConstraints, critical, seq)
}

// GeneralName is one of the name forms of RFC 5280, section 4.2.1.6.
type GeneralName interface {
	value() (der.Value, error)
}

type (
	EmailAddress  string
	DNSName       string
	URI           string
	IPAddress     net.IP
	DirectoryName tbs.Name
)

func ia5Name(tag int, typ string, s string) (der.Value, error) {
	if !der.IsIA5(s) {
		return nil, fmt.Errorf("ext: %s '%s' contains non-ASCII characters", typ, s)
	}
	return der.Implicit{Tag: tag, Bytes: []byte(s)}, nil
}

func (e EmailAddress) value() (der.Value, error) {
	return ia5Name(1, "email address", string(e))
}

func (d DNSName) value() (der.Value, error) {
	return ia5Name(2, "dns name", string(d))
}

func (u URI) value() (der.Value, error) {
	return ia5Name(6, "uri", string(u))
}

func (ip IPAddress) value() (der.Value, error) {
	b := net.IP(ip)
	if v4 := b.To4(); v4 != nil {
		b = v4
	}
	if len(b) != net.IPv4len && len(b) != net.IPv6len {
		return nil, fmt.Errorf("ext: invalid ip address '%v'", net.IP(ip))
	}
	return der.Implicit{Tag: 7, Bytes: b}, nil
}

func (d DirectoryName) value() (der.Value, error) {
	v, err := tbs.Name(d).Value()
	if err != nil {
		return nil, err
	}
	return der.Explicit{Tag: 4, Value: v}, nil
}

func generalNames(names []GeneralName) ([]der.Value, error) {
	out := make([]der.Value, len(names))
	for i, name := range names {
		if name == nil {
			return nil, fmt.Errorf("ext: general name #%d is nil", i)
		}
		v, err := name.value()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// NewSubjectAltName needs at least one name.
func NewSubjectAltName(critical bool, names ...GeneralName) (tbs.Extension, error) {
	if len(names) == 0 {
		return tbs.Extension{}, errors.New("ext: subject alternative name must not be empty")
	}

	values, err := generalNames(names)
	if err != nil {
		return tbs.Extension{}, err
	}

	return newExtension(OidSubjectAltName, critical, der.Sequence(values))
}

type ExtKeyUsage uint

const (
	ServerAuth ExtKeyUsage = iota
	ClientAuth
	CodeSigning
	EmailProtection
	TimeStamping
	OcspSigning
	extKeyUsageLen // this must always be the last entry
)

var extKeyUsages = [extKeyUsageLen]struct {
	name string
	oid  asn1.ObjectIdentifier
}{
	ServerAuth:      {"serverAuth", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}},
	ClientAuth:      {"clientAuth", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}},
	CodeSigning:     {"codeSigning", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}},
	EmailProtection: {"emailProtection", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}},
	TimeStamping:    {"timeStamping", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}},
	OcspSigning:     {"OCSPSigning", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}},
}

// Oid returns the OID of a well-known extended key usage.
func (k ExtKeyUsage) Oid() (asn1.ObjectIdentifier, bool) {
	if k >= extKeyUsageLen {
		return nil, false
	}
	return extKeyUsages[k].oid, true
}

// ParseExtKeyUsage resolves names like "serverAuth" or dotted OIDs.
func ParseExtKeyUsage(s string) (asn1.ObjectIdentifier, error) {
	for _, usage := range extKeyUsages {
		if strings.EqualFold(usage.name, s) {
			return usage.oid, nil
		}
	}

	oid, err := tbs.OidFromString(s)
	if err != nil {
		return nil, fmt.Errorf("ext: '%s' is neither a known extended key usage nor an oid", s)
	}
	return oid, nil
}

func NewExtendedKeyUsage(critical bool, usages ...asn1.ObjectIdentifier) (tbs.Extension, error) {
	if len(usages) == 0 {
		return tbs.Extension{}, errors.New("ext: extended key usage must not be empty")
	}

	seq := make(der.Sequence, len(usages))
	for i, usage := range usages {
		seq[i] = der.ObjectIdentifier(usage)
	}

	return newExtension(OidExtendedKeyUsage, critical, seq)
}

// PolicyInfo for the Certificate Policies Extension. CPS and
// ExplicitText add the respective policy qualifiers when not empty.
type PolicyInfo struct {
	ID           asn1.ObjectIdentifier
	CPS          string
	ExplicitText string
}

func NewCertificatePolicies(critical bool, policies ...PolicyInfo) (tbs.Extension, error) {
	if len(policies) == 0 {
		return tbs.Extension{}, errors.New("ext: certificate policies must not be empty")
	}

	seq := make(der.Sequence, len(policies))
	for i, policy := range policies {
		info := der.Sequence{der.ObjectIdentifier(policy.ID)}

		qualifiers := der.Sequence{}
		if policy.CPS != "" {
			qualifiers = append(qualifiers, der.Sequence{der.ObjectIdentifier(oidQualifierCps), der.IA5String(policy.CPS)})
		}
		if policy.ExplicitText != "" {
			notice := der.Sequence{der.UTF8String(policy.ExplicitText)}
			qualifiers = append(qualifiers, der.Sequence{der.ObjectIdentifier(oidQualifierNotice), notice})
		}
		if len(qualifiers) > 0 {
			info = append(info, qualifiers)
		}

		seq[i] = info
	}

	return newExtension(OidCertificatePolicies, critical, seq)
}

// NewAuthorityInfoAccess lists OCSP responders first, then CA issuer locations.
func NewAuthorityInfoAccess(critical bool, ocsp []string, caIssuers []string) (tbs.Extension, error) {
	if len(ocsp)+len(caIssuers) == 0 {
		return tbs.Extension{}, errors.New("ext: authority information access must not be empty")
	}

	seq := der.Sequence{}
	add := func(method asn1.ObjectIdentifier, locations []string) error {
		for _, location := range locations {
			v, err := URI(location).value()
			if err != nil {
				return err
			}
			seq = append(seq, der.Sequence{der.ObjectIdentifier(method), v})
		}
		return nil
	}

	if err := add(oidAccessOcsp, ocsp); err != nil {
		return tbs.Extension{}, err
	}
	if err := add(oidAccessCaIssuers, caIssuers); err != nil {
		return tbs.Extension{}, err
	}

	return newExtension(OidAuthorityInfoAccess, critical, seq)
}

// NewCRLDistributionPoints creates one distribution point per URI, each
// identified by its full name.
func NewCRLDistributionPoints(critical bool, uris ...string) (tbs.Extension, error) {
	if len(uris) == 0 {
		return tbs.Extension{}, errors.New("ext: crl distribution points must not be empty")
	}

	seq := make(der.Sequence, len(uris))
	for i, uri := range uris {
		name, err := URI(uri).value()
		if err != nil {
			return tbs.Extension{}, err
		}

		fullName := der.ImplicitConstructed{Tag: 0, Children: []der.Value{name}}
		seq[i] = der.Sequence{der.Explicit{Tag: 0, Value: fullName}}
	}

	return newExtension(OidCRLDistributionPoints, critical, seq)
}
