// Package tbs assembles the to-be-signed part of an X.509 certificate.
//
// Fields are collected by a [tbs.Builder], which checks them all at once in
// [tbs.Builder.Build] and produces a frozen [tbs.TBSCertificate]. The DER
// encoding of a TBSCertificate is computed exactly once and never changes.
package tbs

import (
	"crypto/rand"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/wokdav/certsign/generator/der"
	"github.com/wokdav/certsign/logging"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var log = logging.Named("tbs")

var (
	ErrIncompleteCertificate = errors.New("tbs: certificate is incomplete")
	ErrInvalidValidityPeriod = errors.New("tbs: notBefore must be before notAfter")
	ErrDuplicateExtension    = errors.New("tbs: duplicate extension")
	ErrInvalidVersion        = errors.New("tbs: invalid version")
	ErrInvalidSerialNumber   = errors.New("tbs: invalid serial number")
)

// MissingFieldError names a mandatory field that was never set.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("tbs: missing mandatory field '%s'", e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrIncompleteCertificate
}

// Possible values for the version field.
const (
	V1 = 0
	V2 = 1
	V3 = 2
)

// maxSerialOctets is the upper bound RFC 5280 puts on serial numbers.
const maxSerialOctets = 20

// Builder collects the fields of a TBSCertificate. All setters return the
// builder itself so calls can be chained. Nothing is checked until Build.
//
// A Builder must not be used from multiple goroutines at once.
type Builder struct {
	version         int
	serial          *big.Int
	signature       *AlgorithmIdentifier
	issuer          Name
	notBefore       time.Time
	notAfter        time.Time
	validitySet     bool
	subject         Name
	publicKey       *PublicKeyInfo
	issuerUniqueID  *der.BitString
	subjectUniqueID *der.BitString
	extensions      []Extension
	allowDuplicates bool
}

// NewBuilder returns a builder for a version 3 certificate.
func NewBuilder() *Builder {
	return &Builder{version: V3}
}

// SetVersion sets the version field, one of [V1], [V2] or [V3].
func (b *Builder) SetVersion(v int) *Builder {
	b.version = v
	return b
}

// SetSerialNumber sets the serial number to a copy of n.
func (b *Builder) SetSerialNumber(n *big.Int) *Builder {
	if n == nil {
		b.serial = nil
	} else {
		b.serial = new(big.Int).Set(n)
	}
	return b
}

// SetSignatureAlgorithm sets the signature field of the TBSCertificate.
// It has to match the algorithm the certificate is signed with later on.
func (b *Builder) SetSignatureAlgorithm(alg AlgorithmIdentifier) *Builder {
	alg = alg.clone()
	b.signature = &alg
	return b
}

// SignatureAlgorithm reports the signature field, if it was set.
func (b *Builder) SignatureAlgorithm() (AlgorithmIdentifier, bool) {
	if b.signature == nil {
		return AlgorithmIdentifier{}, false
	}
	return b.signature.clone(), true
}

// SetIssuer sets the issuer name to a copy of n.
func (b *Builder) SetIssuer(n Name) *Builder {
	b.issuer = n.Clone()
	return b
}

// SetValidity sets the validity period. Both times are truncated to seconds.
func (b *Builder) SetValidity(notBefore, notAfter time.Time) *Builder {
	b.notBefore = notBefore
	b.notAfter = notAfter
	b.validitySet = true
	return b
}

// SetSubject sets the subject name to a copy of n.
func (b *Builder) SetSubject(n Name) *Builder {
	b.subject = n.Clone()
	return b
}

// SetPublicKey sets the subjectPublicKeyInfo to a copy of pki.
func (b *Builder) SetPublicKey(pki PublicKeyInfo) *Builder {
	pki = pki.clone()
	b.publicKey = &pki
	return b
}

// SetIssuerUniqueID sets the optional issuerUniqueID. It requires version 2 or 3.
func (b *Builder) SetIssuerUniqueID(id der.BitString) *Builder {
	b.issuerUniqueID = cloneBitString(&id)
	return b
}

// SetSubjectUniqueID sets the optional subjectUniqueID. It requires version 2 or 3.
func (b *Builder) SetSubjectUniqueID(id der.BitString) *Builder {
	b.subjectUniqueID = cloneBitString(&id)
	return b
}

// AddExtension appends an extension. Extensions are encoded in the order
// they were added.
func (b *Builder) AddExtension(e Extension) *Builder {
	b.extensions = append(b.extensions, e.clone())
	return b
}

// AllowDuplicateExtensions permits multiple extensions with the same OID.
// RFC 5280 forbids this, but it is useful to create broken certificates.
func (b *Builder) AllowDuplicateExtensions(allow bool) *Builder {
	b.allowDuplicates = allow
	return b
}

func formatErrors(es []error) string {
	if len(es) == 1 {
		return es[0].Error()
	}

	points := make([]string, len(es))
	for i, err := range es {
		points[i] = "- " + err.Error()
	}

	return fmt.Sprintf("tbs: %d problems with the certificate:\n%s", len(es), strings.Join(points, "\n"))
}

func (b *Builder) validate() error {
	var result *multierror.Error

	if b.serial == nil {
		result = multierror.Append(result, &MissingFieldError{"serialNumber"})
	} else if b.serial.Sign() <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: %v is not positive", ErrInvalidSerialNumber, b.serial))
	} else if octets := b.serial.BitLen()/8 + 1; octets > maxSerialOctets {
		result = multierror.Append(result, fmt.Errorf("%w: %d octets exceed the maximum of %d", ErrInvalidSerialNumber, octets, maxSerialOctets))
	}

	if b.signature == nil {
		result = multierror.Append(result, &MissingFieldError{"signature"})
	}

	if b.issuer == nil {
		result = multierror.Append(result, &MissingFieldError{"issuer"})
	}

	if !b.validitySet {
		result = multierror.Append(result, &MissingFieldError{"validity"})
	} else if nb, na := truncate(b.notBefore), truncate(b.notAfter); !nb.Before(na) {
		result = multierror.Append(result, fmt.Errorf("%w: %v is not before %v", ErrInvalidValidityPeriod, nb, na))
	}

	if b.subject == nil {
		result = multierror.Append(result, &MissingFieldError{"subject"})
	}

	if b.publicKey == nil {
		result = multierror.Append(result, &MissingFieldError{"subjectPublicKeyInfo"})
	}

	if b.version < V1 || b.version > V3 {
		result = multierror.Append(result, fmt.Errorf("%w: %d is outside of 0-2", ErrInvalidVersion, b.version))
	}

	if len(b.extensions) > 0 && b.version != V3 {
		result = multierror.Append(result, fmt.Errorf("%w: extensions require version 3", ErrInvalidVersion))
	}

	if (b.issuerUniqueID != nil || b.subjectUniqueID != nil) && b.version == V1 {
		result = multierror.Append(result, fmt.Errorf("%w: unique identifiers require at least version 2", ErrInvalidVersion))
	}

	if !b.allowDuplicates {
		seen := make(map[string]bool, len(b.extensions))
		for _, e := range b.extensions {
			key := e.ID.String()
			if seen[key] {
				result = multierror.Append(result, fmt.Errorf("%w: %v", ErrDuplicateExtension, e.ID))
			}
			seen[key] = true
		}
	}

	if result != nil {
		result.ErrorFormat = formatErrors
	}

	return result.ErrorOrNil()
}

// certificates only carry second precision
func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func uniqueID(tag int, id der.BitString) (der.Value, error) {
	encoded, err := der.Encode(id)
	if err != nil {
		return nil, err
	}

	var content cryptobyte.String
	s := cryptobyte.String(encoded)
	if !s.ReadASN1(&content, cbasn1.BIT_STRING) {
		return nil, errors.New("tbs: can't re-read unique identifier")
	}

	return der.Implicit{Tag: tag, Bytes: content}, nil
}

// Build checks all fields and encodes the TBSCertificate. If anything is
// wrong, all problems are reported in one error, which can be inspected
// with errors.Is.
func (b *Builder) Build() (*TBSCertificate, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	t := &TBSCertificate{
		version:    b.version,
		serial:     new(big.Int).Set(b.serial),
		signature:  b.signature.clone(),
		issuer:     b.issuer.Clone(),
		notBefore:  truncate(b.notBefore),
		notAfter:   truncate(b.notAfter),
		subject:    b.subject.Clone(),
		publicKey:  b.publicKey.clone(),
		issuerUID:  cloneBitString(b.issuerUniqueID),
		subjectUID: cloneBitString(b.subjectUniqueID),
		extensions: cloneExtensions(b.extensions),
	}

	issuer, err := t.issuer.Value()
	if err != nil {
		return nil, err
	}
	subject, err := t.subject.Value()
	if err != nil {
		return nil, err
	}

	seq := der.Sequence{}
	if t.version != V1 {
		seq = append(seq, der.Explicit{Tag: 0, Value: der.Int(t.version)})
	}

	seq = append(seq,
		der.BigInt(t.serial),
		t.signature.Value(),
		issuer,
		der.Sequence{der.Time(t.notBefore), der.Time(t.notAfter)},
		subject,
		t.publicKey.Value(),
	)

	if t.issuerUID != nil {
		v, err := uniqueID(1, *t.issuerUID)
		if err != nil {
			return nil, err
		}
		seq = append(seq, v)
	}

	if t.subjectUID != nil {
		v, err := uniqueID(2, *t.subjectUID)
		if err != nil {
			return nil, err
		}
		seq = append(seq, v)
	}

	if len(t.extensions) > 0 {
		exts := make(der.Sequence, len(t.extensions))
		for i, e := range t.extensions {
			exts[i] = e.value()
		}
		seq = append(seq, der.Explicit{Tag: 3, Value: exts})
	}

	raw, err := der.Encode(seq)
	if err != nil {
		return nil, err
	}
	t.raw = raw

	if t.rawIssuer, err = t.issuer.Encode(); err != nil {
		return nil, err
	}
	if t.rawSubject, err = t.subject.Encode(); err != nil {
		return nil, err
	}

	log.Debugf("built TBSCertificate with serial %x (%d bytes)", t.serial, len(raw))
	return t, nil
}

// NewSerialNumber returns a random, positive serial number that fits
// into the 20 octets RFC 5280 allows.
func NewSerialNumber(random io.Reader) (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 8*maxSerialOctets-1)
	max.Sub(max, big.NewInt(1))

	n, err := rand.Int(random, max)
	if err != nil {
		return nil, fmt.Errorf("tbs: can't generate serial number: %w", err)
	}

	return n.Add(n, big.NewInt(1)), nil
}

func cloneBitString(s *der.BitString) *der.BitString {
	if s == nil {
		return nil
	}
	return &der.BitString{Bytes: append([]byte(nil), s.Bytes...), UnusedBits: s.UnusedBits}
}

// TBSCertificate is a built, immutable TBSCertificate. All accessors
// return copies, so the structured fields always match [TBSCertificate.Raw].
type TBSCertificate struct {
	raw        []byte
	rawIssuer  []byte
	rawSubject []byte
	version    int
	serial     *big.Int
	signature  AlgorithmIdentifier
	issuer     Name
	notBefore  time.Time
	notAfter   time.Time
	subject    Name
	publicKey  PublicKeyInfo
	issuerUID  *der.BitString
	subjectUID *der.BitString
	extensions []Extension
}

// Raw returns a copy of the DER encoding.
func (t *TBSCertificate) Raw() []byte {
	return append([]byte(nil), t.raw...)
}

// Version returns the version field, one of [V1], [V2] or [V3].
func (t *TBSCertificate) Version() int {
	return t.version
}

// SerialNumber returns a copy of the serial number.
func (t *TBSCertificate) SerialNumber() *big.Int {
	return new(big.Int).Set(t.serial)
}

// SignatureAlgorithm returns the signature field.
func (t *TBSCertificate) SignatureAlgorithm() AlgorithmIdentifier {
	return t.signature.clone()
}

// Issuer returns a copy of the issuer name.
func (t *TBSCertificate) Issuer() Name {
	return t.issuer.Clone()
}

// Subject returns a copy of the subject name.
func (t *TBSCertificate) Subject() Name {
	return t.subject.Clone()
}

// RawIssuer returns the DER encoding of the issuer name.
func (t *TBSCertificate) RawIssuer() []byte {
	return append([]byte(nil), t.rawIssuer...)
}

// RawSubject returns the DER encoding of the subject name.
func (t *TBSCertificate) RawSubject() []byte {
	return append([]byte(nil), t.rawSubject...)
}

// NotBefore returns the start of the validity period in UTC.
func (t *TBSCertificate) NotBefore() time.Time {
	return t.notBefore
}

// NotAfter returns the end of the validity period in UTC.
func (t *TBSCertificate) NotAfter() time.Time {
	return t.notAfter
}

// PublicKey returns a copy of the subjectPublicKeyInfo.
func (t *TBSCertificate) PublicKey() PublicKeyInfo {
	return t.publicKey.clone()
}

// IssuerUniqueID returns the issuerUniqueID field, if present.
func (t *TBSCertificate) IssuerUniqueID() (der.BitString, bool) {
	if t.issuerUID == nil {
		return der.BitString{}, false
	}
	return *cloneBitString(t.issuerUID), true
}

// SubjectUniqueID returns the subjectUniqueID field, if present.
func (t *TBSCertificate) SubjectUniqueID() (der.BitString, bool) {
	if t.subjectUID == nil {
		return der.BitString{}, false
	}
	return *cloneBitString(t.subjectUID), true
}

// Extensions returns copies of all extensions in encoding order.
func (t *TBSCertificate) Extensions() []Extension {
	return cloneExtensions(t.extensions)
}

// Extension returns the first extension with the given OID.
func (t *TBSCertificate) Extension(id asn1.ObjectIdentifier) (Extension, bool) {
	for _, e := range t.extensions {
		if e.ID.Equal(id) {
			return e.clone(), true
		}
	}
	return Extension{}, false
}
