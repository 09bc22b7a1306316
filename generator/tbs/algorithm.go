package tbs

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/keybase/go-crypto/brainpool"
	"github.com/wokdav/certsign/generator/der"
)

var (
	OidRsaEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OidEcPublicKey   = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	OidDsa           = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 1}
)

var (
	oidP224            = asn1.ObjectIdentifier{1, 3, 132, 0, 33}
	oidP256            = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidP384            = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	oidP521            = asn1.ObjectIdentifier{1, 3, 132, 0, 35}
	oidBrainpoolP256r1 = asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 7}
	oidBrainpoolP384r1 = asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 11}
	oidBrainpoolP512r1 = asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 13}
	oidBrainpoolP256t1 = asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 8}
	oidBrainpoolP384t1 = asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 12}
	oidBrainpoolP512t1 = asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 14}
)

type namedCurve struct {
	curve elliptic.Curve
	oid   asn1.ObjectIdentifier
}

var namedCurves = []namedCurve{
	{elliptic.P224(), oidP224},
	{elliptic.P256(), oidP256},
	{elliptic.P384(), oidP384},
	{elliptic.P521(), oidP521},
	{brainpool.P256r1(), oidBrainpoolP256r1},
	{brainpool.P384r1(), oidBrainpoolP384r1},
	{brainpool.P512r1(), oidBrainpoolP512r1},
	{brainpool.P256t1(), oidBrainpoolP256t1},
	{brainpool.P384t1(), oidBrainpoolP384t1},
	{brainpool.P512t1(), oidBrainpoolP512t1},
}

// CurveOID returns the named curve OID of c.
func CurveOID(c elliptic.Curve) (asn1.ObjectIdentifier, error) {
	name := c.Params().Name
	for _, nc := range namedCurves {
		if nc.curve.Params().Name == name {
			return nc.oid, nil
		}
	}

	return nil, fmt.Errorf("tbs: unknown curve '%v'", name)
}

// CurveFromOID returns the curve identified by oid.
func CurveFromOID(oid asn1.ObjectIdentifier) (elliptic.Curve, error) {
	for _, nc := range namedCurves {
		if nc.oid.Equal(oid) {
			return nc.curve, nil
		}
	}

	return nil, fmt.Errorf("tbs: unknown curve oid '%v'", oid.String())
}

// Converts an OID in dotted decimal form into a [asn1.ObjectIdentifier].
func OidFromString(s string) (asn1.ObjectIdentifier, error) {
	if len(s) == 0 {
		return nil, errors.New("tbs: empty oid")
	}
	oidList := strings.Split(s, ".")
	oid := make([]int, len(oidList))

	for i, number := range oidList {
		n, err := strconv.Atoi(number)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("tbs: negative arc in oid '%s'", s)
		}

		oid[i] = n
	}

	return asn1.ObjectIdentifier(oid), nil
}

// AlgorithmIdentifier names an algorithm together with its optional
// parameters. Parameters is nil if the field is absent.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters der.Value
}

// Value returns the AlgorithmIdentifier SEQUENCE.
func (a AlgorithmIdentifier) Value() der.Value {
	if a.Parameters == nil {
		return der.Sequence{der.ObjectIdentifier(a.Algorithm)}
	}
	return der.Sequence{der.ObjectIdentifier(a.Algorithm), a.Parameters}
}

// Encode returns the DER encoding of the AlgorithmIdentifier.
func (a AlgorithmIdentifier) Encode() ([]byte, error) {
	return der.Encode(a.Value())
}

// Equal reports whether both identifiers have the same encoding.
func (a AlgorithmIdentifier) Equal(other AlgorithmIdentifier) bool {
	x, err := a.Encode()
	if err != nil {
		return false
	}
	y, err := other.Encode()
	if err != nil {
		return false
	}
	return bytes.Equal(x, y)
}

func (a AlgorithmIdentifier) String() string {
	return a.Algorithm.String()
}

// clone copies the OID and the byte based parameter types. Other
// parameter values are shared.
func (a AlgorithmIdentifier) clone() AlgorithmIdentifier {
	a.Algorithm = append(asn1.ObjectIdentifier(nil), a.Algorithm...)
	switch p := a.Parameters.(type) {
	case der.Raw:
		a.Parameters = append(der.Raw(nil), p...)
	case der.ObjectIdentifier:
		a.Parameters = append(der.ObjectIdentifier(nil), p...)
	case der.OctetString:
		a.Parameters = append(der.OctetString(nil), p...)
	}
	return a
}

// PublicKeyInfo is a SubjectPublicKeyInfo. PublicKey holds the content of
// the subjectPublicKey BIT STRING.
type PublicKeyInfo struct {
	Algorithm AlgorithmIdentifier
	PublicKey []byte
}

// Value returns the SubjectPublicKeyInfo SEQUENCE.
func (p PublicKeyInfo) Value() der.Value {
	return der.Sequence{p.Algorithm.Value(), der.Bits(p.PublicKey)}
}

// Encode returns the DER encoding of the SubjectPublicKeyInfo.
func (p PublicKeyInfo) Encode() ([]byte, error) {
	return der.Encode(p.Value())
}

func (p PublicKeyInfo) clone() PublicKeyInfo {
	p.Algorithm = p.Algorithm.clone()
	p.PublicKey = append([]byte(nil), p.PublicKey...)
	return p
}

// PublicKeyInfoFor creates the SubjectPublicKeyInfo of an RSA, ECDSA
// or DSA public key. ECDSA keys may use NIST or brainpool curves.
func PublicKeyInfoFor(pub crypto.PublicKey) (PublicKeyInfo, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N == nil {
			return PublicKeyInfo{}, errors.New("tbs: rsa public key is empty")
		}
		key, err := der.Encode(der.Sequence{der.BigInt(k.N), der.Int(k.E)})
		if err != nil {
			return PublicKeyInfo{}, err
		}
		return PublicKeyInfo{
			Algorithm: AlgorithmIdentifier{Algorithm: OidRsaEncryption, Parameters: der.Null{}},
			PublicKey: key,
		}, nil
	case *ecdsa.PublicKey:
		if k.Curve == nil || k.X == nil || k.Y == nil {
			return PublicKeyInfo{}, errors.New("tbs: ecdsa public key is empty")
		}
		oid, err := CurveOID(k.Curve)
		if err != nil {
			return PublicKeyInfo{}, err
		}
		return PublicKeyInfo{
			Algorithm: AlgorithmIdentifier{Algorithm: OidEcPublicKey, Parameters: der.ObjectIdentifier(oid)},
			PublicKey: marshalPoint(k.Curve, k.X, k.Y),
		}, nil
	case *dsa.PublicKey:
		if k.P == nil || k.Q == nil || k.G == nil || k.Y == nil {
			return PublicKeyInfo{}, errors.New("tbs: dsa public key is empty")
		}
		key, err := der.Encode(der.BigInt(k.Y))
		if err != nil {
			return PublicKeyInfo{}, err
		}
		params := der.Sequence{der.BigInt(k.P), der.BigInt(k.Q), der.BigInt(k.G)}
		return PublicKeyInfo{
			Algorithm: AlgorithmIdentifier{Algorithm: OidDsa, Parameters: params},
			PublicKey: key,
		}, nil
	}

	return PublicKeyInfo{}, fmt.Errorf("tbs: unsupported public key type %T", pub)
}

// marshalPoint returns the uncompressed SEC 1 point encoding.
func marshalPoint(curve elliptic.Curve, x, y *big.Int) []byte {
	byteLen := (curve.Params().BitSize + 7) / 8
	out := make([]byte, 1+2*byteLen)
	out[0] = 4
	x.FillBytes(out[1 : 1+byteLen])
	y.FillBytes(out[1+byteLen:])
	return out
}
