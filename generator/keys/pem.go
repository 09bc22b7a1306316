package keys

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/wokdav/certsign/generator/der"
	"github.com/wokdav/certsign/generator/tbs"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ecPrivateKey reflects an ASN.1 Elliptic Curve Private Key Structure.
// References:
//
//	RFC 5915
//	SEC1 - http://www.secg.org/sec1-v2.pdf
//
// Per RFC 5915 the NamedCurveOID is marked as ASN.1 OPTIONAL, however in
// most cases it is not.
type ecPrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

// pkcs8 reflects an ASN.1, PKCS #8 PrivateKey. See RFC 5208.
type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
	// optional attributes omitted.
}

const ecPrivKeyVersion = 1

func marshalECPrivateKey(key *ecdsa.PrivateKey) ([]byte, error) {
	if !key.Curve.IsOnCurve(key.X, key.Y) {
		return nil, errors.New("keys: invalid elliptic key public key")
	}
	privateKey := make([]byte, (key.Curve.Params().N.BitLen()+7)/8)
	return asn1.Marshal(ecPrivateKey{
		Version:    ecPrivKeyVersion,
		PrivateKey: key.D.FillBytes(privateKey),
		PublicKey:  asn1.BitString{Bytes: elliptic.Marshal(key.Curve, key.X, key.Y)},
	})
}

func dsaParameters(p dsa.Parameters) ([]byte, error) {
	return der.Encode(der.Sequence{der.BigInt(p.P), der.BigInt(p.Q), der.BigInt(p.G)})
}

// MarshalPKCS8PrivateKey converts a private key to PKCS #8, ASN.1 DER form.
// Unlike crypto/x509 this supports brainpool curves and DSA keys.
func MarshalPKCS8PrivateKey(key crypto.PrivateKey) ([]byte, error) {
	var privKey pkcs8

	switch k := key.(type) {
	case *rsa.PrivateKey:
		privKey.Algo = pkix.AlgorithmIdentifier{
			Algorithm:  tbs.OidRsaEncryption,
			Parameters: asn1.NullRawValue,
		}
		privKey.PrivateKey = x509.MarshalPKCS1PrivateKey(k)

	case *ecdsa.PrivateKey:
		oid, err := tbs.CurveOID(k.Curve)
		if err != nil {
			return nil, fmt.Errorf("keys: can't marshal PKCS#8: %w", err)
		}
		oidBytes, err := asn1.Marshal(oid)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to marshal curve OID: %w", err)
		}
		privKey.Algo = pkix.AlgorithmIdentifier{
			Algorithm:  tbs.OidEcPublicKey,
			Parameters: asn1.RawValue{FullBytes: oidBytes},
		}
		if privKey.PrivateKey, err = marshalECPrivateKey(k); err != nil {
			return nil, fmt.Errorf("keys: failed to marshal EC private key while building PKCS#8: %w", err)
		}

	case *dsa.PrivateKey:
		params, err := dsaParameters(k.Parameters)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to marshal DSA parameters: %w", err)
		}
		privKey.Algo = pkix.AlgorithmIdentifier{
			Algorithm:  tbs.OidDsa,
			Parameters: asn1.RawValue{FullBytes: params},
		}
		if privKey.PrivateKey, err = der.Encode(der.BigInt(k.X)); err != nil {
			return nil, fmt.Errorf("keys: failed to marshal DSA private key: %w", err)
		}

	default:
		return nil, fmt.Errorf("keys: unknown key type while marshaling PKCS#8: %T", key)
	}

	return asn1.Marshal(privKey)
}

// parseECPrivateKey parses an ASN.1 Elliptic Curve Private Key Structure.
// The OID for the named curve may be provided from another source (such as
// the PKCS8 container) - if it is provided then use this instead of the OID
// that may exist in the EC private key structure.
func parseECPrivateKey(namedCurveOID asn1.ObjectIdentifier, data []byte) (*ecdsa.PrivateKey, error) {
	var privKey ecPrivateKey
	if _, err := asn1.Unmarshal(data, &privKey); err != nil {
		return nil, fmt.Errorf("keys: failed to parse EC private key: %w", err)
	}
	if privKey.Version != ecPrivKeyVersion {
		return nil, fmt.Errorf("keys: unknown EC private key version %d", privKey.Version)
	}

	if namedCurveOID == nil {
		namedCurveOID = privKey.NamedCurveOID
	}
	curve, err := tbs.CurveFromOID(namedCurveOID)
	if err != nil {
		return nil, err
	}

	k := new(big.Int).SetBytes(privKey.PrivateKey)
	curveOrder := curve.Params().N
	if k.Sign() <= 0 || k.Cmp(curveOrder) >= 0 {
		return nil, errors.New("keys: invalid elliptic curve private key value")
	}
	priv := new(ecdsa.PrivateKey)
	priv.Curve = curve
	priv.D = k

	privateKey := make([]byte, (curveOrder.BitLen()+7)/8)

	// Some private keys have leading zero padding. This is invalid
	// according to [SEC1], but this code will ignore it.
	for len(privKey.PrivateKey) > len(privateKey) {
		if privKey.PrivateKey[0] != 0 {
			return nil, errors.New("keys: invalid private key length")
		}
		privKey.PrivateKey = privKey.PrivateKey[1:]
	}

	// Some private keys remove all leading zeros, this is also invalid
	// according to [SEC1] but since OpenSSL used to do this, we ignore
	// this too.
	copy(privateKey[len(privateKey)-len(privKey.PrivateKey):], privKey.PrivateKey)
	priv.X, priv.Y = curve.ScalarBaseMult(privateKey)

	return priv, nil
}

func parseDSAParameters(data []byte) (dsa.Parameters, error) {
	p := dsa.Parameters{P: new(big.Int), Q: new(big.Int), G: new(big.Int)}
	s := cryptobyte.String(data)
	var inner cryptobyte.String
	if !s.ReadASN1(&inner, cbasn1.SEQUENCE) || !s.Empty() ||
		!inner.ReadASN1Integer(p.P) || !inner.ReadASN1Integer(p.Q) || !inner.ReadASN1Integer(p.G) || !inner.Empty() {
		return dsa.Parameters{}, errors.New("keys: invalid DSA parameters")
	}

	if p.P.Sign() <= 0 || p.Q.Sign() <= 0 || p.G.Sign() <= 0 {
		return dsa.Parameters{}, errors.New("keys: zero or negative DSA parameter")
	}

	return p, nil
}

func dsaKeyFromX(params dsa.Parameters, x *big.Int) (*dsa.PrivateKey, error) {
	if x.Sign() <= 0 || x.Cmp(params.Q) >= 0 {
		return nil, errors.New("keys: invalid DSA private key value")
	}

	priv := &dsa.PrivateKey{X: x}
	priv.Parameters = params
	priv.Y = new(big.Int).Exp(params.G, x, params.P)
	return priv, nil
}

// parseOpenSSLDSAPrivateKey parses the traditional "DSA PRIVATE KEY"
// format: SEQUENCE { version, p, q, g, y, x }.
func parseOpenSSLDSAPrivateKey(data []byte) (*dsa.PrivateKey, error) {
	var version int64
	params := dsa.Parameters{P: new(big.Int), Q: new(big.Int), G: new(big.Int)}
	y, x := new(big.Int), new(big.Int)

	s := cryptobyte.String(data)
	var inner cryptobyte.String
	if !s.ReadASN1(&inner, cbasn1.SEQUENCE) || !s.Empty() ||
		!inner.ReadASN1Integer(&version) ||
		!inner.ReadASN1Integer(params.P) || !inner.ReadASN1Integer(params.Q) || !inner.ReadASN1Integer(params.G) ||
		!inner.ReadASN1Integer(y) || !inner.ReadASN1Integer(x) || !inner.Empty() {
		return nil, errors.New("keys: invalid DSA private key")
	}
	if version != 0 {
		return nil, fmt.Errorf("keys: unknown DSA private key version %d", version)
	}

	priv, err := dsaKeyFromX(params, x)
	if err != nil {
		return nil, err
	}
	if priv.Y.Cmp(y) != 0 {
		return nil, errors.New("keys: DSA public value doesn't match private key")
	}

	return priv, nil
}

// ParsePKCS8PrivateKey parses an unencrypted private key in PKCS #8, ASN.1 DER form.
// It returns a *[rsa.PrivateKey], an *[ecdsa.PrivateKey] or a *[dsa.PrivateKey].
func ParsePKCS8PrivateKey(data []byte) (crypto.PrivateKey, error) {
	var privKey pkcs8
	if rest, err := asn1.Unmarshal(data, &privKey); err != nil {
		return nil, fmt.Errorf("keys: failed to parse PKCS#8: %w", err)
	} else if len(rest) != 0 {
		return nil, errors.New("keys: trailing data after PKCS#8")
	}

	switch {
	case privKey.Algo.Algorithm.Equal(tbs.OidRsaEncryption):
		key, err := x509.ParsePKCS1PrivateKey(privKey.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to parse RSA private key embedded in PKCS#8: %w", err)
		}
		return key, nil

	case privKey.Algo.Algorithm.Equal(tbs.OidEcPublicKey):
		namedCurveOID := asn1.ObjectIdentifier{}
		if _, err := asn1.Unmarshal(privKey.Algo.Parameters.FullBytes, &namedCurveOID); err != nil {
			namedCurveOID = nil
		}
		key, err := parseECPrivateKey(namedCurveOID, privKey.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to parse EC private key embedded in PKCS#8: %w", err)
		}
		return key, nil

	case privKey.Algo.Algorithm.Equal(tbs.OidDsa):
		params, err := parseDSAParameters(privKey.Algo.Parameters.FullBytes)
		if err != nil {
			return nil, err
		}
		x := new(big.Int)
		s := cryptobyte.String(privKey.PrivateKey)
		if !s.ReadASN1Integer(x) || !s.Empty() {
			return nil, errors.New("keys: failed to parse DSA private key embedded in PKCS#8")
		}
		return dsaKeyFromX(params, x)

	default:
		return nil, fmt.Errorf("keys: PKCS#8 wrapping contained private key with unknown algorithm: %v", privKey.Algo.Algorithm)
	}
}

// ParsePrivateKey parses a DER encoded private key given the PEM type it
// was found in.
func ParsePrivateKey(pemType string, data []byte) (crypto.PrivateKey, error) {
	switch pemType {
	case "PRIVATE KEY":
		return ParsePKCS8PrivateKey(data)
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to parse PKCS#1 key: %w", err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		return parseECPrivateKey(nil, data)
	case "DSA PRIVATE KEY":
		return parseOpenSSLDSAPrivateKey(data)
	}

	return nil, fmt.Errorf("keys: unsupported PEM type '%s'", pemType)
}

// ReadPrivateKeyPEM returns the first private key in pemBytes.
// Blocks that don't contain private keys (e.g. "EC PARAMETERS" or
// certificates) are skipped. Encrypted keys are not supported.
func ReadPrivateKeyPEM(pemBytes []byte) (crypto.PrivateKey, error) {
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("keys: no private key found in PEM data")
		}

		switch block.Type {
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY", "DSA PRIVATE KEY":
			if _, ok := block.Headers["DEK-Info"]; ok {
				return nil, errors.New("keys: encrypted private keys are not supported")
			}
			return ParsePrivateKey(block.Type, block.Bytes)
		case "ENCRYPTED PRIVATE KEY":
			return nil, errors.New("keys: encrypted private keys are not supported")
		}
	}
}

// WritePrivateKeyPEM writes key as an unencrypted PKCS#8 PEM block.
func WritePrivateKeyPEM(key crypto.PrivateKey, w io.Writer) error {
	b, err := MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}

	block := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: b,
	}

	return pem.Encode(w, block)
}
