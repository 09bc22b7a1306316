package keys

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/wokdav/certsign/generator/tbs"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ParsePKIXPublicKey parses a DER encoded SubjectPublicKeyInfo.
// It returns a *[rsa.PublicKey], an *[ecdsa.PublicKey] or a *[dsa.PublicKey].
// Unlike crypto/x509 this supports brainpool curves.
func ParsePKIXPublicKey(data []byte) (crypto.PublicKey, error) {
	input := cryptobyte.String(data)

	var spki, algorithm cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !input.ReadASN1(&spki, cbasn1.SEQUENCE) || !input.Empty() ||
		!spki.ReadASN1(&algorithm, cbasn1.SEQUENCE) || !algorithm.ReadASN1ObjectIdentifier(&oid) {
		return nil, errors.New("keys: invalid SubjectPublicKeyInfo")
	}

	var params cryptobyte.String
	if !algorithm.Empty() {
		var tag cbasn1.Tag
		if !algorithm.ReadAnyASN1Element(&params, &tag) || !algorithm.Empty() {
			return nil, errors.New("keys: invalid public key algorithm parameters")
		}
	}

	var key asn1.BitString
	if !spki.ReadASN1BitString(&key) || key.BitLength%8 != 0 || !spki.Empty() {
		return nil, errors.New("keys: invalid subjectPublicKey")
	}

	switch {
	case oid.Equal(tbs.OidRsaEncryption):
		pub, err := x509.ParsePKCS1PublicKey(key.Bytes)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to parse RSA public key: %w", err)
		}
		return pub, nil

	case oid.Equal(tbs.OidEcPublicKey):
		var curveOID asn1.ObjectIdentifier
		if !params.ReadASN1ObjectIdentifier(&curveOID) || !params.Empty() {
			return nil, errors.New("keys: EC public key without named curve")
		}
		curve, err := tbs.CurveFromOID(curveOID)
		if err != nil {
			return nil, err
		}

		byteLen := (curve.Params().BitSize + 7) / 8
		if len(key.Bytes) != 1+2*byteLen || key.Bytes[0] != 4 {
			return nil, errors.New("keys: EC public key is not an uncompressed point")
		}
		x := new(big.Int).SetBytes(key.Bytes[1 : 1+byteLen])
		y := new(big.Int).SetBytes(key.Bytes[1+byteLen:])
		if !curve.IsOnCurve(x, y) {
			return nil, errors.New("keys: EC public key is not on the curve")
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	case oid.Equal(tbs.OidDsa):
		p, err := parseDSAParameters(params)
		if err != nil {
			return nil, err
		}
		y := new(big.Int)
		s := cryptobyte.String(key.Bytes)
		if !s.ReadASN1Integer(y) || !s.Empty() || y.Sign() <= 0 {
			return nil, errors.New("keys: invalid DSA public key")
		}
		return &dsa.PublicKey{Parameters: p, Y: y}, nil
	}

	return nil, fmt.Errorf("keys: unknown public key algorithm %v", oid)
}

// certificatePublicKeyInfo cuts the SubjectPublicKeyInfo out of a DER
// encoded certificate without interpreting the rest of it.
func certificatePublicKeyInfo(data []byte) ([]byte, error) {
	input := cryptobyte.String(data)

	var certificate, tbsCertificate cryptobyte.String
	if !input.ReadASN1(&certificate, cbasn1.SEQUENCE) || !certificate.ReadASN1(&tbsCertificate, cbasn1.SEQUENCE) {
		return nil, errors.New("keys: invalid certificate")
	}

	if !tbsCertificate.SkipOptionalASN1(cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!tbsCertificate.SkipASN1(cbasn1.INTEGER) ||
		!tbsCertificate.SkipASN1(cbasn1.SEQUENCE) ||
		!tbsCertificate.SkipASN1(cbasn1.SEQUENCE) ||
		!tbsCertificate.SkipASN1(cbasn1.SEQUENCE) ||
		!tbsCertificate.SkipASN1(cbasn1.SEQUENCE) {
		return nil, errors.New("keys: invalid certificate")
	}

	var spki cryptobyte.String
	if !tbsCertificate.ReadASN1Element(&spki, cbasn1.SEQUENCE) {
		return nil, errors.New("keys: certificate without subjectPublicKeyInfo")
	}
	return spki, nil
}

// ReadPublicKeyPEM returns the first public key in pemBytes. Both
// "PUBLIC KEY" blocks and certificates are understood, so the key of an
// issuer can be taken from its certificate. Other blocks are skipped.
func ReadPublicKeyPEM(pemBytes []byte) (crypto.PublicKey, error) {
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("keys: no public key found in PEM data")
		}

		switch block.Type {
		case "PUBLIC KEY":
			return ParsePKIXPublicKey(block.Bytes)
		case "CERTIFICATE":
			spki, err := certificatePublicKeyInfo(block.Bytes)
			if err != nil {
				return nil, err
			}
			return ParsePKIXPublicKey(spki)
		}
	}
}
