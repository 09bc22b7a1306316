package signer

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var ErrInvalidSignature = errors.New("signer: invalid signature")

// Verify checks a signature over data created with alg.
// This also covers DSA and brainpool keys, which crypto/x509 rejects.
func Verify(pub crypto.PublicKey, alg Algorithm, data, signature []byte) error {
	if err := checkFamily(alg, pub); err != nil {
		return err
	}

	d, err := digest(alg, data)
	if err != nil {
		return err
	}

	switch k := pub.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(k, alg.Hash(), d, signature); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
		return nil
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, d, signature) {
			return fmt.Errorf("%w: ECDSA verification failure", ErrInvalidSignature)
		}
		return nil
	case *dsa.PublicKey:
		r, s, err := parseDSASignature(signature)
		if err != nil {
			return err
		}
		if !dsa.Verify(k, truncateDigest(k, d), r, s) {
			return fmt.Errorf("%w: DSA verification failure", ErrInvalidSignature)
		}
		return nil
	}

	return fmt.Errorf("%w: unsupported public key type %T", ErrUnsupportedAlgorithm, pub)
}

func parseDSASignature(signature []byte) (*big.Int, *big.Int, error) {
	r, s := new(big.Int), new(big.Int)
	input := cryptobyte.String(signature)
	var inner cryptobyte.String
	if !input.ReadASN1(&inner, cbasn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, nil, fmt.Errorf("%w: malformed Dss-Sig-Value", ErrInvalidSignature)
	}

	if r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: DSA signature contains zero or negative values", ErrInvalidSignature)
	}

	return r, s, nil
}
