package signer

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"

	"github.com/wokdav/certsign/generator/der"
)

// SigningKey is anything that can sign a byte sequence with a fixed
// signature algorithm. SignBytes receives the message itself, hashing is
// up to the key.
type SigningKey interface {
	Algorithm() Algorithm
	SignBytes(data []byte) ([]byte, error)
}

// PublicKeyHolder is implemented by keys that expose their public half.
// All keys of this package do.
type PublicKeyHolder interface {
	Public() crypto.PublicKey
}

type keyOptions struct {
	rand io.Reader
}

// KeyOption configures the adapters of this package.
type KeyOption func(*keyOptions)

// WithRand sets the source of randomness used while signing.
// The default is crypto/rand.
func WithRand(r io.Reader) KeyOption {
	return func(o *keyOptions) {
		o.rand = r
	}
}

func newKeyOptions(opts []KeyOption) keyOptions {
	o := keyOptions{rand: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// errNilKey is returned by the adapters when called on a nil pointer.
var errNilKey = fmt.Errorf("%w: key is nil", ErrUnsupportedAlgorithm)

// CheckPublicKey reports whether alg can produce signatures for pub.
func CheckPublicKey(alg Algorithm, pub crypto.PublicKey) error {
	return checkFamily(alg, pub)
}

func checkFamily(alg Algorithm, pub crypto.PublicKey) error {
	if !alg.valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, alg)
	}

	if keyFamily := FamilyOf(pub); keyFamily != alg.Family() {
		return fmt.Errorf("%w: %v can't be used with a %v key", ErrAlgorithmMismatch, alg, keyFamily)
	}

	return nil
}

func digest(alg Algorithm, data []byte) ([]byte, error) {
	h := alg.Hash()
	if !h.Available() {
		return nil, fmt.Errorf("%w: hash %v is not available", ErrUnsupportedAlgorithm, h)
	}

	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil), nil
}

// RSAKey signs with an *rsa.PrivateKey.
type RSAKey struct {
	priv *rsa.PrivateKey
	alg  Algorithm
	opts keyOptions
}

// NewRSAKey creates a PKCS #1 v1.5 signing key.
func NewRSAKey(priv *rsa.PrivateKey, alg Algorithm, opts ...KeyOption) (*RSAKey, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: rsa key is nil", ErrUnsupportedAlgorithm)
	}
	if err := checkFamily(alg, &priv.PublicKey); err != nil {
		return nil, err
	}

	return &RSAKey{priv: priv, alg: alg, opts: newKeyOptions(opts)}, nil
}

func (k *RSAKey) Algorithm() Algorithm {
	if k == nil {
		return algorithmCount
	}
	return k.alg
}

func (k *RSAKey) Public() crypto.PublicKey {
	if k == nil {
		return nil
	}
	return &k.priv.PublicKey
}

func (k *RSAKey) SignBytes(data []byte) ([]byte, error) {
	if k == nil {
		return nil, errNilKey
	}
	d, err := digest(k.alg, data)
	if err != nil {
		return nil, err
	}

	return rsa.SignPKCS1v15(k.opts.rand, k.priv, k.alg.Hash(), d)
}

// ECDSAKey signs with an *ecdsa.PrivateKey.
type ECDSAKey struct {
	priv *ecdsa.PrivateKey
	alg  Algorithm
	opts keyOptions
}

// NewECDSAKey creates an ECDSA signing key. Signatures are encoded as
// ECDSA-Sig-Value.
func NewECDSAKey(priv *ecdsa.PrivateKey, alg Algorithm, opts ...KeyOption) (*ECDSAKey, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: ecdsa key is nil", ErrUnsupportedAlgorithm)
	}
	if err := checkFamily(alg, &priv.PublicKey); err != nil {
		return nil, err
	}

	return &ECDSAKey{priv: priv, alg: alg, opts: newKeyOptions(opts)}, nil
}

func (k *ECDSAKey) Algorithm() Algorithm {
	if k == nil {
		return algorithmCount
	}
	return k.alg
}

func (k *ECDSAKey) Public() crypto.PublicKey {
	if k == nil {
		return nil
	}
	return &k.priv.PublicKey
}

func (k *ECDSAKey) SignBytes(data []byte) ([]byte, error) {
	if k == nil {
		return nil, errNilKey
	}
	d, err := digest(k.alg, data)
	if err != nil {
		return nil, err
	}

	return ecdsa.SignASN1(k.opts.rand, k.priv, d)
}

// DSAKey signs with a *dsa.PrivateKey.
type DSAKey struct {
	priv *dsa.PrivateKey
	alg  Algorithm
	opts keyOptions
}

// NewDSAKey creates a DSA signing key. Signatures are encoded as
// Dss-Sig-Value.
func NewDSAKey(priv *dsa.PrivateKey, alg Algorithm, opts ...KeyOption) (*DSAKey, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: dsa key is nil", ErrUnsupportedAlgorithm)
	}
	if err := checkFamily(alg, &priv.PublicKey); err != nil {
		return nil, err
	}

	return &DSAKey{priv: priv, alg: alg, opts: newKeyOptions(opts)}, nil
}

func (k *DSAKey) Algorithm() Algorithm {
	if k == nil {
		return algorithmCount
	}
	return k.alg
}

func (k *DSAKey) Public() crypto.PublicKey {
	if k == nil {
		return nil
	}
	return &k.priv.PublicKey
}

// truncateDigest shortens d to the byte length of the subgroup order,
// which crypto/dsa leaves to the caller.
func truncateDigest(pub *dsa.PublicKey, d []byte) []byte {
	if n := (pub.Q.BitLen() + 7) / 8; len(d) > n {
		return d[:n]
	}
	return d
}

func (k *DSAKey) SignBytes(data []byte) ([]byte, error) {
	if k == nil {
		return nil, errNilKey
	}
	d, err := digest(k.alg, data)
	if err != nil {
		return nil, err
	}

	r, s, err := dsa.Sign(k.opts.rand, k.priv, truncateDigest(&k.priv.PublicKey, d))
	if err != nil {
		return nil, err
	}

	return der.Encode(der.Sequence{der.BigInt(r), der.BigInt(s)})
}

// SignerKey adapts a crypto.Signer, e.g. a key held in a hardware token.
type SignerKey struct {
	signer crypto.Signer
	alg    Algorithm
	opts   keyOptions
}

// FromSigner wraps s. Since the signer is opaque, every signature it
// returns is verified against its public key before being handed out.
func FromSigner(s crypto.Signer, alg Algorithm, opts ...KeyOption) (*SignerKey, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: signer is nil", ErrUnsupportedAlgorithm)
	}
	if err := checkFamily(alg, s.Public()); err != nil {
		return nil, err
	}

	return &SignerKey{signer: s, alg: alg, opts: newKeyOptions(opts)}, nil
}

func (k *SignerKey) Algorithm() Algorithm {
	if k == nil {
		return algorithmCount
	}
	return k.alg
}

func (k *SignerKey) Public() crypto.PublicKey {
	if k == nil {
		return nil
	}
	return k.signer.Public()
}

func (k *SignerKey) SignBytes(data []byte) ([]byte, error) {
	if k == nil {
		return nil, errNilKey
	}
	d, err := digest(k.alg, data)
	if err != nil {
		return nil, err
	}

	signature, err := k.signer.Sign(k.opts.rand, d, k.alg.Hash())
	if err != nil {
		return nil, err
	}

	if err := Verify(k.signer.Public(), k.alg, data, signature); err != nil {
		return nil, fmt.Errorf("signature returned by signer is invalid: %w", err)
	}

	return signature, nil
}

// FromPrivateKey picks the matching adapter for priv. Keys of unknown
// types are used through crypto.Signer if they implement it.
func FromPrivateKey(priv crypto.PrivateKey, alg Algorithm, opts ...KeyOption) (SigningKey, error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return NewRSAKey(k, alg, opts...)
	case *ecdsa.PrivateKey:
		return NewECDSAKey(k, alg, opts...)
	case *dsa.PrivateKey:
		return NewDSAKey(k, alg, opts...)
	case crypto.Signer:
		return FromSigner(k, alg, opts...)
	}

	return nil, fmt.Errorf("%w: unsupported private key type %T", ErrUnsupportedAlgorithm, priv)
}
