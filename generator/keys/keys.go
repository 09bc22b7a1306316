// Package keys reads, writes and generates the private keys certificates
// are signed with. Besides the formats crypto/x509 supports, it handles
// brainpool curves and DSA keys.
package keys

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"io"
	"strings"

	"github.com/keybase/go-crypto/brainpool"
	"github.com/wokdav/certsign/generator/tbs"
)

type KeyAlgorithm uint

const (
	RSA1024 KeyAlgorithm = iota
	RSA2048
	RSA3072
	RSA4096
	P224
	P256
	P384
	P521
	BrainpoolP256r1
	BrainpoolP384r1
	BrainpoolP512r1
	BrainpoolP256t1
	BrainpoolP384t1
	BrainpoolP512t1
	DSA2048
	keyAlgorithmCount // this must always be the last entry
)

var keyAlgorithmNames = [keyAlgorithmCount]string{
	RSA1024:         "RSA-1024",
	RSA2048:         "RSA-2048",
	RSA3072:         "RSA-3072",
	RSA4096:         "RSA-4096",
	P224:            "P-224",
	P256:            "P-256",
	P384:            "P-384",
	P521:            "P-521",
	BrainpoolP256r1: "brainpoolP256r1",
	BrainpoolP384r1: "brainpoolP384r1",
	BrainpoolP512r1: "brainpoolP512r1",
	BrainpoolP256t1: "brainpoolP256t1",
	BrainpoolP384t1: "brainpoolP384t1",
	BrainpoolP512t1: "brainpoolP512t1",
	DSA2048:         "DSA-2048",
}

var rsaBits = map[KeyAlgorithm]int{
	RSA1024: 1024,
	RSA2048: 2048,
	RSA3072: 3072,
	RSA4096: 4096,
}

func curve(alg KeyAlgorithm) elliptic.Curve {
	switch alg {
	case P224:
		return elliptic.P224()
	case P256:
		return elliptic.P256()
	case P384:
		return elliptic.P384()
	case P521:
		return elliptic.P521()
	case BrainpoolP256r1:
		return brainpool.P256r1()
	case BrainpoolP384r1:
		return brainpool.P384r1()
	case BrainpoolP512r1:
		return brainpool.P512r1()
	case BrainpoolP256t1:
		return brainpool.P256t1()
	case BrainpoolP384t1:
		return brainpool.P384t1()
	case BrainpoolP512t1:
		return brainpool.P512t1()
	}
	return nil
}

func (k KeyAlgorithm) String() string {
	if k >= keyAlgorithmCount {
		return fmt.Sprintf("KeyAlgorithm(%d)", uint(k))
	}
	return keyAlgorithmNames[k]
}

// KeyAlgorithms lists all algorithms [keys.Generate] understands.
func KeyAlgorithms() []KeyAlgorithm {
	out := make([]KeyAlgorithm, keyAlgorithmCount)
	for i := range out {
		out[i] = KeyAlgorithm(i)
	}
	return out
}

// ParseKeyAlgorithm resolves names like "RSA-2048", "P-256" or
// "brainpoolP384r1" case-insensitively.
func ParseKeyAlgorithm(s string) (KeyAlgorithm, error) {
	for i, name := range keyAlgorithmNames {
		if strings.EqualFold(name, s) {
			return KeyAlgorithm(i), nil
		}
	}

	return 0, fmt.Errorf("keys: unknown key algorithm '%v'", s)
}

// Generate creates a new private key. DSA parameter generation is slow,
// so expect DSA2048 to take a few seconds.
func Generate(alg KeyAlgorithm, rand io.Reader) (crypto.PrivateKey, error) {
	if bits, ok := rsaBits[alg]; ok {
		priv, err := rsa.GenerateKey(rand, bits)
		if err != nil {
			return nil, fmt.Errorf("keys: can't generate %v key: %w", alg, err)
		}
		return priv, nil
	}

	if c := curve(alg); c != nil {
		priv, err := ecdsa.GenerateKey(c, rand)
		if err != nil {
			return nil, fmt.Errorf("keys: can't generate %v key: %w", alg, err)
		}
		return priv, nil
	}

	if alg == DSA2048 {
		priv := &dsa.PrivateKey{}
		if err := dsa.GenerateParameters(&priv.Parameters, rand, dsa.L2048N256); err != nil {
			return nil, fmt.Errorf("keys: can't generate DSA parameters: %w", err)
		}
		if err := dsa.GenerateKey(priv, rand); err != nil {
			return nil, fmt.Errorf("keys: can't generate DSA key: %w", err)
		}
		return priv, nil
	}

	return nil, fmt.Errorf("keys: unknown key algorithm %v", alg)
}

// PublicKey returns the public half of priv.
func PublicKey(priv crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := priv.(type) {
	case *dsa.PrivateKey:
		return &k.PublicKey, nil
	case crypto.Signer:
		return k.Public(), nil
	}

	return nil, fmt.Errorf("keys: unsupported private key type %T", priv)
}

// PublicKeyInfo returns the SubjectPublicKeyInfo of priv's public key.
func PublicKeyInfo(priv crypto.PrivateKey) (tbs.PublicKeyInfo, error) {
	pub, err := PublicKey(priv)
	if err != nil {
		return tbs.PublicKeyInfo{}, err
	}
	return tbs.PublicKeyInfoFor(pub)
}
