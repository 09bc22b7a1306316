package signer

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"strings"

	// register the hash functions
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Family groups signature algorithms by the kind of key they need.
type Family uint

const (
	FamilyUnknown Family = iota
	FamilyRSA
	FamilyECDSA
	FamilyDSA
)

func (f Family) String() string {
	switch f {
	case FamilyRSA:
		return "RSA"
	case FamilyECDSA:
		return "ECDSA"
	case FamilyDSA:
		return "DSA"
	}
	return "unknown"
}

// FamilyOf returns the family of a public key.
func FamilyOf(pub crypto.PublicKey) Family {
	switch pub.(type) {
	case *rsa.PublicKey:
		return FamilyRSA
	case *ecdsa.PublicKey:
		return FamilyECDSA
	case *dsa.PublicKey:
		return FamilyDSA
	}
	return FamilyUnknown
}

type Algorithm uint

const (
	ECDSAwithSHA1 Algorithm = iota
	ECDSAwithSHA256
	ECDSAwithSHA384
	ECDSAwithSHA512
	RSAwithSHA1
	RSAwithSHA256
	RSAwithSHA384
	RSAwithSHA512
	DSAwithSHA1
	DSAwithSHA256
	algorithmCount // this must always be the last entry
)

type algorithmDetails struct {
	name   string
	family Family
	hash   crypto.Hash
}

var algorithms = [algorithmCount]algorithmDetails{
	ECDSAwithSHA1:   {"ECDSAwithSHA1", FamilyECDSA, crypto.SHA1},
	ECDSAwithSHA256: {"ECDSAwithSHA256", FamilyECDSA, crypto.SHA256},
	ECDSAwithSHA384: {"ECDSAwithSHA384", FamilyECDSA, crypto.SHA384},
	ECDSAwithSHA512: {"ECDSAwithSHA512", FamilyECDSA, crypto.SHA512},
	RSAwithSHA1:     {"RSAwithSHA1", FamilyRSA, crypto.SHA1},
	RSAwithSHA256:   {"RSAwithSHA256", FamilyRSA, crypto.SHA256},
	RSAwithSHA384:   {"RSAwithSHA384", FamilyRSA, crypto.SHA384},
	RSAwithSHA512:   {"RSAwithSHA512", FamilyRSA, crypto.SHA512},
	DSAwithSHA1:     {"DSAwithSHA1", FamilyDSA, crypto.SHA1},
	DSAwithSHA256:   {"DSAwithSHA256", FamilyDSA, crypto.SHA256},
}

// Algorithms lists all known signature algorithms.
func Algorithms() []Algorithm {
	out := make([]Algorithm, algorithmCount)
	for i := range out {
		out[i] = Algorithm(i)
	}
	return out
}

func (a Algorithm) valid() bool {
	return a < algorithmCount
}

func (a Algorithm) String() string {
	if !a.valid() {
		return fmt.Sprintf("Algorithm(%d)", uint(a))
	}
	return algorithms[a].name
}

// Family returns FamilyUnknown for invalid algorithms.
func (a Algorithm) Family() Family {
	if !a.valid() {
		return FamilyUnknown
	}
	return algorithms[a].family
}

// Hash returns the digest algorithm, or 0 for invalid algorithms.
func (a Algorithm) Hash() crypto.Hash {
	if !a.valid() {
		return 0
	}
	return algorithms[a].hash
}

// ParseAlgorithm resolves names like "RSAwithSHA256" case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	for i, details := range algorithms {
		if strings.EqualFold(details.name, s) {
			return Algorithm(i), nil
		}
	}

	return 0, fmt.Errorf("%w: unknown signature algorithm '%s'", ErrUnsupportedAlgorithm, s)
}

// DefaultAlgorithm chooses a signature algorithm for pub the way most
// tools do: SHA-256 in general, larger hashes for larger curves.
func DefaultAlgorithm(pub crypto.PublicKey) (Algorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return RSAwithSHA256, nil
	case *ecdsa.PublicKey:
		if k.Curve == nil {
			break
		}
		bits := k.Curve.Params().BitSize
		switch {
		case bits <= 256:
			return ECDSAwithSHA256, nil
		case bits <= 384:
			return ECDSAwithSHA384, nil
		default:
			return ECDSAwithSHA512, nil
		}
	case *dsa.PublicKey:
		return DSAwithSHA256, nil
	}

	return 0, fmt.Errorf("%w: no default algorithm for key type %T", ErrUnsupportedAlgorithm, pub)
}
