// Package signer produces signatures over encoded TBSCertificates.
//
// A [signer.SigningKey] couples key material with one [signer.Algorithm].
// The [signer.Engine] maps that algorithm to the AlgorithmIdentifier that
// goes into the certificate and makes sure key and algorithm fit together.
package signer

import (
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/wokdav/certsign/generator/der"
	"github.com/wokdav/certsign/generator/tbs"
	"github.com/wokdav/certsign/logging"
)

var log = logging.Named("signer")

var (
	ErrUnsupportedAlgorithm = errors.New("signer: unsupported algorithm")
	ErrAlgorithmMismatch    = errors.New("signer: algorithm doesn't match key")
	ErrSigningFailed        = errors.New("signer: signing failed")
)

var (
	oidRSAWithSHA1     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	oidRSAWithSHA256   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidRSAWithSHA384   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	oidRSAWithSHA512   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	oidECDSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
	oidDSAWithSHA1     = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 3}
	oidDSAWithSHA256   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 2}
)

// RSA identifiers carry NULL parameters (RFC 4055), ECDSA and DSA
// identifiers none at all (RFC 5758).
func defaultIdentifiers() map[Algorithm]tbs.AlgorithmIdentifier {
	rsa := func(oid asn1.ObjectIdentifier) tbs.AlgorithmIdentifier {
		return tbs.AlgorithmIdentifier{Algorithm: oid, Parameters: der.Null{}}
	}
	plain := func(oid asn1.ObjectIdentifier) tbs.AlgorithmIdentifier {
		return tbs.AlgorithmIdentifier{Algorithm: oid}
	}

	return map[Algorithm]tbs.AlgorithmIdentifier{
		RSAwithSHA1:     rsa(oidRSAWithSHA1),
		RSAwithSHA256:   rsa(oidRSAWithSHA256),
		RSAwithSHA384:   rsa(oidRSAWithSHA384),
		RSAwithSHA512:   rsa(oidRSAWithSHA512),
		ECDSAwithSHA1:   plain(oidECDSAWithSHA1),
		ECDSAwithSHA256: plain(oidECDSAWithSHA256),
		ECDSAwithSHA384: plain(oidECDSAWithSHA384),
		ECDSAwithSHA512: plain(oidECDSAWithSHA512),
		DSAwithSHA1:     plain(oidDSAWithSHA1),
		DSAwithSHA256:   plain(oidDSAWithSHA256),
	}
}

// Signature is the outcome of a signing operation.
type Signature struct {
	Value     []byte
	Algorithm tbs.AlgorithmIdentifier
}

// Engine signs TBSCertificates. It is immutable once created and may be
// shared between goroutines.
type Engine struct {
	identifiers map[Algorithm]tbs.AlgorithmIdentifier
}

type EngineOption func(*Engine)

// WithAlgorithmIdentifier replaces the identifier written for alg.
// This can be used to produce e.g. RSA identifiers without NULL parameters.
func WithAlgorithmIdentifier(alg Algorithm, id tbs.AlgorithmIdentifier) EngineOption {
	return func(e *Engine) {
		e.identifiers[alg] = id
	}
}

// WithoutAlgorithm removes alg from the engine, so keys using it are rejected.
func WithoutAlgorithm(alg Algorithm) EngineOption {
	return func(e *Engine) {
		delete(e.identifiers, alg)
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{identifiers: defaultIdentifiers()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// DefaultEngine returns an engine with the standard identifiers.
func DefaultEngine() *Engine {
	return defaultEngine
}

// AlgorithmIdentifier returns the identifier the engine writes for alg.
func (e *Engine) AlgorithmIdentifier(alg Algorithm) (tbs.AlgorithmIdentifier, error) {
	id, ok := e.identifiers[alg]
	if !ok {
		return tbs.AlgorithmIdentifier{}, fmt.Errorf("%w: no identifier for %v", ErrUnsupportedAlgorithm, alg)
	}
	return id, nil
}

// Algorithm looks up the algorithm belonging to an identifier. If several
// algorithms share it, the first one in [Algorithms] wins.
func (e *Engine) Algorithm(id tbs.AlgorithmIdentifier) (Algorithm, error) {
	for _, alg := range Algorithms() {
		if known, ok := e.identifiers[alg]; ok && known.Equal(id) {
			return alg, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown identifier %v", ErrUnsupportedAlgorithm, id)
}

// Sign signs tbsDER with key. The key is only borrowed for the duration
// of the call. Failures are never retried.
func (e *Engine) Sign(tbsDER []byte, key SigningKey) (Signature, error) {
	if key == nil {
		return Signature{}, fmt.Errorf("%w: no signing key", ErrUnsupportedAlgorithm)
	}

	alg := key.Algorithm()
	if alg.Family() == FamilyUnknown {
		return Signature{}, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, alg)
	}

	id, err := e.AlgorithmIdentifier(alg)
	if err != nil {
		return Signature{}, err
	}

	if holder, ok := key.(PublicKeyHolder); ok {
		if err := checkFamily(alg, holder.Public()); err != nil {
			return Signature{}, err
		}
	}

	value, err := key.SignBytes(tbsDER)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	if len(value) == 0 {
		return Signature{}, fmt.Errorf("%w: key returned an empty signature", ErrSigningFailed)
	}

	log.Debugf("signed %d bytes using %v", len(tbsDER), alg)
	return Signature{Value: value, Algorithm: id}, nil
}
