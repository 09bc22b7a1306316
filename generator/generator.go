// Package generator acts as the front-end for certificate generation and
// should always be the way external packages generate certificates.
//
// The functions defined here take all measures necessary, so that a
// [config.CertificateContent] directly yields a [cert.Certificate].
// It also ensures that the intended defaults are applied as expected.
package generator

import (
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/wokdav/certsign/generator/cert"
	"github.com/wokdav/certsign/generator/config"
	"github.com/wokdav/certsign/generator/keys"
	"github.com/wokdav/certsign/generator/signer"
	"github.com/wokdav/certsign/generator/tbs"
	"github.com/wokdav/certsign/logging"

	// register all configuration versions
	_ "github.com/wokdav/certsign/generator/config/v1"
)

// ErrNoSubjectKey is returned when no subject key is supplied.
var ErrNoSubjectKey = errors.New("generator: subject key must not be nil")

type options struct {
	engine *signer.Engine
	rand   io.Reader
}

// Option configures [Prepare], [PrepareOffline] and [Issue].
type Option func(*options)

// WithEngine signs with e instead of [signer.DefaultEngine].
func WithEngine(e *signer.Engine) Option {
	return func(o *options) {
		if e != nil {
			o.engine = e
		}
	}
}

// WithRand sets the randomness used for serial numbers and signatures.
func WithRand(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

// GenerateKey creates a new subject key as configured in c.
func GenerateKey(c config.CertificateContent, opts ...Option) (crypto.PrivateKey, error) {
	o := newOptions(opts)
	prk, err := keys.Generate(c.KeyAlgorithm, o.rand)
	if err != nil {
		logging.Errorf("can't create private key for '%v': %v", c.Subject, err.Error())
		return nil, err
	}
	return prk, nil
}

func newOptions(opts []Option) options {
	o := options{engine: signer.DefaultEngine(), rand: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Prepare returns an unsigned [cert.Certificate] that corresponds to the
// supplied [config.CertificateContent]. The public key of subjectKey ends up
// in the certificate, issuerKey is attached for signing. If issuerKey is nil,
// the certificate is self-signed with subjectKey.
//
// This entails calling Build() for each supplied [config.ExtensionConfig].
// The function will fail if any call to Build() or the TBSCertificate
// generation itself fails.
func Prepare(c config.CertificateContent, subjectKey, issuerKey crypto.PrivateKey, opts ...Option) (*cert.Certificate, error) {
	if subjectKey == nil {
		return nil, ErrNoSubjectKey
	}
	if issuerKey == nil {
		issuerKey = subjectKey
	}
	o := newOptions(opts)

	subjectPub, err := keys.PublicKey(subjectKey)
	if err != nil {
		logging.Errorf("can't read subject key for '%v': %v", c.Subject, err.Error())
		return nil, err
	}
	issuerPub, err := keys.PublicKey(issuerKey)
	if err != nil {
		logging.Errorf("can't read issuer key for '%v': %v", c.Subject, err.Error())
		return nil, err
	}

	alg, err := signatureAlgorithm(c, issuerPub)
	if err != nil {
		return nil, err
	}

	key, err := signer.FromPrivateKey(issuerKey, alg, signer.WithRand(o.rand))
	if err != nil {
		logging.Errorf("can't use issuer key for '%v': %v", c.Subject, err.Error())
		return nil, err
	}

	b, err := builder(c, subjectPub, issuerPub, o)
	if err != nil {
		return nil, err
	}

	certificate, err := cert.FromBuilder(b, key, cert.WithEngine(o.engine))
	if err != nil {
		logging.Errorf("can't build certificate for '%v': %v", c.Subject, err.Error())
		return nil, err
	}

	logging.Infof("prepared certificate for '%v' signed with %v", c.Subject, alg)
	return certificate, nil
}

// PrepareOffline is like [Prepare], but only needs the public keys. The
// result has no signing key, so the signature has to be computed elsewhere
// (e.g. by an HSM) and attached with [cert.Certificate.SetSignatureHex].
// If issuerPub is nil, the certificate is self-signed with subjectPub.
func PrepareOffline(c config.CertificateContent, subjectPub, issuerPub crypto.PublicKey, opts ...Option) (*cert.Certificate, error) {
	if subjectPub == nil {
		return nil, ErrNoSubjectKey
	}
	if issuerPub == nil {
		issuerPub = subjectPub
	}
	o := newOptions(opts)

	alg, err := signatureAlgorithm(c, issuerPub)
	if err != nil {
		return nil, err
	}
	if err := signer.CheckPublicKey(alg, issuerPub); err != nil {
		logging.Errorf("can't use issuer key for '%v': %v", c.Subject, err.Error())
		return nil, err
	}
	id, err := o.engine.AlgorithmIdentifier(alg)
	if err != nil {
		logging.Errorf("can't use issuer key for '%v': %v", c.Subject, err.Error())
		return nil, err
	}

	b, err := builder(c, subjectPub, issuerPub, o)
	if err != nil {
		return nil, err
	}

	t, err := b.SetSignatureAlgorithm(id).Build()
	if err != nil {
		logging.Errorf("can't build certificate for '%v': %v", c.Subject, err.Error())
		return nil, err
	}

	logging.Infof("prepared certificate for '%v' to be signed offline with %v", c.Subject, alg)
	return cert.New(t, cert.WithEngine(o.engine))
}

// signatureAlgorithm returns the configured algorithm or the default for issuerPub.
func signatureAlgorithm(c config.CertificateContent, issuerPub crypto.PublicKey) (signer.Algorithm, error) {
	if c.SignatureAlgorithm != nil {
		return *c.SignatureAlgorithm, nil
	}

	alg, err := signer.DefaultAlgorithm(issuerPub)
	if err != nil {
		logging.Errorf("can't choose signature algorithm for '%v': %v", c.Subject, err.Error())
		return 0, err
	}
	return alg, nil
}

// builder fills a [tbs.Builder] with everything but the signature algorithm.
func builder(c config.CertificateContent, subjectPub, issuerPub crypto.PublicKey, o options) (*tbs.Builder, error) {
	subjectPKI, err := tbs.PublicKeyInfoFor(subjectPub)
	if err != nil {
		logging.Errorf("can't read subject key for '%v': %v", c.Subject, err.Error())
		return nil, err
	}
	issuerPKI, err := tbs.PublicKeyInfoFor(issuerPub)
	if err != nil {
		logging.Errorf("can't read issuer key for '%v': %v", c.Subject, err.Error())
		return nil, err
	}

	serial := c.SerialNumber
	if serial == nil {
		serial, err = tbs.NewSerialNumber(o.rand)
		if err != nil {
			logging.Errorf("can't create serial number for '%v': %v", c.Subject, err.Error())
			return nil, err
		}
	}

	b := tbs.NewBuilder().
		SetSerialNumber(serial).
		SetIssuer(c.Issuer).
		SetSubject(c.Subject).
		SetValidity(c.ValidFrom, c.ValidUntil).
		SetPublicKey(subjectPKI).
		AllowDuplicateExtensions(c.AllowDuplicateExtensions)

	if c.IssuerUniqueID != nil {
		b.SetIssuerUniqueID(*c.IssuerUniqueID)
	}
	if c.SubjectUniqueID != nil {
		b.SetSubjectUniqueID(*c.SubjectUniqueID)
	}

	ctx := config.ExtensionContext{SubjectPublicKey: subjectPKI, IssuerPublicKey: issuerPKI}
	for i, extCfg := range c.Extensions {
		e, err := extCfg.Build(ctx)
		if err != nil {
			logging.Errorf("can't build extension #%d for '%v': %v", i, c.Subject, err.Error())
			return nil, fmt.Errorf("generator: extension #%d (%v): %w", i, extCfg.Oid(), err)
		}
		b.AddExtension(e)
	}

	return b, nil
}

// Issue is [Prepare] followed by [cert.Certificate.Sign].
func Issue(c config.CertificateContent, subjectKey, issuerKey crypto.PrivateKey, opts ...Option) (*cert.Certificate, error) {
	certificate, err := Prepare(c, subjectKey, issuerKey, opts...)
	if err != nil {
		return nil, err
	}

	if err := certificate.Sign(); err != nil {
		logging.Errorf("can't sign certificate for '%v': %v", c.Subject, err.Error())
		return nil, err
	}

	return certificate, nil
}
