// Package cert turns a TBSCertificate into a signed certificate and
// renders it as DER, hex or PEM.
//
// A [cert.Certificate] starts out Unsigned. It becomes Signed either by
// signing it with a [signer.SigningKey] or by attaching a signature that
// was computed elsewhere. Encoded output is only available once Signed.
package cert

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/wokdav/certsign/generator/signer"
	"github.com/wokdav/certsign/generator/tbs"
	"github.com/wokdav/certsign/logging"
)

var log = logging.Named("cert")

var (
	ErrNotSigned            = errors.New("cert: certificate is not signed")
	ErrAlreadySigned        = errors.New("cert: certificate is already signed")
	ErrNoSigningKey         = errors.New("cert: no signing key")
	ErrInvalidSignatureHex  = errors.New("cert: invalid signature hex")
	ErrMalformedCertificate = errors.New("cert: malformed certificate")
)

// State tells whether a certificate carries a signature.
type State int

const (
	Unsigned State = iota
	Signed
)

func (s State) String() string {
	switch s {
	case Unsigned:
		return "Unsigned"
	case Signed:
		return "Signed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Certificate wraps exactly one TBSCertificate. The signing key is only
// referenced and never modified.
//
// A Certificate must not be used from multiple goroutines at once.
type Certificate struct {
	tbs    *tbs.TBSCertificate
	key    signer.SigningKey
	engine *signer.Engine

	state     State
	algorithm tbs.AlgorithmIdentifier
	signature []byte
	der       []byte
}

// Option configures a [Certificate] on creation.
type Option func(*Certificate)

// WithSigningKey sets the key used by [Certificate.Sign].
func WithSigningKey(key signer.SigningKey) Option {
	return func(c *Certificate) {
		c.key = key
	}
}

// WithEngine replaces [signer.DefaultEngine].
func WithEngine(e *signer.Engine) Option {
	return func(c *Certificate) {
		if e != nil {
			c.engine = e
		}
	}
}

func newCertificate(opts []Option) *Certificate {
	c := &Certificate{engine: signer.DefaultEngine()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New creates an unsigned certificate.
func New(t *tbs.TBSCertificate, opts ...Option) (*Certificate, error) {
	if t == nil {
		return nil, errors.New("cert: tbs certificate is nil")
	}

	c := newCertificate(opts)
	c.tbs = t
	return c, nil
}

// FromBuilder builds b and wraps the result, signing with key. If b has no
// signature algorithm yet, it is set to the identifier the engine uses for key.
func FromBuilder(b *tbs.Builder, key signer.SigningKey, opts ...Option) (*Certificate, error) {
	if b == nil {
		return nil, errors.New("cert: builder is nil")
	}

	c := newCertificate(append([]Option{WithSigningKey(key)}, opts...))

	if _, ok := b.SignatureAlgorithm(); !ok && c.key != nil {
		id, err := c.engine.AlgorithmIdentifier(c.key.Algorithm())
		if err != nil {
			return nil, err
		}
		b.SetSignatureAlgorithm(id)
	}

	t, err := b.Build()
	if err != nil {
		return nil, err
	}
	c.tbs = t

	return c, nil
}

// State returns Unsigned or Signed.
func (c *Certificate) State() State {
	return c.state
}

// TBS returns the wrapped TBSCertificate.
func (c *Certificate) TBS() *tbs.TBSCertificate {
	return c.tbs
}

// Sign signs the TBSCertificate with the configured key. The key's
// algorithm has to produce the identifier in the TBS signature field.
func (c *Certificate) Sign() error {
	if c.state == Signed {
		return ErrAlreadySigned
	}
	if c.key == nil {
		return ErrNoSigningKey
	}

	id, err := c.engine.AlgorithmIdentifier(c.key.Algorithm())
	if err != nil {
		return err
	}
	if !id.Equal(c.tbs.SignatureAlgorithm()) {
		return fmt.Errorf("%w: key signs with %v, but the certificate declares %v",
			signer.ErrAlgorithmMismatch, id, c.tbs.SignatureAlgorithm())
	}

	sig, err := c.engine.Sign(c.tbs.Raw(), c.key)
	if err != nil {
		return err
	}

	if err := c.finish(sig.Algorithm, sig.Value); err != nil {
		return err
	}

	log.Debugf("signed certificate with serial %v", c.tbs.SerialNumber())
	return nil
}

// SetSignatureHex attaches a signature computed elsewhere. The outer
// algorithm identifier is copied from the TBS signature field. The
// signature is not checked.
func (c *Certificate) SetSignatureHex(signatureHex string) error {
	if c.state == Signed {
		return ErrAlreadySigned
	}

	signature, err := decodeHex(signatureHex)
	if err != nil {
		return err
	}

	if err := c.finish(c.tbs.SignatureAlgorithm(), signature); err != nil {
		return err
	}

	log.Debugf("attached %d byte signature to certificate with serial %v", len(signature), c.tbs.SerialNumber())
	return nil
}

// finish only changes the state once everything was encoded.
func (c *Certificate) finish(alg tbs.AlgorithmIdentifier, signature []byte) error {
	out, err := Assemble(c.tbs.Raw(), alg, signature)
	if err != nil {
		return err
	}

	c.algorithm = alg
	c.signature = signature
	c.der = out
	c.state = Signed
	return nil
}

// ClearSignature drops the signature, so the certificate can be signed again.
func (c *Certificate) ClearSignature() {
	c.algorithm = tbs.AlgorithmIdentifier{}
	c.signature = nil
	c.der = nil
	c.state = Unsigned
}

// Signature returns the raw signature value.
func (c *Certificate) Signature() ([]byte, error) {
	if c.state != Signed {
		return nil, ErrNotSigned
	}
	return append([]byte(nil), c.signature...), nil
}

// SignatureAlgorithm returns the outer signatureAlgorithm field.
func (c *Certificate) SignatureAlgorithm() (tbs.AlgorithmIdentifier, error) {
	if c.state != Signed {
		return tbs.AlgorithmIdentifier{}, ErrNotSigned
	}
	return c.algorithm, nil
}

// DER returns a copy of the encoded certificate.
func (c *Certificate) DER() ([]byte, error) {
	if c.state != Signed {
		return nil, ErrNotSigned
	}
	return append([]byte(nil), c.der...), nil
}

// EncodedHex returns the DER encoding as lowercase hex without separators.
func (c *Certificate) EncodedHex() (string, error) {
	if c.state != Signed {
		return "", ErrNotSigned
	}
	return hex.EncodeToString(c.der), nil
}

// PEM returns the certificate as a single "CERTIFICATE" block.
func (c *Certificate) PEM() (string, error) {
	if c.state != Signed {
		return "", ErrNotSigned
	}
	return ToPEM(c.der), nil
}

// WritePEM writes [Certificate.PEM] to w.
func (c *Certificate) WritePEM(w io.Writer) error {
	s, err := c.PEM()
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, s)
	return err
}
