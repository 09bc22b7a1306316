package cert

import (
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"
	"github.com/wokdav/certsign/generator/der"
	"github.com/wokdav/certsign/generator/tbs"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const (
	pemType       = "CERTIFICATE"
	pemHeader     = "-----BEGIN " + pemType + "-----"
	pemFooter     = "-----END " + pemType + "-----"
	pemLineLength = 64
)

// Assemble wraps an encoded TBSCertificate, the signature algorithm and the
// signature value into a certificate. The signature is not verified.
func Assemble(tbsDER []byte, alg tbs.AlgorithmIdentifier, signature []byte) ([]byte, error) {
	if len(signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrMalformedCertificate)
	}

	out, err := der.Encode(der.Sequence{
		der.Raw(tbsDER),
		alg.Value(),
		der.Bits(signature),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}

	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignatureHex, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: signature is empty", ErrInvalidSignatureHex)
	}
	return b, nil
}

// AssembleHex works like [Assemble], but takes a hex encoded signature
// that was computed elsewhere, e.g. by an HSM.
func AssembleHex(tbsDER []byte, alg tbs.AlgorithmIdentifier, signatureHex string) ([]byte, error) {
	signature, err := decodeHex(signatureHex)
	if err != nil {
		return nil, err
	}

	return Assemble(tbsDER, alg, signature)
}

// ToPEM encodes a certificate with CRLF line endings.
func ToPEM(certDER []byte) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	encoded := base64.StdEncoding.EncodeToString(certDER)

	buf.WriteString(pemHeader + "\r\n")
	for len(encoded) > 0 {
		n := pemLineLength
		if len(encoded) < n {
			n = len(encoded)
		}
		buf.WriteString(encoded[:n])
		buf.WriteString("\r\n")
		encoded = encoded[n:]
	}
	buf.WriteString(pemFooter + "\r\n")

	return buf.String()
}

// FromPEM returns the DER bytes of the first certificate in s.
// Other blocks before it are skipped.
func FromPEM(s string) ([]byte, error) {
	rest := []byte(s)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("cert: no certificate found in PEM data")
		}
		if block.Type == pemType {
			return block.Bytes, nil
		}
	}
}

// Parsed is the structural decoding of a certificate.
type Parsed struct {
	TBS       []byte
	Algorithm tbs.AlgorithmIdentifier
	Signature []byte
}

// TBSCertificate decodes the TBS part.
func (p *Parsed) TBSCertificate() (*tbs.TBSCertificate, error) {
	return tbs.Parse(p.TBS)
}

// Parse splits a certificate into its three components. Nothing is
// interpreted beyond the outer structure.
func Parse(certDER []byte) (*Parsed, error) {
	input := cryptobyte.String(certDER)
	var certificate cryptobyte.String
	if !input.ReadASN1(&certificate, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: not a sequence", ErrMalformedCertificate)
	}
	if !input.Empty() {
		return nil, fmt.Errorf("%w: trailing data after certificate", ErrMalformedCertificate)
	}

	var tbsElement cryptobyte.String
	if !certificate.ReadASN1Element(&tbsElement, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: can't read tbsCertificate", ErrMalformedCertificate)
	}

	var algSeq cryptobyte.String
	if !certificate.ReadASN1(&algSeq, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: can't read signatureAlgorithm", ErrMalformedCertificate)
	}
	var oid asn1.ObjectIdentifier
	if !algSeq.ReadASN1ObjectIdentifier(&oid) {
		return nil, fmt.Errorf("%w: can't read signature algorithm oid", ErrMalformedCertificate)
	}
	alg := tbs.AlgorithmIdentifier{Algorithm: oid}
	if !algSeq.Empty() {
		alg.Parameters = der.Raw(append([]byte(nil), algSeq...))
	}

	var signature asn1.BitString
	if !certificate.ReadASN1BitString(&signature) {
		return nil, fmt.Errorf("%w: can't read signature", ErrMalformedCertificate)
	}
	if signature.BitLength%8 != 0 {
		return nil, fmt.Errorf("%w: signature is not a whole number of bytes", ErrMalformedCertificate)
	}

	if !certificate.Empty() {
		return nil, fmt.Errorf("%w: more than three elements", ErrMalformedCertificate)
	}

	return &Parsed{
		TBS:       append([]byte(nil), tbsElement...),
		Algorithm: alg,
		Signature: append([]byte(nil), signature.Bytes...),
	}, nil
}
