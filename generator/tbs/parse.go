package tbs

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/wokdav/certsign/generator/der"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var ErrMalformed = errors.New("tbs: malformed TBSCertificate")

func malformed(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, v...))
}

// Parse decodes the DER encoding of a TBSCertificate. The result keeps
// the input bytes verbatim, so re-encoding is never necessary. Algorithm
// parameters are kept as [der.Raw].
//
// Only the string types this package produces are understood in names.
func Parse(data []byte) (*TBSCertificate, error) {
	input := cryptobyte.String(data)

	var element, s cryptobyte.String
	if !input.ReadASN1Element(&element, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("not a single SEQUENCE")
	}
	raw := []byte(element)
	if !element.ReadASN1(&s, cbasn1.SEQUENCE) {
		return nil, malformed("not a single SEQUENCE")
	}

	t := &TBSCertificate{raw: append([]byte(nil), raw...)}

	var versionField cryptobyte.String
	var hasVersion bool
	if !s.ReadOptionalASN1(&versionField, &hasVersion, cbasn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, malformed("invalid version")
	}
	if hasVersion {
		var v int64
		if !versionField.ReadASN1Int64WithTag(&v, cbasn1.INTEGER) || !versionField.Empty() {
			return nil, malformed("invalid version")
		}
		if v == V1 {
			return nil, malformed("explicitly encoded default version")
		}
		if v < V1 || v > V3 {
			return nil, malformed("unknown version %d", v)
		}
		t.version = int(v)
	}

	t.serial = new(big.Int)
	if !s.ReadASN1Integer(t.serial) {
		return nil, malformed("invalid serial number")
	}

	var err error
	if t.signature, err = parseAlgorithmIdentifier(&s); err != nil {
		return nil, err
	}

	if t.issuer, t.rawIssuer, err = parseName(&s); err != nil {
		return nil, err
	}

	var validity cryptobyte.String
	if !s.ReadASN1(&validity, cbasn1.SEQUENCE) {
		return nil, malformed("invalid validity")
	}
	if t.notBefore, err = parseTime(&validity); err != nil {
		return nil, err
	}
	if t.notAfter, err = parseTime(&validity); err != nil {
		return nil, err
	}
	if !validity.Empty() {
		return nil, malformed("trailing data in validity")
	}

	if t.subject, t.rawSubject, err = parseName(&s); err != nil {
		return nil, err
	}

	var spki cryptobyte.String
	if !s.ReadASN1(&spki, cbasn1.SEQUENCE) {
		return nil, malformed("invalid subjectPublicKeyInfo")
	}
	if t.publicKey.Algorithm, err = parseAlgorithmIdentifier(&spki); err != nil {
		return nil, err
	}
	var key asn1.BitString
	if !spki.ReadASN1BitString(&key) || key.BitLength%8 != 0 || !spki.Empty() {
		return nil, malformed("invalid subjectPublicKey")
	}
	t.publicKey.PublicKey = append([]byte(nil), key.Bytes...)

	if t.issuerUID, err = parseUniqueID(&s, 1); err != nil {
		return nil, err
	}
	if t.subjectUID, err = parseUniqueID(&s, 2); err != nil {
		return nil, err
	}

	var extensionsField cryptobyte.String
	var hasExtensions bool
	if !s.ReadOptionalASN1(&extensionsField, &hasExtensions, cbasn1.Tag(3).Constructed().ContextSpecific()) {
		return nil, malformed("invalid extensions")
	}
	if hasExtensions {
		if t.extensions, err = parseExtensions(extensionsField); err != nil {
			return nil, err
		}
	}

	if !s.Empty() {
		return nil, malformed("trailing data")
	}

	return t, nil
}

func parseAlgorithmIdentifier(s *cryptobyte.String) (AlgorithmIdentifier, error) {
	var seq cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !seq.ReadASN1ObjectIdentifier(&oid) {
		return AlgorithmIdentifier{}, malformed("invalid AlgorithmIdentifier")
	}

	out := AlgorithmIdentifier{Algorithm: oid}
	if seq.Empty() {
		return out, nil
	}

	var params cryptobyte.String
	var tag cbasn1.Tag
	if !seq.ReadAnyASN1Element(&params, &tag) || !seq.Empty() {
		return AlgorithmIdentifier{}, malformed("invalid parameters of AlgorithmIdentifier %v", oid)
	}
	out.Parameters = der.Raw(append([]byte(nil), params...))

	return out, nil
}

func parseName(s *cryptobyte.String) (Name, []byte, error) {
	var element cryptobyte.String
	if !s.ReadASN1Element(&element, cbasn1.SEQUENCE) {
		return nil, nil, malformed("invalid Name")
	}
	raw := append([]byte(nil), element...)

	var rdns cryptobyte.String
	if !element.ReadASN1(&rdns, cbasn1.SEQUENCE) {
		return nil, nil, malformed("invalid Name")
	}

	name := Name{}
	for !rdns.Empty() {
		var set cryptobyte.String
		if !rdns.ReadASN1(&set, cbasn1.SET) {
			return nil, nil, malformed("invalid RelativeDistinguishedName")
		}

		rdn := RDN{}
		for !set.Empty() {
			var atv cryptobyte.String
			var attr Attribute
			if !set.ReadASN1(&atv, cbasn1.SEQUENCE) || !atv.ReadASN1ObjectIdentifier(&attr.Type) {
				return nil, nil, malformed("invalid AttributeTypeAndValue")
			}

			var value cryptobyte.String
			var tag cbasn1.Tag
			if !atv.ReadAnyASN1(&value, &tag) || !atv.Empty() {
				return nil, nil, malformed("invalid value of attribute %v", attr.Type)
			}

			switch tag {
			case cbasn1.UTF8String:
				attr.StringType = UTF8String
			case cbasn1.PrintableString:
				attr.StringType = PrintableString
			case cbasn1.IA5String:
				attr.StringType = IA5String
			default:
				return nil, nil, malformed("unsupported string type %d for attribute %v", tag, attr.Type)
			}
			attr.Value = string(value)

			rdn = append(rdn, attr)
		}
		if len(rdn) == 0 {
			return nil, nil, malformed("empty RelativeDistinguishedName")
		}

		name = append(name, rdn)
	}

	return name, raw, nil
}

func parseTime(s *cryptobyte.String) (time.Time, error) {
	var out time.Time
	switch {
	case s.PeekASN1Tag(cbasn1.UTCTime):
		if !s.ReadASN1UTCTime(&out) {
			return time.Time{}, malformed("invalid UTCTime")
		}
	case s.PeekASN1Tag(cbasn1.GeneralizedTime):
		if !s.ReadASN1GeneralizedTime(&out) {
			return time.Time{}, malformed("invalid GeneralizedTime")
		}
	default:
		return time.Time{}, malformed("expected a time value")
	}

	return out.UTC(), nil
}

func parseUniqueID(s *cryptobyte.String, tag int) (*der.BitString, error) {
	var content cryptobyte.String
	var present bool
	if !s.ReadOptionalASN1(&content, &present, cbasn1.Tag(tag).ContextSpecific()) {
		return nil, malformed("invalid unique identifier [%d]", tag)
	}
	if !present {
		return nil, nil
	}

	var unused uint8
	if !content.ReadUint8(&unused) {
		return nil, malformed("invalid unique identifier [%d]", tag)
	}

	id := &der.BitString{Bytes: append([]byte(nil), content...), UnusedBits: int(unused)}
	if _, err := der.Encode(id); err != nil {
		return nil, malformed("invalid unique identifier [%d]: %v", tag, err)
	}

	return id, nil
}

func parseExtensions(field cryptobyte.String) ([]Extension, error) {
	var seq cryptobyte.String
	if !field.ReadASN1(&seq, cbasn1.SEQUENCE) || !field.Empty() || seq.Empty() {
		return nil, malformed("invalid extensions")
	}

	var out []Extension
	for !seq.Empty() {
		var ext cryptobyte.String
		var e Extension
		if !seq.ReadASN1(&ext, cbasn1.SEQUENCE) || !ext.ReadASN1ObjectIdentifier(&e.ID) {
			return nil, malformed("invalid extension")
		}

		if ext.PeekASN1Tag(cbasn1.BOOLEAN) {
			if !ext.ReadASN1Boolean(&e.Critical) {
				return nil, malformed("invalid critical flag of extension %v", e.ID)
			}
			if !e.Critical {
				return nil, malformed("explicitly encoded default critical flag of extension %v", e.ID)
			}
		}

		var value cryptobyte.String
		if !ext.ReadASN1(&value, cbasn1.OCTET_STRING) || !ext.Empty() {
			return nil, malformed("invalid value of extension %v", e.ID)
		}
		e.Value = append([]byte(nil), value...)

		out = append(out, e)
	}

	return out, nil
}
