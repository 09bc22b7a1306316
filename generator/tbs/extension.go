package tbs

import (
	"encoding/asn1"

	"github.com/wokdav/certsign/generator/der"
)

// Extension is a single certificate extension. Value holds the DER
// encoding that is wrapped into the extnValue OCTET STRING.
type Extension struct {
	ID       asn1.ObjectIdentifier
	Critical bool
	Value    []byte
}

// Encode returns the DER encoding of the extension. The critical flag is
// left out when false, as DER demands for DEFAULT values.
func (e Extension) Encode() ([]byte, error) {
	return der.Encode(e.value())
}

func (e Extension) value() der.Value {
	if e.Critical {
		return der.Sequence{der.ObjectIdentifier(e.ID), der.Boolean(true), der.OctetString(e.Value)}
	}
	return der.Sequence{der.ObjectIdentifier(e.ID), der.OctetString(e.Value)}
}

func (e Extension) clone() Extension {
	e.ID = append(asn1.ObjectIdentifier(nil), e.ID...)
	e.Value = append([]byte(nil), e.Value...)
	return e
}

func cloneExtensions(es []Extension) []Extension {
	if es == nil {
		return nil
	}
	out := make([]Extension, len(es))
	for i, e := range es {
		out[i] = e.clone()
	}
	return out
}
