// Package der encodes ASN.1 values with the Distinguished Encoding Rules.
//
// Values are modeled as a closed set of tagged types implementing [der.Value].
// Constructed values ([der.Sequence], [der.Set], [der.Explicit], ...) nest
// other values, so a whole certificate structure can be described as a tree
// and turned into bytes with a single call to [der.Encode].
//
// Encoding is deterministic: lengths always use the shortest definite form,
// SET OF contents are sorted and booleans are encoded as 0xFF. Anything that
// has no valid DER representation yields an [*der.EncodingError].
package der

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// EncodingError is returned whenever a value can't be represented in DER.
type EncodingError struct {
	Type   string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("der: can't encode %s: %s", e.Type, e.Reason)
}

func encodingError(typ string, format string, v ...any) error {
	return &EncodingError{Type: typ, Reason: fmt.Sprintf(format, v...)}
}

// Value is implemented by all encodable types of this package.
type Value interface {
	build(b *cryptobyte.Builder) error
}

// Encode returns the DER encoding of v.
// The function is pure: the same value always yields the same bytes.
func Encode(v Value) ([]byte, error) {
	if v == nil {
		return nil, encodingError("value", "value is nil")
	}

	b := cryptobyte.NewBuilder(nil)
	if err := v.build(b); err != nil {
		return nil, err
	}

	out, err := b.Bytes()
	if err != nil {
		return nil, encodingError("value", "%v", err)
	}

	return out, nil
}

// MustEncode is like [der.Encode] but panics on error.
// It is meant for values assembled from constants, e.g. package-level tables.
func MustEncode(v Value) []byte {
	out, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return out
}

// maxTag is the largest tag number that fits the low-tag-number form.
const maxTag = 30

func checkTag(typ string, tag int) error {
	if tag < 0 || tag > maxTag {
		return encodingError(typ, "unsupported tag number %d (must be within 0-%d)", tag, maxTag)
	}
	return nil
}

func addChildren(b *cryptobyte.Builder, typ string, tag cbasn1.Tag, children []Value) error {
	var err error
	b.AddASN1(tag, func(child *cryptobyte.Builder) {
		for i, v := range children {
			if v == nil {
				err = encodingError(typ, "element #%d is nil", i)
				return
			}
			if err = v.build(child); err != nil {
				return
			}
		}
	})

	return err
}

// Integer is an arbitrary precision INTEGER. Negative numbers are
// encoded in minimal two's complement form.
type Integer struct {
	Value *big.Int
}

// BigInt wraps n into an [der.Integer].
func BigInt(n *big.Int) Integer {
	return Integer{Value: n}
}

func (i Integer) build(b *cryptobyte.Builder) error {
	if i.Value == nil {
		return encodingError("INTEGER", "value is nil")
	}
	b.AddASN1BigInt(i.Value)
	return nil
}

// Int is an INTEGER that fits into 64 bits.
type Int int64

func (i Int) build(b *cryptobyte.Builder) error {
	b.AddASN1Int64(int64(i))
	return nil
}

// Boolean is encoded as 0xff for true, as DER demands.
type Boolean bool

func (v Boolean) build(b *cryptobyte.Builder) error {
	b.AddASN1Boolean(bool(v))
	return nil
}

// Null is the NULL value, used e.g. as RSA algorithm parameters.
type Null struct{}

func (Null) build(b *cryptobyte.Builder) error {
	b.AddASN1NULL()
	return nil
}

// OctetString holds arbitrary bytes.
type OctetString []byte

func (o OctetString) build(b *cryptobyte.Builder) error {
	b.AddASN1OctetString(o)
	return nil
}

// BitString holds a BIT STRING. UnusedBits counts the padding bits in
// the last byte, which must all be zero.
type BitString struct {
	Bytes      []byte
	UnusedBits int
}

// Bits returns a [der.BitString] that uses all bits of b.
func Bits(b []byte) BitString {
	return BitString{Bytes: b}
}

func (s BitString) validate() error {
	if s.UnusedBits < 0 || s.UnusedBits > 7 {
		return encodingError("BIT STRING", "unused bit count %d is out of range 0-7", s.UnusedBits)
	}

	if len(s.Bytes) == 0 {
		if s.UnusedBits != 0 {
			return encodingError("BIT STRING", "empty bit string can't have unused bits")
		}
		return nil
	}

	if s.Bytes[len(s.Bytes)-1]&(1<<s.UnusedBits-1) != 0 {
		return encodingError("BIT STRING", "padding bits must be zero")
	}

	return nil
}

func (s BitString) build(b *cryptobyte.Builder) error {
	if err := s.validate(); err != nil {
		return err
	}

	b.AddASN1(cbasn1.BIT_STRING, func(c *cryptobyte.Builder) {
		c.AddUint8(uint8(s.UnusedBits))
		c.AddBytes(s.Bytes)
	})
	return nil
}

// ObjectIdentifier is checked for the X.690 arc constraints before encoding.
type ObjectIdentifier asn1.ObjectIdentifier

func (o ObjectIdentifier) validate() error {
	if len(o) < 2 {
		return encodingError("OBJECT IDENTIFIER", "'%v' needs at least two arcs", asn1.ObjectIdentifier(o))
	}

	if o[0] < 0 || o[0] > 2 {
		return encodingError("OBJECT IDENTIFIER", "first arc of '%v' must be 0, 1 or 2", asn1.ObjectIdentifier(o))
	}

	if o[0] < 2 && o[1] >= 40 {
		return encodingError("OBJECT IDENTIFIER", "second arc of '%v' must be below 40", asn1.ObjectIdentifier(o))
	}

	for _, arc := range o {
		if arc < 0 {
			return encodingError("OBJECT IDENTIFIER", "'%v' contains a negative arc", asn1.ObjectIdentifier(o))
		}
	}

	return nil
}

func (o ObjectIdentifier) build(b *cryptobyte.Builder) error {
	if err := o.validate(); err != nil {
		return err
	}
	b.AddASN1ObjectIdentifier(asn1.ObjectIdentifier(o))
	return nil
}

// UTCTime is always encoded in UTC with second precision (YYMMDDHHMMSSZ).
// Only the years 1950 through 2049 can be represented.
type UTCTime time.Time

func (t UTCTime) build(b *cryptobyte.Builder) error {
	tt := time.Time(t).UTC()
	if y := tt.Year(); y < 1950 || y > 2049 {
		return encodingError("UTCTime", "year %d is outside of 1950-2049", y)
	}

	b.AddASN1(cbasn1.UTCTime, func(c *cryptobyte.Builder) {
		c.AddBytes([]byte(tt.Format("060102150405") + "Z"))
	})
	return nil
}

// GeneralizedTime is always encoded in UTC with second precision (YYYYMMDDHHMMSSZ).
type GeneralizedTime time.Time

func (t GeneralizedTime) build(b *cryptobyte.Builder) error {
	tt := time.Time(t).UTC()
	if y := tt.Year(); y < 0 || y > 9999 {
		return encodingError("GeneralizedTime", "year %d has more than four digits", y)
	}

	b.AddASN1(cbasn1.GeneralizedTime, func(c *cryptobyte.Builder) {
		c.AddBytes([]byte(tt.Format("20060102150405") + "Z"))
	})
	return nil
}

// Time picks the time encoding RFC 5280 mandates for certificate validity:
// UTCTime through the year 2049 and GeneralizedTime afterwards.
func Time(t time.Time) Value {
	if y := t.UTC().Year(); y >= 1950 && y <= 2049 {
		return UTCTime(t)
	}
	return GeneralizedTime(t)
}

// UTF8String must hold valid UTF-8.
type UTF8String string

func (s UTF8String) build(b *cryptobyte.Builder) error {
	if !utf8.ValidString(string(s)) {
		return encodingError("UTF8String", "invalid utf-8")
	}
	b.AddASN1(cbasn1.UTF8String, func(c *cryptobyte.Builder) {
		c.AddBytes([]byte(s))
	})
	return nil
}

// PrintableString is restricted to the alphabet checked by [IsPrintable].
type PrintableString string

// IsPrintable reports whether s only uses the PrintableString alphabet.
func IsPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == ' ', c == '\'', c == '(', c == ')', c == '+', c == ',',
			c == '-', c == '.', c == '/', c == ':', c == '=', c == '?':
		default:
			return false
		}
	}
	return true
}

func (s PrintableString) build(b *cryptobyte.Builder) error {
	if !IsPrintable(string(s)) {
		return encodingError("PrintableString", "'%s' contains characters outside of the printable alphabet", string(s))
	}
	b.AddASN1(cbasn1.PrintableString, func(c *cryptobyte.Builder) {
		c.AddBytes([]byte(s))
	})
	return nil
}

// IA5String is restricted to 7-bit ASCII.
type IA5String string

// IsIA5 reports whether s only contains 7-bit ASCII.
func IsIA5(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func (s IA5String) build(b *cryptobyte.Builder) error {
	if !IsIA5(string(s)) {
		return encodingError("IA5String", "'%s' is not ASCII", string(s))
	}
	b.AddASN1(cbasn1.IA5String, func(c *cryptobyte.Builder) {
		c.AddBytes([]byte(s))
	})
	return nil
}

// Sequence encodes its elements in order.
type Sequence []Value

func (s Sequence) build(b *cryptobyte.Builder) error {
	return addChildren(b, "SEQUENCE", cbasn1.SEQUENCE, s)
}

// Set is a SET OF. Elements are sorted by their encoding.
type Set []Value

func (s Set) build(b *cryptobyte.Builder) error {
	encoded := make([][]byte, len(s))
	for i, v := range s {
		if v == nil {
			return encodingError("SET", "element #%d is nil", i)
		}

		e, err := Encode(v)
		if err != nil {
			return err
		}
		encoded[i] = e
	}

	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	b.AddASN1(cbasn1.SET, func(c *cryptobyte.Builder) {
		for _, e := range encoded {
			c.AddBytes(e)
		}
	})
	return nil
}

// Explicit wraps Value into a constructed, context-specific tag.
type Explicit struct {
	Tag   int
	Value Value
}

func (e Explicit) build(b *cryptobyte.Builder) error {
	if err := checkTag("explicit tag", e.Tag); err != nil {
		return err
	}
	if e.Value == nil {
		return encodingError("explicit tag", "tagged value is nil")
	}

	return addChildren(b, "explicit tag", cbasn1.Tag(e.Tag).ContextSpecific().Constructed(), []Value{e.Value})
}

// Implicit is a primitive, context-specific value. Bytes is the
// content of the implicitly tagged type (e.g. the characters of an
// IA5String in a GeneralName).
type Implicit struct {
	Tag   int
	Bytes []byte
}

func (i Implicit) build(b *cryptobyte.Builder) error {
	if err := checkTag("implicit tag", i.Tag); err != nil {
		return err
	}

	b.AddASN1(cbasn1.Tag(i.Tag).ContextSpecific(), func(c *cryptobyte.Builder) {
		c.AddBytes(i.Bytes)
	})
	return nil
}

// ImplicitConstructed replaces the SEQUENCE tag of its children with a
// constructed, context-specific tag.
type ImplicitConstructed struct {
	Tag      int
	Children []Value
}

func (i ImplicitConstructed) build(b *cryptobyte.Builder) error {
	if err := checkTag("implicit tag", i.Tag); err != nil {
		return err
	}

	return addChildren(b, "implicit tag", cbasn1.Tag(i.Tag).ContextSpecific().Constructed(), i.Children)
}

// Raw is a single, already encoded DER element.
// It is copied into the output verbatim.
type Raw []byte

func (r Raw) build(b *cryptobyte.Builder) error {
	s := cryptobyte.String(r)
	var element cryptobyte.String
	var tag cbasn1.Tag
	if !s.ReadAnyASN1Element(&element, &tag) {
		return encodingError("raw element", "not a valid DER element")
	}
	if !s.Empty() {
		return encodingError("raw element", "%d trailing bytes after element", len(s))
	}

	b.AddBytes(r)
	return nil
}
