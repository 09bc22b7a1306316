package tbs

import (
	"encoding/asn1"
	"fmt"
	"strings"

	"github.com/wokdav/certsign/generator/der"
)

// StringType selects the ASN.1 string type of an attribute value.
type StringType int

const (
	UTF8String StringType = iota
	PrintableString
	IA5String
)

// Attribute is a single AttributeTypeAndValue of a distinguished name.
type Attribute struct {
	Type       asn1.ObjectIdentifier
	Value      string
	StringType StringType
}

// RDN is a RelativeDistinguishedName. Most RDNs contain one attribute,
// multi-valued RDNs are encoded as a sorted SET.
type RDN []Attribute

// Name is a distinguished name in encoding order, i.e. the most general
// RDN (e.g. the country) comes first.
type Name []RDN

var (
	oidCountry            = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidOrganization       = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidSerialNumber       = asn1.ObjectIdentifier{2, 5, 4, 5}
	oidLocality           = asn1.ObjectIdentifier{2, 5, 4, 7}
	oidProvince           = asn1.ObjectIdentifier{2, 5, 4, 8}
	oidStreet             = asn1.ObjectIdentifier{2, 5, 4, 9}
	oidPostalCode         = asn1.ObjectIdentifier{2, 5, 4, 17}
	oidTitle              = asn1.ObjectIdentifier{2, 5, 4, 12}
	oidSurname            = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidGivenName          = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidDomainComponent    = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	oidUserID             = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	oidEmailAddress       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
)

type attributeType struct {
	name string
	oid  asn1.ObjectIdentifier
	typ  StringType
}

// the first entry for an oid is the name used when printing
var attributeTypes = []attributeType{
	{"C", oidCountry, PrintableString},
	{"O", oidOrganization, UTF8String},
	{"OU", oidOrganizationalUnit, UTF8String},
	{"CN", oidCommonName, UTF8String},
	{"SERIALNUMBER", oidSerialNumber, PrintableString},
	{"L", oidLocality, UTF8String},
	{"ST", oidProvince, UTF8String},
	{"STREET", oidStreet, UTF8String},
	{"POSTALCODE", oidPostalCode, UTF8String},
	{"T", oidTitle, UTF8String},
	{"TITLE", oidTitle, UTF8String},
	{"SN", oidSurname, UTF8String},
	{"GN", oidGivenName, UTF8String},
	{"DC", oidDomainComponent, IA5String},
	{"UID", oidUserID, UTF8String},
	{"E", oidEmailAddress, IA5String},
	{"EMAILADDRESS", oidEmailAddress, IA5String},
}

// AttributeOid resolves the short name of an attribute type (e.g. "CN").
// Names are matched case-insensitively.
func AttributeOid(name string) (asn1.ObjectIdentifier, error) {
	upper := strings.ToUpper(name)
	for _, a := range attributeTypes {
		if a.name == upper {
			return a.oid, nil
		}
	}

	return nil, fmt.Errorf("tbs: attribute '%v' doesn't exist", name)
}

func defaultStringType(oid asn1.ObjectIdentifier) StringType {
	for _, a := range attributeTypes {
		if a.oid.Equal(oid) {
			return a.typ
		}
	}
	return UTF8String
}

func attributeName(oid asn1.ObjectIdentifier) string {
	for _, a := range attributeTypes {
		if a.oid.Equal(oid) {
			return a.name
		}
	}
	return oid.String()
}

// NewAttribute creates an attribute with the string type usually
// associated with the attribute type. Values that don't fit into
// PrintableString fall back to UTF8String.
func NewAttribute(oid asn1.ObjectIdentifier, value string) Attribute {
	typ := defaultStringType(oid)
	if typ == PrintableString && !der.IsPrintable(value) {
		typ = UTF8String
	}

	return Attribute{Type: oid, Value: value, StringType: typ}
}

// ParseName parses the string representation of a distinguished name.
//
// Two notations are recognized:
//   - RFC 4514 ("CN=Test CA,O=Org,C=DE"), which lists the most specific RDN
//     first and is therefore stored in reverse order
//   - the OpenSSL notation ("/C=DE/O=Org/CN=Test CA"), which is stored as written
//
// Multi-valued RDNs are joined with '+'. Special characters can be escaped
// with a backslash. Attribute types are either short names (see
// [tbs.AttributeOid]) or dotted OIDs. Values are always strings.
func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return nil, fmt.Errorf("tbs: empty distinguished name")
	}

	separator := ','
	reverse := true
	if strings.HasPrefix(s, "/") {
		separator = '/'
		reverse = false
		s = s[1:]
	}

	rdnStrings, err := splitEscaped(s, separator)
	if err != nil {
		return nil, err
	}

	out := make(Name, 0, len(rdnStrings))
	for _, rdnString := range rdnStrings {
		assertions, err := splitEscaped(rdnString, '+')
		if err != nil {
			return nil, err
		}

		rdn := make(RDN, 0, len(assertions))
		for _, assertion := range assertions {
			attr, err := parseAssertion(assertion)
			if err != nil {
				return nil, err
			}
			rdn = append(rdn, attr)
		}

		out = append(out, rdn)
	}

	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	return out, nil
}

// MustParseName is like [tbs.ParseName] but panics on error.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// splitEscaped splits s along sep, skipping escaped separators.
// The escapes are kept, so they can be resolved later on.
func splitEscaped(s string, sep rune) ([]string, error) {
	var parts []string
	begin := 0
	escaped := false
	for i, symbol := range s {
		switch {
		case escaped:
			escaped = false
		case symbol == '\\':
			escaped = true
		case symbol == sep:
			parts = append(parts, s[begin:i])
			begin = i + 1
		}
	}
	if escaped {
		return nil, fmt.Errorf("tbs: dangling escape in '%s'", s)
	}

	return append(parts, s[begin:]), nil
}

func unescape(s string) string {
	sb := strings.Builder{}
	escaped := false
	for _, symbol := range s {
		if !escaped && symbol == '\\' {
			escaped = true
			continue
		}
		escaped = false
		sb.WriteRune(symbol)
	}
	return sb.String()
}

func parseAssertion(assertion string) (Attribute, error) {
	key, value, found := strings.Cut(assertion, "=")
	if !found {
		return Attribute{}, fmt.Errorf("tbs: malformed DN key-value pair: '%v'", strings.TrimSpace(assertion))
	}

	key = strings.TrimSpace(key)
	value = unescape(strings.TrimSpace(value))

	oid, err := AttributeOid(key)
	if err != nil {
		oid, err = OidFromString(key)
		if err != nil || len(oid) < 2 {
			return Attribute{}, fmt.Errorf("tbs: '%s' is not a valid RDN component nor a valid oid", key)
		}
	}

	return NewAttribute(oid, value), nil
}

func (a Attribute) value() (der.Value, error) {
	var v der.Value
	switch a.StringType {
	case UTF8String:
		v = der.UTF8String(a.Value)
	case PrintableString:
		v = der.PrintableString(a.Value)
	case IA5String:
		v = der.IA5String(a.Value)
	default:
		return nil, fmt.Errorf("tbs: unknown string type %d for attribute %v", a.StringType, a.Type)
	}

	return der.Sequence{der.ObjectIdentifier(a.Type), v}, nil
}

// Value returns the Name as a DER value (RDNSequence).
func (n Name) Value() (der.Value, error) {
	rdns := make(der.Sequence, len(n))
	for i, rdn := range n {
		set := make(der.Set, len(rdn))
		for j, attr := range rdn {
			v, err := attr.value()
			if err != nil {
				return nil, err
			}
			set[j] = v
		}
		rdns[i] = set
	}

	return rdns, nil
}

// Encode returns the DER encoding of the name.
func (n Name) Encode() ([]byte, error) {
	v, err := n.Value()
	if err != nil {
		return nil, err
	}
	return der.Encode(v)
}

// String returns the RFC 4514 representation of the name.
func (n Name) String() string {
	rdns := make([]string, 0, len(n))
	for i := len(n) - 1; i >= 0; i-- {
		attrs := make([]string, len(n[i]))
		for j, attr := range n[i] {
			attrs[j] = attributeName(attr.Type) + "=" + escapeValue(attr.Value)
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}
	return strings.Join(rdns, ",")
}

func escapeValue(s string) string {
	sb := strings.Builder{}
	for i, symbol := range s {
		switch {
		case strings.ContainsRune(",+\"\\<>;=/", symbol):
			sb.WriteRune('\\')
		case i == 0 && (symbol == '#' || symbol == ' '):
			sb.WriteRune('\\')
		case i == len(s)-1 && symbol == ' ':
			sb.WriteRune('\\')
		}
		sb.WriteRune(symbol)
	}
	return sb.String()
}

// Equal compares two names attribute by attribute.
func (n Name) Equal(other Name) bool {
	if len(n) != len(other) {
		return false
	}

	for i := range n {
		if len(n[i]) != len(other[i]) {
			return false
		}
		for j := range n[i] {
			a, b := n[i][j], other[i][j]
			if !a.Type.Equal(b.Type) || a.Value != b.Value || a.StringType != b.StringType {
				return false
			}
		}
	}

	return true
}

// Clone returns a deep copy of the name.
func (n Name) Clone() Name {
	if n == nil {
		return nil
	}

	out := make(Name, len(n))
	for i, rdn := range n {
		out[i] = make(RDN, len(rdn))
		for j, attr := range rdn {
			attr.Type = append(asn1.ObjectIdentifier(nil), attr.Type...)
			out[i][j] = attr
		}
	}
	return out
}
