package v1

import (
	"encoding/asn1"
	"fmt"
	"net"
	"reflect"

	"github.com/wokdav/certsign/generator/config"
	"github.com/wokdav/certsign/generator/ext"
	"github.com/wokdav/certsign/generator/tbs"
)

// Struct for unmarshaling JSON/YAML extensions.
// The config expects a list of objects, where each object has only
// one key-value pair. This ensures readability and preserves the
// order of extensions while still not having to unmarshal everything
// by hand. This is also enforced through the schema.
//
// This means that only one pointer is not nil after parsing.
// We later use reflection to find out which one it is and return
// it as a [config.ExtensionConfig].
//
// To add an extension, simply write your [config.ExtensionConfig]
// implementation and add a pointer to this struct.
type AnyExtension struct {
	BasicConstraints       *BasicConstraints       `json:"basicConstraints"`
	KeyUsage               *KeyUsage               `json:"keyUsage"`
	SubjectAltName         *SubjectAltName         `json:"subjectAltName"`
	ExtendedKeyUsage       *ExtendedKeyUsage       `json:"extendedKeyUsage"`
	SubjectKeyIdentifier   *SubjectKeyIdentifier   `json:"subjectKeyIdentifier"`
	AuthorityKeyIdentifier *AuthorityKeyIdentifier `json:"authorityKeyIdentifier"`
	CertificatePolicies    *CertificatePolicies    `json:"certificatePolicies"`
	AuthorityInfoAccess    *AuthorityInfoAccess    `json:"authorityInfoAccess"`
	CRLDistributionPoints  *CRLDistributionPoints  `json:"crlDistributionPoints"`
	Raw                    *RawExtension           `json:"raw"`
}

func parseExtensions(e []AnyExtension) ([]config.ExtensionConfig, error) {
	out := make([]config.ExtensionConfig, 0, len(e))
	for i, anyExt := range e {
		extStructVal := reflect.ValueOf(anyExt)
		extStructTyp := reflect.TypeOf(anyExt)

		var found config.ExtensionConfig
		for j := 0; j < extStructVal.NumField(); j++ {
			innerStructValPtr := extStructVal.Field(j)
			innerStructTyp := extStructTyp.Field(j)
			if innerStructValPtr.Kind() != reflect.Pointer {
				return nil, fmt.Errorf("config-v1: field '%v' does not contain a pointer", innerStructTyp.Name)
			}

			//find the only non-nil ptr
			if innerStructValPtr.IsNil() {
				continue
			}
			if found != nil {
				return nil, fmt.Errorf("config-v1: extension #%d defines more than one extension", i)
			}

			innerStruct, ok := innerStructValPtr.Interface().(config.ExtensionConfig)
			if !ok {
				return nil, fmt.Errorf("config-v1: field '%v' can't be casted properly", innerStructTyp.Name)
			}
			found = innerStruct
		}

		if found == nil {
			return nil, fmt.Errorf("config-v1: extension #%d is empty", i)
		}
		out = append(out, found)
	}

	return out, nil
}

// Fields every extension has. If Raw is set, it replaces the content.
type extensionBase struct {
	Critical bool   `json:"critical"`
	Raw      string `json:"raw"`
}

// build returns the raw content if there is any and calls content otherwise.
func (b extensionBase) build(oid asn1.ObjectIdentifier, content func() (tbs.Extension, error)) (tbs.Extension, error) {
	if len(b.Raw) > 0 {
		v, err := readRawString(b.Raw)
		if err != nil {
			return tbs.Extension{}, err
		}
		return ext.Raw(oid, b.Critical, v), nil
	}

	e, err := content()
	if err != nil {
		return tbs.Extension{}, fmt.Errorf("config-v1: %w", err)
	}
	return e, nil
}

// JSON/YAML representation for this extension.
// Also implements [config.ExtensionConfig]
type BasicConstraints struct {
	extensionBase
	CA      bool `json:"ca"`
	PathLen *int `json:"pathLen"`
}

func (b *BasicConstraints) Oid() asn1.ObjectIdentifier {
	return ext.OidBasicConstraints
}

func (b *BasicConstraints) Build(config.ExtensionContext) (tbs.Extension, error) {
	return b.build(b.Oid(), func() (tbs.Extension, error) {
		pathLen := -1
		if b.PathLen != nil {
			pathLen = *b.PathLen
		}
		return ext.NewBasicConstraints(b.Critical, b.CA, pathLen)
	})
}

// JSON/YAML representation for this extension.
// Also implements [config.ExtensionConfig]
type KeyUsage struct {
	extensionBase
	Flags []string `json:"flags"`
}

func (k *KeyUsage) Oid() asn1.ObjectIdentifier {
	return ext.OidKeyUsage
}

func (k *KeyUsage) Build(config.ExtensionContext) (tbs.Extension, error) {
	return k.build(k.Oid(), func() (tbs.Extension, error) {
		var flags ext.KeyUsage
		for _, name := range k.Flags {
			flag, err := ext.ParseKeyUsage(name)
			if err != nil {
				return tbs.Extension{}, err
			}
			flags |= flag
		}
		return ext.NewKeyUsage(k.Critical, flags)
	})
}

// JSON/YAML representation for this extension.
// Also implements [config.ExtensionConfig]
type SubjectAltName struct {
	extensionBase
	DNS   []string `json:"dns"`
	Email []string `json:"email"`
	IP    []string `json:"ip"`
	URI   []string `json:"uri"`
}

func (s *SubjectAltName) Oid() asn1.ObjectIdentifier {
	return ext.OidSubjectAltName
}

func (s *SubjectAltName) Build(config.ExtensionContext) (tbs.Extension, error) {
	return s.build(s.Oid(), func() (tbs.Extension, error) {
		names := make([]ext.GeneralName, 0, len(s.DNS)+len(s.Email)+len(s.IP)+len(s.URI))
		for _, dns := range s.DNS {
			names = append(names, ext.DNSName(dns))
		}
		for _, email := range s.Email {
			names = append(names, ext.EmailAddress(email))
		}
		for _, ip := range s.IP {
			parsed := net.ParseIP(ip)
			if parsed == nil {
				return tbs.Extension{}, fmt.Errorf("invalid ip address '%v'", ip)
			}
			names = append(names, ext.IPAddress(parsed))
		}
		for _, uri := range s.URI {
			names = append(names, ext.URI(uri))
		}
		return ext.NewSubjectAltName(s.Critical, names...)
	})
}

// JSON/YAML representation for this extension.
// Also implements [config.ExtensionConfig]
type ExtendedKeyUsage struct {
	extensionBase
	Usages []string `json:"usages"`
}

func (e *ExtendedKeyUsage) Oid() asn1.ObjectIdentifier {
	return ext.OidExtendedKeyUsage
}

func (e *ExtendedKeyUsage) Build(config.ExtensionContext) (tbs.Extension, error) {
	return e.build(e.Oid(), func() (tbs.Extension, error) {
		oids := make([]asn1.ObjectIdentifier, len(e.Usages))
		for i, usage := range e.Usages {
			oid, err := ext.ParseExtKeyUsage(usage)
			if err != nil {
				return tbs.Extension{}, err
			}
			oids[i] = oid
		}
		return ext.NewExtendedKeyUsage(e.Critical, oids...)
	})
}

// JSON/YAML representation for this extension.
// The identifier is the hash of the subject's public key.
// Also implements [config.ExtensionConfig]
type SubjectKeyIdentifier struct {
	extensionBase
}

func (s *SubjectKeyIdentifier) Oid() asn1.ObjectIdentifier {
	return ext.OidSubjectKeyIdentifier
}

func (s *SubjectKeyIdentifier) Build(ctx config.ExtensionContext) (tbs.Extension, error) {
	return s.build(s.Oid(), func() (tbs.Extension, error) {
		e, err := ext.SubjectKeyIdentifier(ctx.SubjectPublicKey)
		e.Critical = s.Critical
		return e, err
	})
}

// JSON/YAML representation for this extension.
// The identifier is the hash of the issuer's public key.
// Also implements [config.ExtensionConfig]
type AuthorityKeyIdentifier struct {
	extensionBase
}

func (a *AuthorityKeyIdentifier) Oid() asn1.ObjectIdentifier {
	return ext.OidAuthorityKeyIdentifier
}

func (a *AuthorityKeyIdentifier) Build(ctx config.ExtensionContext) (tbs.Extension, error) {
	return a.build(a.Oid(), func() (tbs.Extension, error) {
		e, err := ext.AuthorityKeyIdentifier(ctx.IssuerPublicKey)
		e.Critical = a.Critical
		return e, err
	})
}

type PolicyInfo struct {
	Oid          string `json:"oid"`
	CPS          string `json:"cps"`
	ExplicitText string `json:"explicitText"`
}

// JSON/YAML representation for this extension.
// Also implements [config.ExtensionConfig]
type CertificatePolicies struct {
	extensionBase
	Policies []PolicyInfo `json:"policies"`
}

func (c *CertificatePolicies) Oid() asn1.ObjectIdentifier {
	return ext.OidCertificatePolicies
}

func (c *CertificatePolicies) Build(config.ExtensionContext) (tbs.Extension, error) {
	return c.build(c.Oid(), func() (tbs.Extension, error) {
		policies := make([]ext.PolicyInfo, len(c.Policies))
		for i, policy := range c.Policies {
			oid, err := tbs.OidFromString(policy.Oid)
			if err != nil {
				return tbs.Extension{}, err
			}
			policies[i] = ext.PolicyInfo{ID: oid, CPS: policy.CPS, ExplicitText: policy.ExplicitText}
		}
		return ext.NewCertificatePolicies(c.Critical, policies...)
	})
}

// JSON/YAML representation for this extension.
// Also implements [config.ExtensionConfig]
type AuthorityInfoAccess struct {
	extensionBase
	OCSP      []string `json:"ocsp"`
	CAIssuers []string `json:"caIssuers"`
}

func (a *AuthorityInfoAccess) Oid() asn1.ObjectIdentifier {
	return ext.OidAuthorityInfoAccess
}

func (a *AuthorityInfoAccess) Build(config.ExtensionContext) (tbs.Extension, error) {
	return a.build(a.Oid(), func() (tbs.Extension, error) {
		return ext.NewAuthorityInfoAccess(a.Critical, a.OCSP, a.CAIssuers)
	})
}

// JSON/YAML representation for this extension.
// Also implements [config.ExtensionConfig]
type CRLDistributionPoints struct {
	extensionBase
	URIs []string `json:"uris"`
}

func (c *CRLDistributionPoints) Oid() asn1.ObjectIdentifier {
	return ext.OidCRLDistributionPoints
}

func (c *CRLDistributionPoints) Build(config.ExtensionContext) (tbs.Extension, error) {
	return c.build(c.Oid(), func() (tbs.Extension, error) {
		return ext.NewCRLDistributionPoints(c.Critical, c.URIs...)
	})
}

// JSON/YAML representation of an arbitrary extension.
// Also implements [config.ExtensionConfig]
type RawExtension struct {
	OidString string `json:"oid"`
	Critical  bool   `json:"critical"`
	Content   string `json:"content"`
}

func (r *RawExtension) Oid() asn1.ObjectIdentifier {
	// the schema guarantees a valid oid
	oid, _ := tbs.OidFromString(r.OidString)
	return oid
}

func (r *RawExtension) Build(config.ExtensionContext) (tbs.Extension, error) {
	oid, err := tbs.OidFromString(r.OidString)
	if err != nil {
		return tbs.Extension{}, fmt.Errorf("config-v1: %w", err)
	}

	content, err := readRawString(r.Content)
	if err != nil {
		return tbs.Extension{}, err
	}

	return ext.Raw(oid, r.Critical, content), nil
}
