package config

import (
	"encoding/asn1"
	"strings"
	"testing"

	"github.com/wokdav/certsign/generator/tbs"
)

type testConfigurator struct {
	subject string
}

func (c testConfigurator) ParseConfiguration(s string) (*CertificateContent, error) {
	return &CertificateContent{Subject: tbs.MustParseName(c.subject)}, nil
}

func (c testConfigurator) CertificateExample() string {
	return "version: 99"
}

func TestParseConfigDispatch(t *testing.T) {
	AddConfigurator(98, testConfigurator{"CN=98"})
	AddConfigurator(99, testConfigurator{"CN=99"})

	tests := map[string]string{
		"version: 98":     "CN=98",
		"version: 99":     "CN=99",
		`{"version": 99}`: "CN=99",
	}

	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			content, err := ParseConfig(strings.NewReader(input))
			if err != nil {
				t.Fatal(err.Error())
			}
			if content.Subject.String() != want {
				t.Fatalf("expected %v, got %v", want, content.Subject)
			}
		})
	}

	versions := Versions()
	for i := 1; i < len(versions); i++ {
		if versions[i-1] >= versions[i] {
			t.Fatalf("versions are not sorted: %v", versions)
		}
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"no map":         "- a\n- b",
		"no version":     "subject: CN=Test",
		"string version": "version: one",
		"unknown":        "version: 12345",
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseConfig(strings.NewReader(input)); err == nil {
				t.Fatal("this should fail")
			}
		})
	}
}

func TestGetConfigurator(t *testing.T) {
	AddConfigurator(97, testConfigurator{"CN=97"})

	c, err := GetConfigurator(97)
	if err != nil {
		t.Fatal(err.Error())
	}
	if c.CertificateExample() != "version: 99" {
		t.Fatal("unexpected configurator")
	}

	if _, err := GetConfigurator(-1); err == nil {
		t.Fatal("this should fail")
	}
}

func TestConstantExtension(t *testing.T) {
	want := tbs.Extension{ID: asn1.ObjectIdentifier{1, 2, 3}, Critical: true, Value: []byte{5, 0}}
	c := ConstantExtension{want}

	if !c.Oid().Equal(want.ID) {
		t.Fatalf("expected oid %v, got %v", want.ID, c.Oid())
	}

	got, err := c.Build(ExtensionContext{})
	if err != nil {
		t.Fatal(err.Error())
	}
	if !got.ID.Equal(want.ID) || got.Critical != want.Critical || string(got.Value) != string(want.Value) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
