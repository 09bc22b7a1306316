package v1

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema"
)

type schemaElement struct {
	name   string
	schema string
}

type schemaHierarchy struct {
	schemas    []schemaElement
	mainSchema string
}

//go:embed oid.json
var oidSchemaString string

//go:embed raw-content.json
var rawContentSchemaString string

//go:embed duration.json
var durationSchemaString string

//go:embed validity.json
var validitySchemaString string

//go:embed extension.json
var extensionSchemaString string

//go:embed certificate.json
var certificateSchemaString string

//go:embed certificate-example.yaml
var certificateExample string

// it's important that the dependencies are added first,
// and the schemas that depend on them after that
var schemas = []schemaElement{
	{"oid.json", oidSchemaString},
	{"raw-content.json", rawContentSchemaString},
	{"duration.json", durationSchemaString},
	{"validity.json", validitySchemaString},
	{"extension.json", extensionSchemaString},
	{"certificate.json", certificateSchemaString},
}

func compileSchema(hierarchy *schemaHierarchy) (*jsonschema.Schema, error) {
	if hierarchy == nil {
		return nil, errors.New("schema: hierarchy must not be nil")
	}

	compiler := jsonschema.NewCompiler()
	for _, element := range hierarchy.schemas {
		err := compiler.AddResource(element.name, strings.NewReader(element.schema))
		if err != nil {
			return nil, fmt.Errorf("schema: error adding schema %v: %w", element.name, err)
		}
	}

	compiledSchema, err := compiler.Compile(hierarchy.mainSchema)
	if err != nil {
		return nil, fmt.Errorf("schema: error compiling schema %v: %w", hierarchy.mainSchema, err)
	}

	return compiledSchema, nil
}

var (
	certificateSchema *jsonschema.Schema
	durationRx        *regexp.Regexp
)

func init() {
	var err error
	certificateSchema, err = compileSchema(&schemaHierarchy{schemas, "certificate.json"})
	if err != nil {
		panic(err)
	}

	// the schema is the single source of truth for the duration syntax
	var duration struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal([]byte(durationSchemaString), &duration); err != nil {
		panic("config-v1: can't decode duration json schema")
	}
	durationRx = regexp.MustCompile(duration.Pattern)
}
