package protocol

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names, one per response body shape.
const (
	SchemaError   = "error.schema.json"
	SchemaMaps    = "maps.schema.json"
	SchemaMap     = "map.schema.json"
	SchemaJoin    = "join.schema.json"
	SchemaState   = "state.schema.json"
	SchemaPlayers = "players.schema.json"
	SchemaRecords = "records.schema.json"
	SchemaEmpty   = "empty.schema.json"
)

const schemaBaseURL = "https://roadtest.ai/schemas/"

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	ents, err := schemaFS.ReadDir("schemas")
	if err != nil {
		schemasErr = err
		return
	}
	for _, e := range ents {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(raw)); err != nil {
			schemasErr = fmt.Errorf("add schema %s: %w", e.Name(), err)
			return
		}
	}
	out := make(map[string]*jsonschema.Schema, len(ents))
	for _, e := range ents {
		s, err := c.Compile(schemaBaseURL + e.Name())
		if err != nil {
			schemasErr = fmt.Errorf("compile schema %s: %w", e.Name(), err)
			return
		}
		out[e.Name()] = s
	}
	schemas = out
}

// Schema returns a compiled response schema by name.
func Schema(name string) (*jsonschema.Schema, error) {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return nil, schemasErr
	}
	s, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

// Violation is the innermost failing location of a schema validation.
type Violation struct {
	Schema   string
	Location string // JSON pointer into the instance
	Keyword  string
	Message  string
}

func (v *Violation) Error() string {
	loc := v.Location
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: at %s: %s", strings.TrimSuffix(v.Schema, ".schema.json"), loc, v.Message)
}

// Validate checks a value decoded by DecodeAny against the named schema.
// Shape mismatches come back as *Violation.
func Validate(name string, v any) error {
	s, err := Schema(name)
	if err != nil {
		return err
	}
	err = s.Validate(v)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	leaf := deepestCause(ve)
	return &Violation{
		Schema:   name,
		Location: leaf.InstanceLocation,
		Keyword:  keywordOf(leaf.KeywordLocation),
		Message:  leaf.Message,
	}
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func keywordOf(loc string) string {
	if i := strings.LastIndex(loc, "/"); i >= 0 {
		return loc[i+1:]
	}
	return loc
}
