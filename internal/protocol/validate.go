package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// schemas maps a message type to its compiled schema.
var schemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		panic(err)
	}
	out := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			panic(err)
		}
		s, err := jsonschema.CompileString(e.Name(), string(raw))
		if err != nil {
			panic(fmt.Sprintf("protocol: compile %s: %v", e.Name(), err))
		}
		typ := strings.ToUpper(strings.TrimSuffix(e.Name(), ".schema.json"))
		out[typ] = s
	}
	return out
}

// Validate checks raw against the schema registered for its type field and
// returns the decoded base.
func Validate(raw []byte) (BaseMessage, error) {
	base, err := DecodeBase(raw)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	s, ok := schemas[base.Type]
	if !ok {
		return base, fmt.Errorf("unknown message type %q", base.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return base, fmt.Errorf("%s: %w", base.Type, err)
	}
	return base, nil
}

// Known reports whether typ has a schema.
func Known(typ string) bool {
	_, ok := schemas[typ]
	return ok
}
