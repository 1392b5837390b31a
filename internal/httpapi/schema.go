package httpapi

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://relaydebate.local/schemas/"

const (
	schemaCreateDebate       = "create_debate.json"
	schemaSubmitClaim        = "submit_claim.json"
	schemaSubmitTargeted     = "submit_targeted.json"
	schemaSubmitIntervention = "submit_intervention.json"
	schemaSubmitRuling       = "submit_ruling.json"
	schemaInboundMessage     = "inbound_message.json"
)

var schemaNames = []string{
	schemaCreateDebate,
	schemaSubmitClaim,
	schemaSubmitTargeted,
	schemaSubmitIntervention,
	schemaSubmitRuling,
	schemaInboundMessage,
}

type schemaSet struct {
	schemas map[string]*jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	compiler := jsonschema.NewCompiler()
	for _, name := range schemaNames {
		raw, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	set := &schemaSet{schemas: make(map[string]*jsonschema.Schema, len(schemaNames))}
	for _, name := range schemaNames {
		schema, err := compiler.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		set.schemas[name] = schema
	}
	return set, nil
}

// validate checks body against the named schema. An empty body is treated as
// an empty object. The returned message is the first violation found.
func (s *schemaSet) validate(name string, body []byte) (string, bool) {
	schema, ok := s.schemas[name]
	if !ok {
		return "unknown request schema " + name, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return "invalid json body", false
	}
	if err := schema.Validate(instance); err != nil {
		return firstViolation(err), false
	}
	return "", true
}

func firstViolation(err error) string {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return err.Error()
	}
	for _, line := range strings.Split(validationErr.Error(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- at ") {
			return strings.TrimPrefix(line, "- ")
		}
	}
	return "request body does not match schema"
}
