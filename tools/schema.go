package tools

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/m4xw311/cadlink/errors"
)

// rawSchema is the JSON document declaring a tool.
type rawSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Returns     string          `json:"returns"`
}

type parameterSchema struct {
	Type       string                     `json:"type"`
	Properties map[string]json.RawMessage `json:"properties"`
	Required   []string                   `json:"required"`
}

func parseSpec(text string) (Spec, error) {
	var raw rawSchema
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Spec{}, errors.Wrapf(err, "tool schema is not valid JSON")
	}
	if raw.Name == "" {
		return Spec{}, errors.New("tool schema has no name")
	}
	if raw.Description == "" {
		return Spec{}, errors.New("tool %q has no description", raw.Name)
	}
	if len(raw.Parameters) == 0 {
		raw.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return Spec{
		Name:        raw.Name,
		Description: raw.Description,
		Parameters:  raw.Parameters,
		Returns:     raw.Returns,
	}, nil
}

// CompileParameters compiles the parameters schema of a spec.
func CompileParameters(s Spec) (*jsonschema.Schema, error) {
	schema, err := jsonschema.CompileString(s.Name+".parameters.json", string(s.Parameters))
	if err != nil {
		return nil, errors.Wrapf(err, "tool %q has an invalid parameters schema", s.Name)
	}
	return schema, nil
}

// crossCheck ensures the schema and the handler signature agree: the same
// parameter names, and required exactly where no default exists.
func crossCheck(s Spec, params []Parameter) error {
	var ps parameterSchema
	if err := json.Unmarshal(s.Parameters, &ps); err != nil {
		return errors.Wrapf(err, "tool %q: parameters are not an object schema", s.Name)
	}
	if ps.Type != "object" {
		return errors.New("tool %q: parameters type must be object, got %q", s.Name, ps.Type)
	}
	if _, err := CompileParameters(s); err != nil {
		return err
	}

	var schemaNames, fieldNames, required, nonDefaulted []string
	for name := range ps.Properties {
		schemaNames = append(schemaNames, name)
	}
	for _, p := range params {
		fieldNames = append(fieldNames, p.Name)
		if !p.HasDefault {
			nonDefaulted = append(nonDefaulted, p.Name)
		}
	}
	required = append(required, ps.Required...)

	if !sameSet(schemaNames, fieldNames) {
		return errors.New("tool %q: schema properties %v do not match handler parameters %v", s.Name, sorted(schemaNames), sorted(fieldNames))
	}
	if !sameSet(required, nonDefaulted) {
		return errors.New("tool %q: required %v does not match parameters without defaults %v", s.Name, sorted(required), sorted(nonDefaulted))
	}
	return nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		if seen[x] == 0 {
			return false
		}
		seen[x]--
	}
	return true
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
