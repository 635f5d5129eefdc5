package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind enumerates the value types a shape contract can require.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Property describes one node of a shape contract: its type, enumeration
// constraints, array bounds, and (for objects) child properties with their
// required-ness. Contracts are declarative data, not code, so the same value
// is both serialized into the request as a JSON schema and used to validate
// the parsed reply.
type Property struct {
	Kind        Kind
	Description string
	Enum        []string            // allowed values, strings only
	MinItems    int                 // arrays; 0 = unbounded
	MaxItems    int                 // arrays; 0 = unbounded
	Items       *Property           // arrays: element shape
	Properties  map[string]Property // objects: child shapes
	Required    []string            // objects: required child names
}

// Schema is a named shape contract handed to the completion service and
// checked against its output. Validation failure is the shape-violation
// error class, distinct from transport failure.
type Schema struct {
	Name string
	Root Property
}

// JSON renders the contract as a JSON schema document for the request's
// response_format. Best-effort: servers without structured-output support
// ignore it, which is why Validate exists.
func (s *Schema) JSON() []byte {
	out, err := json.Marshal(s.Root.jsonSchema())
	if err != nil {
		// Properties are plain data; marshalling them cannot fail in practice.
		return []byte(`{"type":"object"}`)
	}
	return out
}

func (p Property) jsonSchema() map[string]any {
	node := map[string]any{"type": string(p.Kind)}
	if p.Description != "" {
		node["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		node["enum"] = p.Enum
	}
	switch p.Kind {
	case KindArray:
		if p.Items != nil {
			node["items"] = p.Items.jsonSchema()
		}
		if p.MinItems > 0 {
			node["minItems"] = p.MinItems
		}
		if p.MaxItems > 0 {
			node["maxItems"] = p.MaxItems
		}
	case KindObject:
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = child.jsonSchema()
		}
		node["properties"] = props
		if len(p.Required) > 0 {
			node["required"] = p.Required
		}
	}
	return node
}

// Validate checks raw JSON against the contract. A nil error means the
// output can be trusted by downstream converters; wrong types, missing
// required fields, and enum misses are reported as an ErrorTypeShape error
// naming the offending path. Array bound deviations are incomplete-but-usable
// data, returned as advisories for the caller to log rather than failing
// validation.
func (s *Schema) Validate(raw []byte) ([]string, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, NewShapeError("response is not valid JSON", err)
	}
	var advisories []string
	if err := s.Root.validate(value, "$", &advisories); err != nil {
		return advisories, NewShapeError(err.Error(), nil)
	}
	return advisories, nil
}

func (p Property) validate(value any, path string, advisories *[]string) error {
	switch p.Kind {
	case KindString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
		if len(p.Enum) > 0 && !contains(p.Enum, str) {
			return fmt.Errorf("%s: %q not in enumeration", path, str)
		}

	case KindNumber, KindInteger:
		// Models regularly quote numbers; a numeric string satisfies the
		// contract because the parser accepts it downstream.
		switch v := value.(type) {
		case float64:
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return fmt.Errorf("%s: expected number, got non-numeric string %q", path, v)
			}
		default:
			return fmt.Errorf("%s: expected number, got %T", path, value)
		}

	case KindBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}

	case KindArray:
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		if p.MinItems > 0 && len(arr) < p.MinItems {
			*advisories = append(*advisories,
				fmt.Sprintf("%s: expected at least %d items, got %d", path, p.MinItems, len(arr)))
		}
		if p.MaxItems > 0 && len(arr) > p.MaxItems {
			*advisories = append(*advisories,
				fmt.Sprintf("%s: expected at most %d items, got %d", path, p.MaxItems, len(arr)))
		}
		if p.Items != nil {
			for i, item := range arr {
				if err := p.Items.validate(item, fmt.Sprintf("%s[%d]", path, i), advisories); err != nil {
					return err
				}
			}
		}

	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		for _, name := range p.Required {
			if _, present := obj[name]; !present {
				return fmt.Errorf("%s: missing required field %q", path, name)
			}
		}
		for name, child := range p.Properties {
			fieldValue, present := obj[name]
			if !present || fieldValue == nil {
				continue
			}
			if err := child.validate(fieldValue, path+"."+name, advisories); err != nil {
				return err
			}
		}
	}

	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
