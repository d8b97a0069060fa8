package survey

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dependency conditions a target on the current value of another field.
// A Null entry was declared without a body. It evaluates like an entry with
// empty value lists and is kept only so the definition round-trips.
type Dependency struct {
	Field         string
	IncludeValues []any
	ExcludeValues []any
	Null          bool
}

// Dependencies is a dependency rule map that remembers declaration order.
type Dependencies []Dependency

type dependencyBody struct {
	IncludeValues []any `yaml:"include_values" json:"include_values,omitempty"`
	ExcludeValues []any `yaml:"exclude_values" json:"exclude_values,omitempty"`
}

// UnmarshalYAML decodes a mapping while keeping its key order.
func (d *Dependencies) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*d = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: dependencies must be a mapping", value.Line)
	}
	out := make(Dependencies, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, body := value.Content[i], value.Content[i+1]
		dep := Dependency{Field: key.Value}
		if body.Kind == yaml.ScalarNode && body.Tag == "!!null" {
			dep.Null = true
		} else {
			var b dependencyBody
			if err := body.Decode(&b); err != nil {
				return fmt.Errorf("dependency %q: %w", key.Value, err)
			}
			dep.IncludeValues = b.IncludeValues
			dep.ExcludeValues = b.ExcludeValues
		}
		out = append(out, dep)
	}
	*d = out
	return nil
}

// UnmarshalJSON decodes an object while keeping its key order.
func (d *Dependencies) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dependencies must be an object")
	}
	var out Dependencies
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field, ok := tok.(string)
		if !ok {
			return fmt.Errorf("dependency key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("dependency %q: %w", field, err)
		}
		dep := Dependency{Field: field}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			dep.Null = true
		} else {
			var b dependencyBody
			if err := json.Unmarshal(raw, &b); err != nil {
				return fmt.Errorf("dependency %q: %w", field, err)
			}
			dep.IncludeValues = b.IncludeValues
			dep.ExcludeValues = b.ExcludeValues
		}
		out = append(out, dep)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}

// MarshalJSON writes the rule map back in declaration order.
func (d Dependencies) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, dep := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(dep.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if dep.Null {
			buf.WriteString("null")
			continue
		}
		body, err := json.Marshal(dependencyBody{
			IncludeValues: dep.IncludeValues,
			ExcludeValues: dep.ExcludeValues,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Fields lists the fields the rule map depends on.
func (d Dependencies) Fields() []string {
	out := make([]string, 0, len(d))
	for _, dep := range d {
		out = append(out, dep.Field)
	}
	return out
}
