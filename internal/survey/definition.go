package survey

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionError lists every authoring problem found while compiling.
type DefinitionError struct {
	SurveyID string
	Problems []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("survey %q: %d definition problem(s): %s",
		e.SurveyID, len(e.Problems), strings.Join(e.Problems, "; "))
}

// LoadFile reads a YAML or JSON definition from disk. The format is chosen
// by extension; anything other than .json is parsed as YAML.
func LoadFile(path string) (*Survey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a definition without compiling it.
func ParseYAML(data []byte) (*Survey, error) {
	var s Survey
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse yaml definition: %w", err)
	}
	return &s, nil
}

// ParseJSON decodes a definition without compiling it.
func ParseJSON(data []byte) (*Survey, error) {
	var s Survey
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse json definition: %w", err)
	}
	return &s, nil
}

func family(t FieldType) string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeOption, TypeSegmentOptions:
		return "option"
	}
	return string(t)
}

// Compile checks the definition's invariants, compiles validation patterns
// and builds the field lookup indices. It must succeed before a survey is
// handed to the codec or the engine.
func (s *Survey) Compile() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	s.fieldItems = make(map[string][]*Item)
	s.fieldRules = make(map[string]*ValidationRule)
	s.fieldTypes = make(map[string]FieldType)
	owner := make(map[string]string)
	sectionIDs := make(map[string]bool)

	if len(s.Sections) == 0 {
		addf("no sections")
	}

	for i, sec := range s.Sections {
		if sec == nil {
			addf("section %d is empty", i)
			continue
		}
		if sec.ID == "" {
			addf("section %d has no id", i)
		} else if sectionIDs[sec.ID] {
			addf("duplicate section id %q", sec.ID)
		}
		sectionIDs[sec.ID] = true

		for j, it := range sec.Items {
			if it == nil {
				addf("section %q item %d is empty", sec.ID, j)
				continue
			}
			it.Section = sec
			if !it.Type.Valid() {
				addf("section %q item %d: unknown type %q", sec.ID, j, it.Type)
				continue
			}
			if it.Type == TypeInfo {
				continue
			}
			if it.Field == "" {
				addf("section %q item %d: %s item has no field", sec.ID, j, it.Type)
				continue
			}
			if strings.HasPrefix(it.Field, ReservedPrefix) {
				addf("field %q uses the reserved prefix %q", it.Field, ReservedPrefix)
				continue
			}
			if prev, ok := owner[it.Field]; ok && prev != sec.ID {
				addf("field %q appears in sections %q and %q", it.Field, prev, sec.ID)
				continue
			}
			owner[it.Field] = sec.ID
			if prevType, ok := s.fieldTypes[it.Field]; ok && family(prevType) != family(it.Type) {
				addf("field %q mixes types %s and %s", it.Field, prevType, it.Type)
				continue
			}
			if it.Type.IsOption() && it.Value == "" {
				addf("field %q: %s item has no value", it.Field, it.Type)
			}
			if it.Scale != nil && (it.Type != TypeNumeric || *it.Scale < 0) {
				addf("field %q: scale %d is only allowed as a non-negative value on numeric items", it.Field, *it.Scale)
			}
			s.fieldTypes[it.Field] = it.Type
			s.fieldItems[it.Field] = append(s.fieldItems[it.Field], it)
		}
	}

	for field, items := range s.fieldItems {
		if !items[0].Type.IsChoice() {
			continue
		}
		seen := make(map[string]bool, len(items))
		for _, it := range items {
			if len(items) > 1 && it.Value == "" {
				addf("field %q is shared by %d items but one has no value", field, len(items))
			}
			if seen[it.FlagKey()] {
				addf("field %q repeats value %q", field, it.FlagKey())
			}
			seen[it.FlagKey()] = true
		}
	}

	for _, sec := range s.Sections {
		if sec == nil {
			continue
		}
		for field, rule := range sec.Validations {
			if rule == nil {
				continue
			}
			if owner[field] != sec.ID {
				addf("section %q has a validation rule for field %q it does not own", sec.ID, field)
				continue
			}
			if err := rule.Compile(); err != nil {
				addf("field %q: invalid reg_ex: %v", field, err)
				continue
			}
			if rule.MinValue != nil && rule.MaxValue != nil && *rule.MinValue > *rule.MaxValue {
				addf("field %q: min_value %v exceeds max_value %v", field, *rule.MinValue, *rule.MaxValue)
			}
			s.fieldRules[field] = rule
		}
	}

	if len(problems) > 0 {
		s.compiled = false
		return &DefinitionError{SurveyID: s.ID, Problems: problems}
	}
	for field, items := range s.fieldItems {
		rule := s.fieldRules[field]
		for _, it := range items {
			it.Required = rule != nil && rule.Required
		}
	}
	if s.State.Data == nil {
		s.State.Data = make(map[string]any)
	}
	s.compiled = true
	return nil
}

// Compiled reports whether Compile has succeeded.
func (s *Survey) Compiled() bool {
	return s.compiled
}

// ItemsFor returns the items sharing field, in definition order.
func (s *Survey) ItemsFor(field string) []*Item {
	return s.fieldItems[field]
}

// RuleFor returns the validation rule for field, or nil.
func (s *Survey) RuleFor(field string) *ValidationRule {
	return s.fieldRules[field]
}

// TypeOf returns the declared type of field.
func (s *Survey) TypeOf(field string) (FieldType, bool) {
	t, ok := s.fieldTypes[field]
	return t, ok
}

// SectionByID returns the section with id, or nil.
func (s *Survey) SectionByID(id string) *Section {
	for _, sec := range s.Sections {
		if sec.ID == id {
			return sec
		}
	}
	return nil
}

// SectionFields lists the distinct interactive fields of a section in
// definition order.
func (sec *Section) SectionFields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range sec.Items {
		if !it.Interactive() || seen[it.Field] {
			continue
		}
		seen[it.Field] = true
		out = append(out, it.Field)
	}
	return out
}

// VideoKeys returns the persisted keys for a section's video counters.
func VideoKeys(sectionID string) (completed, viewCount, viewDuration string) {
	prefix := "video_" + sectionID
	return prefix + "_completed", prefix + "_view_count", prefix + "_view_duration"
}

// Fields lists every interactive field in definition order.
func (s *Survey) Fields() []string {
	var out []string
	for _, sec := range s.Sections {
		out = append(out, sec.SectionFields()...)
	}
	return out
}
