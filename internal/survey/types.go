package survey

import "regexp"

// FieldType is the closed set of item kinds a definition may declare.
type FieldType string

const (
	TypeBoolean        FieldType = "boolean"
	TypeOption         FieldType = "option"
	TypeSegmentOptions FieldType = "segment_options"
	TypeNumeric        FieldType = "numeric"
	TypeLongText       FieldType = "long_text"
	TypeShortText      FieldType = "short_text"
	TypeDate           FieldType = "date"
	TypeInfo           FieldType = "info"
)

// ReservedPrefix marks caller-owned fields that bypass all typed transforms.
const ReservedPrefix = "__"

// FlagTrue is the flag key used by choice items that carry no value.
const FlagTrue = "true"

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeBoolean, TypeOption, TypeSegmentOptions, TypeNumeric,
		TypeLongText, TypeShortText, TypeDate, TypeInfo:
		return true
	}
	return false
}

// IsChoice reports whether the type stores per-item flags.
func (t FieldType) IsChoice() bool {
	return t == TypeBoolean || t == TypeOption || t == TypeSegmentOptions
}

// IsOption reports whether the type selects a single value. This includes
// segment_options: its items share one field and, like option, persist one
// selected value, so selecting one clears the others.
func (t FieldType) IsOption() bool {
	return t == TypeOption || t == TypeSegmentOptions
}

// Survey is a full form definition plus its persisted state.
type Survey struct {
	ID       string         `yaml:"id"       json:"id"`
	Title    string         `yaml:"title"    json:"title,omitempty"`
	Sections []*Section     `yaml:"sections" json:"sections"`
	State    PersistedState `yaml:"state"    json:"state"`

	fieldItems map[string][]*Item
	fieldRules map[string]*ValidationRule
	fieldTypes map[string]FieldType
	compiled   bool
}

// Section is a navigable page of a survey.
type Section struct {
	ID           string                     `yaml:"id"           json:"id"`
	Title        string                     `yaml:"title"        json:"title,omitempty"`
	Description  string                     `yaml:"description"  json:"description,omitempty"`
	Items        []*Item                    `yaml:"items"        json:"items"`
	Dependencies Dependencies               `yaml:"dependencies" json:"dependencies,omitempty"`
	Validations  map[string]*ValidationRule `yaml:"validations"  json:"validations,omitempty"`
	Video        VideoStats                 `yaml:"-"            json:"-"`

	Enabled  bool                `yaml:"-" json:"-"`
	Valid    bool                `yaml:"-" json:"-"`
	Messages map[string][]string `yaml:"-" json:"-"`
}

// Item is a single data-entry point. Several items may share a field name.
type Item struct {
	Field        string       `yaml:"field"        json:"field,omitempty"`
	Type         FieldType    `yaml:"type"         json:"type"`
	Value        string       `yaml:"value"        json:"value,omitempty"`
	Label        string       `yaml:"label"        json:"label,omitempty"`
	Scale        *int         `yaml:"scale"        json:"scale,omitempty"`
	Dependencies Dependencies `yaml:"dependencies" json:"dependencies,omitempty"`

	Section  *Section `yaml:"-" json:"-"`
	Enabled  bool     `yaml:"-" json:"-"`
	Valid    bool     `yaml:"-" json:"-"`
	Messages []string `yaml:"-" json:"-"`
	Required bool     `yaml:"-" json:"-"`
	Touched  bool     `yaml:"-" json:"-"`
}

// FlagKey is the key this item toggles in its field's flag map.
func (it *Item) FlagKey() string {
	if it.Value == "" {
		return FlagTrue
	}
	return it.Value
}

// Interactive reports whether the item takes part in state and validation.
func (it *Item) Interactive() bool {
	return it.Field != "" && it.Type != TypeInfo
}

// ValidationRule constrains the value of one field.
type ValidationRule struct {
	Required bool     `yaml:"required"  json:"required,omitempty"`
	MinValue *float64 `yaml:"min_value" json:"min_value,omitempty"`
	MaxValue *float64 `yaml:"max_value" json:"max_value,omitempty"`
	RegEx    string   `yaml:"reg_ex"    json:"reg_ex,omitempty"`

	pattern *regexp.Regexp
}

// Pattern returns the compiled reg_ex, or nil when none is set or the rule
// has not been compiled.
func (r *ValidationRule) Pattern() *regexp.Regexp {
	return r.pattern
}

// Compile prepares the rule's pattern.
func (r *ValidationRule) Compile() error {
	if r.RegEx == "" {
		r.pattern = nil
		return nil
	}
	re, err := regexp.Compile(r.RegEx)
	if err != nil {
		return err
	}
	r.pattern = re
	return nil
}

// VideoStats holds section-level playback counters.
type VideoStats struct {
	ViewCount    int     `json:"view_count"`
	ViewDuration float64 `json:"view_duration"`
	Completed    bool    `json:"completed"`
}

// PersistedState is the compact representation written to the external store.
type PersistedState struct {
	Section string         `yaml:"section" json:"section"`
	Data    map[string]any `yaml:"data"    json:"data"`
}

// Answer is the in-memory value of one field. Scalar is used by
// numeric/text/date and reserved fields, Flags by choice fields.
type Answer struct {
	Scalar any
	Flags  map[string]bool
}

// State is the internal, editable representation keyed by field name.
type State map[string]*Answer

// Flag reports whether key is set for field.
func (s State) Flag(field, key string) bool {
	a, ok := s[field]
	if !ok || a == nil {
		return false
	}
	return a.Flags[key]
}

// Scalar returns the scalar stored for field, or nil.
func (s State) Scalar(field string) any {
	a, ok := s[field]
	if !ok || a == nil {
		return nil
	}
	return a.Scalar
}
