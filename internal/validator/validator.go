package validator

import (
	"fmt"
	"reflect"

	"github.com/sbenjam1n/surveyflow/internal/survey"
)

// Messages returned for rule violations. They are shown to respondents as-is.
const (
	MsgRequired          = "A value is required"
	MsgSelectionRequired = "A selection is required"
	MsgFormat            = "Value is not in the correct format"
)

// Validate checks value against rule and returns every violation.
// An empty result means the value is valid. The rule's reg_ex must already
// be compiled; an uncompiled pattern is skipped.
func Validate(value any, rule *survey.ValidationRule) []string {
	if rule == nil {
		return nil
	}
	var msgs []string

	if value == nil {
		if rule.Required {
			msgs = append(msgs, MsgRequired)
		}
		return msgs
	}

	if isList(value) {
		if rule.Required && reflect.ValueOf(value).Len() == 0 {
			msgs = append(msgs, MsgSelectionRequired)
		}
		return msgs
	}

	if n, ok := survey.ToFloat(value); ok {
		if rule.MinValue != nil && n < *rule.MinValue {
			msgs = append(msgs, fmt.Sprintf("Value cannot be less than %s", survey.FormatNumber(*rule.MinValue)))
		}
		if rule.MaxValue != nil && n > *rule.MaxValue {
			msgs = append(msgs, fmt.Sprintf("Value cannot be greater than %s", survey.FormatNumber(*rule.MaxValue)))
		}
	}

	if re := rule.Pattern(); re != nil {
		s, ok := survey.Canonical(value)
		if !ok {
			s = fmt.Sprint(value)
		}
		if !re.MatchString(s) {
			msgs = append(msgs, MsgFormat)
		}
	}
	return msgs
}

func isList(v any) bool {
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
