// Package dependency decides whether sections and items are enabled.
//
// Entries are evaluated in declaration order and the first entry that
// reaches a decision wins; later entries are not consulted. Entries are not
// combined with AND.
package dependency

import "github.com/sbenjam1n/surveyflow/internal/survey"

// IsEnabled evaluates a dependency rule map against the internal state.
func IsEnabled(deps survey.Dependencies, state survey.State) bool {
	if len(deps) == 0 {
		return true
	}
	for _, dep := range deps {
		// A null body carries no values, so it decides like an empty one.
		if len(dep.ExcludeValues) > 0 && matchesAny(state, dep.Field, dep.ExcludeValues) {
			return false
		}
		if len(dep.IncludeValues) > 0 {
			return matchesAny(state, dep.Field, dep.IncludeValues)
		}
		return true
	}
	return false
}

// Matches reports whether the state of field equals value. Flag state
// matches when the flag keyed by value is set.
func Matches(state survey.State, field string, value any) bool {
	a, ok := state[field]
	if !ok || a == nil {
		return false
	}
	if a.Flags != nil {
		key, ok := survey.Canonical(value)
		return ok && a.Flags[key]
	}
	return survey.Equal(a.Scalar, value)
}

func matchesAny(state survey.State, field string, values []any) bool {
	for _, v := range values {
		if Matches(state, field, v) {
			return true
		}
	}
	return false
}
