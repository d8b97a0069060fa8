// Package codec converts survey state between the persisted representation
// and the internal, per-item flag representation.
//
// Encode reads the derived Enabled flags of sections and items, so callers
// must recompute enablement before encoding.
package codec

import (
	"reflect"
	"strings"

	"github.com/sbenjam1n/surveyflow/internal/survey"
)

// Decode builds the internal state for every field of def from persisted.
// Fields absent from persisted decode to an empty answer.
func Decode(persisted survey.PersistedState, def *survey.Survey) survey.State {
	state := make(survey.State)
	for _, field := range def.Fields() {
		items := def.ItemsFor(field)
		if len(items) == 0 {
			continue
		}
		raw, present := persisted.Data[field]
		if !items[0].Type.IsChoice() {
			state[field] = &survey.Answer{Scalar: raw}
			continue
		}
		a := &survey.Answer{Flags: make(map[string]bool, len(items))}
		if present && raw != nil {
			for _, it := range items {
				a.Flags[it.FlagKey()] = decodeFlag(raw, it, len(items))
			}
		}
		state[field] = a
	}
	for key, raw := range persisted.Data {
		if strings.HasPrefix(key, survey.ReservedPrefix) {
			state[key] = &survey.Answer{Scalar: raw}
		}
	}
	return state
}

func decodeFlag(raw any, it *survey.Item, shared int) bool {
	if list, ok := asList(raw); ok {
		for _, v := range list {
			if survey.Equal(v, it.FlagKey()) {
				return true
			}
		}
		return false
	}
	if it.Type == survey.TypeBoolean && shared == 1 {
		return survey.Equal(raw, true)
	}
	return survey.Equal(raw, it.FlagKey())
}

// DecodeVideo restores the section video counters stored in persisted.
func DecodeVideo(persisted survey.PersistedState, def *survey.Survey) {
	for _, sec := range def.Sections {
		completedKey, countKey, durationKey := survey.VideoKeys(sec.ID)
		var v survey.VideoStats
		if c, ok := persisted.Data[completedKey].(bool); ok {
			v.Completed = c
		}
		if n, ok := survey.ToFloat(persisted.Data[countKey]); ok {
			v.ViewCount = int(n)
		}
		if d, ok := survey.ToFloat(persisted.Data[durationKey]); ok {
			v.ViewDuration = d
		}
		sec.Video = v
	}
}

// Encode writes the persisted form of state. Only enabled sections and
// enabled items contribute; reserved-prefix fields pass through unchanged.
func Encode(state survey.State, def *survey.Survey, sectionID string) survey.PersistedState {
	data := make(map[string]any)
	for _, sec := range def.Sections {
		if !sec.Enabled {
			continue
		}
		for _, field := range sec.SectionFields() {
			if v, ok := encodeField(field, state, def); ok {
				data[field] = v
			}
		}
		if sec.Video != (survey.VideoStats{}) {
			completedKey, countKey, durationKey := survey.VideoKeys(sec.ID)
			data[completedKey] = sec.Video.Completed
			data[countKey] = sec.Video.ViewCount
			data[durationKey] = sec.Video.ViewDuration
		}
	}
	for key, a := range state {
		if strings.HasPrefix(key, survey.ReservedPrefix) && a != nil {
			data[key] = a.Scalar
		}
	}
	return survey.PersistedState{Section: sectionID, Data: data}
}

func encodeField(field string, state survey.State, def *survey.Survey) (any, bool) {
	items := enabledItems(def.ItemsFor(field))
	if len(items) == 0 {
		return nil, false
	}
	a := state[field]
	if a == nil {
		return nil, false
	}

	switch t := items[0].Type; {
	case t == survey.TypeBoolean && len(def.ItemsFor(field)) == 1:
		v, ok := a.Flags[items[0].FlagKey()]
		return v, ok
	case t == survey.TypeBoolean:
		var selected []string
		for _, it := range items {
			if a.Flags[it.FlagKey()] {
				selected = append(selected, it.FlagKey())
			}
		}
		return selected, len(selected) > 0
	case t.IsOption():
		for _, it := range items {
			if a.Flags[it.FlagKey()] {
				return it.FlagKey(), true
			}
		}
		return nil, false
	default:
		return a.Scalar, a.Scalar != nil
	}
}

// Project returns the persisted value of one field for validation. Unlike
// Encode it reports an empty selection as an empty slice.
func Project(field string, state survey.State, def *survey.Survey) any {
	all := def.ItemsFor(field)
	if len(all) == 0 {
		return state.Scalar(field)
	}
	if all[0].Type == survey.TypeBoolean && len(all) > 1 {
		if v, ok := encodeField(field, state, def); ok {
			return v
		}
		return []string{}
	}
	v, _ := encodeField(field, state, def)
	return v
}

func enabledItems(items []*survey.Item) []*survey.Item {
	out := make([]*survey.Item, 0, len(items))
	for _, it := range items {
		if it.Enabled && (it.Section == nil || it.Section.Enabled) {
			out = append(out, it)
		}
	}
	return out
}

func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
