// Package engine drives a survey editing session: it owns the current
// section pointer, recomputes enablement and validity after every edit, gates
// navigation, and hands encoded state to the external sink on every committed
// section change.
//
// A Controller is not safe for concurrent use. The only work that may run on
// another goroutine is (*Transition).Persist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sbenjam1n/surveyflow/internal/codec"
	"github.com/sbenjam1n/surveyflow/internal/dependency"
	"github.com/sbenjam1n/surveyflow/internal/logger"
	"github.com/sbenjam1n/surveyflow/internal/survey"
	"github.com/sbenjam1n/surveyflow/internal/validator"
)

// Controller is one editing session over one survey.
type Controller struct {
	id        string
	def       *survey.Survey
	state     survey.State
	persisted survey.PersistedState

	enabled []*survey.Section
	current int

	collab    Collaborators
	retry     retryPolicy
	log       *logger.Logger
	inflight  *Transition
	paused    bool
	finished  bool
	listeners []func(ValueChanged)
}

// Open fetches the survey definition, pauses competing flows, decodes the
// persisted state and seats the section pointer. A missing definition or an
// authoring error in it is fatal and no Controller is returned.
func Open(ctx context.Context, id string, collab Collaborators, opts Options) (*Controller, error) {
	if collab.Definitions == nil || collab.Sink == nil {
		return nil, errors.New("engine: definitions and sink collaborators are required")
	}
	opts = opts.withDefaults()
	log := opts.Logger.With("survey_id", id)

	var def *survey.Survey
	paused := false
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := collab.Definitions.FetchDefinition(gctx, id)
		if err != nil {
			return fmt.Errorf("fetch definition %s: %w", id, err)
		}
		if d == nil {
			return fmt.Errorf("fetch definition %s: %w", id, ErrDefinitionNotFound)
		}
		def = d
		return nil
	})
	if collab.Flows != nil {
		g.Go(func() error {
			if err := collab.Flows.Pause(gctx, id); err != nil {
				log.Warn("pause competing flow failed", "error", err)
				return nil
			}
			paused = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if paused {
			_ = collab.Flows.Resume(context.WithoutCancel(ctx), id)
		}
		return nil, err
	}

	if !def.Compiled() {
		if err := def.Compile(); err != nil {
			if paused {
				_ = collab.Flows.Resume(context.WithoutCancel(ctx), id)
			}
			return nil, err
		}
	}

	c := &Controller{
		id:     id,
		def:    def,
		collab: collab,
		log:    log,
		paused: paused,
		retry: retryPolicy{
			attempts: opts.PersistAttempts,
			initial:  opts.PersistBackoff,
			log:      log,
		},
	}
	c.state = codec.Decode(def.State, def)
	codec.DecodeVideo(def.State, def)
	c.current = -1
	c.recompute()
	if i := c.indexOf(def.State.Section); i >= 0 {
		c.current = i
		c.encode()
	}
	log.Debug("survey opened", "sections", len(def.Sections), "enabled", len(c.enabled), "section", c.currentID())
	return c, nil
}

// Close resumes the competing flow if the survey was left without finishing.
func (c *Controller) Close(ctx context.Context) error {
	if !c.paused || c.finished {
		return nil
	}
	c.paused = false
	return c.collab.Flows.Resume(ctx, c.id)
}

// ID returns the survey id.
func (c *Controller) ID() string { return c.id }

// Survey returns the compiled definition with its derived flags.
func (c *Controller) Survey() *survey.Survey { return c.def }

// Persisted returns the current encoded state.
func (c *Controller) Persisted() survey.PersistedState { return c.persisted }

// State returns the internal state. Callers must not modify it; use SetValue.
func (c *Controller) State() survey.State { return c.state }

// OnValueChanged registers fn to be called after every accepted edit.
func (c *Controller) OnValueChanged(fn func(ValueChanged)) {
	c.listeners = append(c.listeners, fn)
}

// recompute re-derives enablement, then validity, then the enabled section
// sequence, then the encoded state. It is the single recomputation pass run
// after every mutation.
func (c *Controller) recompute() {
	for _, sec := range c.def.Sections {
		sec.Enabled = dependency.IsEnabled(sec.Dependencies, c.state)
		for _, it := range sec.Items {
			it.Enabled = dependency.IsEnabled(it.Dependencies, c.state)
		}
	}
	c.validate()

	prevID := c.currentID()
	c.enabled = c.enabled[:0]
	for _, sec := range c.def.Sections {
		if sec.Enabled {
			c.enabled = append(c.enabled, sec)
		}
	}
	// A pointer whose section is no longer enabled falls back to the first
	// enabled section.
	c.current = c.indexOf(prevID)
	if c.current < 0 && len(c.enabled) > 0 {
		c.current = 0
	}
	c.encode()
}

func (c *Controller) validate() {
	for _, sec := range c.def.Sections {
		sec.Messages = make(map[string][]string)
		sec.Valid = true
		for _, it := range sec.Items {
			if !it.Interactive() || !it.Enabled || !sec.Enabled {
				it.Valid = true
				it.Messages = nil
				continue
			}
			msgs, ok := sec.Messages[it.Field]
			if !ok {
				msgs = validator.Validate(codec.Project(it.Field, c.state, c.def), c.def.RuleFor(it.Field))
				if len(msgs) > 0 {
					sec.Messages[it.Field] = msgs
				}
			}
			it.Messages = msgs
			it.Valid = len(msgs) == 0
			if !it.Valid {
				sec.Valid = false
			}
		}
	}
}

func (c *Controller) encode() {
	c.persisted = codec.Encode(c.state, c.def, c.currentID())
}

func (c *Controller) indexOf(sectionID string) int {
	for i, sec := range c.enabled {
		if sec.ID == sectionID {
			return i
		}
	}
	return -1
}

func (c *Controller) currentID() string {
	if c.current < 0 || c.current >= len(c.enabled) {
		return ""
	}
	return c.enabled[c.current].ID
}

// SetValue applies an edit to item and recomputes everything derived from
// state. For choice items value is the item's flag; option items clear their
// siblings when set. Numeric values must be finite and are rounded to the
// item's scale. Nothing navigates as a side effect.
func (c *Controller) SetValue(item *survey.Item, value any) error {
	if c.finished {
		return ErrFinished
	}
	if item == nil || !item.Interactive() || !c.owns(item) {
		return ErrUnknownField
	}
	a := c.state[item.Field]
	if a == nil {
		a = &survey.Answer{}
		c.state[item.Field] = a
	}

	switch {
	case item.Type.IsChoice():
		on, err := toBool(value)
		if err != nil {
			return fmt.Errorf("%w for %s: %v", ErrInvalidValue, item.Field, err)
		}
		if a.Flags == nil {
			a.Flags = make(map[string]bool)
		}
		if item.Type.IsOption() && on {
			for _, sib := range c.def.ItemsFor(item.Field) {
				a.Flags[sib.FlagKey()] = false
			}
		}
		a.Flags[item.FlagKey()] = on
		value = on
	case item.Type == survey.TypeNumeric:
		if s, ok := value.(string); value == nil || (ok && strings.TrimSpace(s) == "") {
			a.Scalar = nil
			value = nil
			break
		}
		n, ok := survey.ToFloat(value)
		if !ok {
			return fmt.Errorf("%w for %s: %v is not a number", ErrInvalidValue, item.Field, value)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return fmt.Errorf("%w for %s: %v is not a finite number", ErrInvalidValue, item.Field, value)
		}
		if item.Scale != nil {
			n = roundTo(n, *item.Scale)
		}
		a.Scalar = n
		value = n
	default:
		if s, ok := value.(string); ok && s == "" {
			value = nil
		}
		a.Scalar = value
	}

	c.recompute()
	ev := ValueChanged{Field: item.Field, Item: item, Value: value}
	for _, fn := range c.listeners {
		fn(ev)
	}
	return nil
}

// SetText applies an edit expressed as text, as typed on a command line.
// Choice fields take the sub-value to select ("blue"); shared boolean fields
// take a comma separated list ("mon,wed") that replaces the selection; a
// single boolean takes true/false. An empty text clears scalar fields.
func (c *Controller) SetText(field, text string) error {
	items := c.def.ItemsFor(field)
	if len(items) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	first := items[0]
	switch {
	case first.Type == survey.TypeBoolean && len(items) == 1:
		return c.SetValue(first, text)
	case first.Type == survey.TypeBoolean:
		want := make(map[string]bool)
		for _, v := range strings.Split(text, ",") {
			if v = strings.TrimSpace(v); v != "" {
				want[v] = true
			}
		}
		unknown := make(map[string]bool, len(want))
		for v := range want {
			unknown[v] = true
		}
		for _, it := range items {
			delete(unknown, it.FlagKey())
		}
		if len(unknown) > 0 {
			return fmt.Errorf("%w for %s: unknown value(s) %v", ErrInvalidValue, field, keys(unknown))
		}
		for _, it := range items {
			if err := c.SetValue(it, want[it.FlagKey()]); err != nil {
				return err
			}
		}
		return nil
	case first.Type.IsOption():
		for _, it := range items {
			if it.FlagKey() == text {
				return c.SetValue(it, true)
			}
		}
		return fmt.Errorf("%w for %s: %q is not an option", ErrInvalidValue, field, text)
	default:
		return c.SetValue(first, text)
	}
}

// RecordVideo adds one playback of seconds to a section's video counters.
func (c *Controller) RecordVideo(sectionID string, seconds float64, completed bool) error {
	sec := c.def.SectionByID(sectionID)
	if sec == nil {
		return fmt.Errorf("unknown section %s", sectionID)
	}
	sec.Video.ViewCount++
	if seconds > 0 {
		sec.Video.ViewDuration += seconds
	}
	sec.Video.Completed = sec.Video.Completed || completed
	c.encode()
	return nil
}

func (c *Controller) owns(item *survey.Item) bool {
	for _, it := range c.def.ItemsFor(item.Field) {
		if it == item {
			return true
		}
	}
	return false
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case nil:
		return false, nil
	}
	s, _ := survey.Canonical(v)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("%v is not a boolean", v)
}

func roundTo(n float64, scale int) float64 {
	p := math.Pow(10, float64(scale))
	return math.Round(n*p) / p
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
