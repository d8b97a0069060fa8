package engine

import (
	"context"
	"maps"

	"github.com/google/uuid"

	"github.com/sbenjam1n/surveyflow/internal/survey"
)

// Transition is a committed section change whose persistence is pending.
// It holds its own snapshot of the encoded state, so Persist may run on
// another goroutine while the Controller keeps accepting edits.
type Transition struct {
	SurveyID string
	From     string
	To       string
	State    survey.PersistedState

	sink  StateSink
	retry retryPolicy
	tries int
}

// Persist hands the snapshot to the sink, retrying with exponential backoff.
func (t *Transition) Persist(ctx context.Context) error {
	tries, err := t.retry.do(ctx, "persist transition", func(ctx context.Context) error {
		return t.sink.PersistTransition(ctx, t.SurveyID, t.State)
	})
	t.tries = tries
	return err
}

// EnabledSections returns the enabled section sequence.
func (c *Controller) EnabledSections() []*survey.Section {
	return c.enabled
}

// CurrentIndex is the position of the current section in EnabledSections,
// or -1 when no section is enabled.
func (c *Controller) CurrentIndex() int {
	return c.current
}

// CurrentSection returns the current section, or nil when none is enabled.
func (c *Controller) CurrentSection() *survey.Section {
	if c.current < 0 || c.current >= len(c.enabled) {
		return nil
	}
	return c.enabled[c.current]
}

// InFlight reports whether a transition is waiting for persistence.
func (c *Controller) InFlight() bool {
	return c.inflight != nil
}

// CanMoveToSection reports whether the section at target in the enabled
// sequence may become current: going back or staying is always allowed,
// going forward requires every earlier enabled section to be valid.
func (c *Controller) CanMoveToSection(target int) bool {
	if target < 0 || target >= len(c.enabled) {
		return false
	}
	if target <= c.current {
		return true
	}
	for _, sec := range c.enabled[:target] {
		if !sec.Valid {
			return false
		}
	}
	return true
}

func (c *Controller) CanMoveNext() bool { return c.CanMoveToSection(c.current + 1) }

func (c *Controller) CanMovePrev() bool { return c.current > 0 }

func (c *Controller) IsFirstPage() bool { return c.current <= 0 }

func (c *Controller) IsLastPage() bool { return c.current >= len(c.enabled)-1 }

// BeginTransition moves the pointer to target and returns the transition
// that must be persisted and then passed to EndTransition. A denied move
// returns ok=false and no error. Staying on the current section returns
// ok=true with a nil transition.
func (c *Controller) BeginTransition(target int) (t *Transition, ok bool, err error) {
	if c.finished {
		return nil, false, ErrFinished
	}
	if c.inflight != nil {
		return nil, false, ErrTransitionInFlight
	}
	if !c.CanMoveToSection(target) {
		return nil, false, nil
	}
	if target == c.current {
		return nil, true, nil
	}

	from := c.currentID()
	c.current = target
	c.encode()
	t = &Transition{
		SurveyID: c.id,
		From:     from,
		To:       c.currentID(),
		State:    survey.PersistedState{Section: c.persisted.Section, Data: maps.Clone(c.persisted.Data)},
		sink:     c.collab.Sink,
		retry:    c.retry,
	}
	c.inflight = t
	c.log.Debug("section transition started", "from", t.From, "to", t.To)
	return t, true, nil
}

// EndTransition releases the in-flight token. When persistErr is non-nil
// the pointer is rolled back to the section the transition left and a
// *PersistenceError is returned.
func (c *Controller) EndTransition(t *Transition, persistErr error) error {
	if t == nil || t != c.inflight {
		return nil
	}
	c.inflight = nil
	if persistErr == nil {
		c.log.Info("section committed", "section", t.To)
		return nil
	}

	if i := c.indexOf(t.From); i >= 0 {
		c.current = i
	}
	c.encode()
	c.log.Error("section transition rolled back", "from", t.To, "to", c.currentID(),
		"attempts", t.tries, "error", persistErr)
	return &PersistenceError{SurveyID: c.id, Section: t.To, Attempts: t.tries, Err: persistErr}
}

// SetSection moves to target and persists synchronously. A denied move
// returns false with no error and leaves the pointer unchanged.
func (c *Controller) SetSection(ctx context.Context, target int) (bool, error) {
	t, ok, err := c.BeginTransition(target)
	if err != nil || !ok || t == nil {
		return ok, err
	}
	if err := c.EndTransition(t, t.Persist(ctx)); err != nil {
		return false, err
	}
	return true, nil
}

// SetSectionByID is SetSection addressed by section id. Disabled or unknown
// sections are denied.
func (c *Controller) SetSectionByID(ctx context.Context, id string) (bool, error) {
	i := c.indexOf(id)
	if i < 0 {
		return false, nil
	}
	return c.SetSection(ctx, i)
}

// MoveNext moves one enabled section forward. At the last page it does nothing.
func (c *Controller) MoveNext(ctx context.Context) (bool, error) {
	if c.current+1 >= len(c.enabled) {
		return false, nil
	}
	return c.SetSection(ctx, c.current+1)
}

// MovePrev moves one enabled section back. At the first page it does nothing.
func (c *Controller) MovePrev(ctx context.Context) (bool, error) {
	if c.current <= 0 {
		return false, nil
	}
	return c.SetSection(ctx, c.current-1)
}

// CompleteSurvey marks every field of the current section touched,
// revalidates, and reports whether the section is valid. It does not end
// the flow; see Finish.
func (c *Controller) CompleteSurvey() bool {
	sec := c.CurrentSection()
	if sec == nil {
		return true
	}
	for _, it := range sec.Items {
		if it.Interactive() {
			it.Touched = true
		}
	}
	c.recompute()
	return sec.Valid
}

// Finish records a terminal action with the final persisted state and
// resumes any paused flow. Submitting requires the current section to be
// valid.
func (c *Controller) Finish(ctx context.Context, action Action) error {
	if c.finished {
		return ErrFinished
	}
	if c.inflight != nil {
		return ErrTransitionInFlight
	}
	if action == ActionSubmit && !c.CompleteSurvey() {
		return ErrSectionInvalid
	}

	state := c.persisted
	done := Completion{ID: uuid.NewString(), Action: action, State: state}
	tries, err := c.retry.do(ctx, "record completion", func(ctx context.Context) error {
		return c.collab.Sink.RecordCompletion(ctx, c.id, done)
	})
	if err != nil {
		return &PersistenceError{SurveyID: c.id, Section: state.Section, Attempts: tries, Err: err}
	}
	c.finished = true
	c.log.Info("survey finished", "action", action, "section", state.Section, "completion_id", done.ID)

	if c.paused {
		c.paused = false
		if err := c.collab.Flows.Resume(ctx, c.id); err != nil {
			c.log.Warn("resume competing flow failed", "error", err)
		}
	}
	return nil
}

// Touch marks an item as focused by the respondent.
func (c *Controller) Touch(item *survey.Item) {
	item.Touched = true
}
