package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sbenjam1n/surveyflow/internal/logger"
	"github.com/sbenjam1n/surveyflow/internal/survey"
)

// DefinitionSource loads survey definitions together with their last
// persisted state. Unknown ids must yield an error wrapping survey.ErrNotFound.
type DefinitionSource interface {
	FetchDefinition(ctx context.Context, id string) (*survey.Survey, error)
}

// FlowSuspender pauses any competing presentation flow while a survey is open.
type FlowSuspender interface {
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
}

// StateSink receives persisted state on section changes and on completion.
type StateSink interface {
	PersistTransition(ctx context.Context, id string, state survey.PersistedState) error
	RecordCompletion(ctx context.Context, id string, c Completion) error
}

// Completion is a terminal action with the state it was taken in. ID stays
// the same across every retry of one Finish so sinks can drop duplicates.
type Completion struct {
	ID     string
	Action Action
	State  survey.PersistedState
}

// Collaborators bundles the external services a Controller talks to.
// Flows is optional.
type Collaborators struct {
	Definitions DefinitionSource
	Flows       FlowSuspender
	Sink        StateSink
}

// Action is a terminal user action.
type Action string

const (
	ActionSubmit Action = "submit"
	ActionCancel Action = "cancel"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionSubmit || a == ActionCancel
}

var (
	// ErrDefinitionNotFound is fatal: the flow cannot start.
	ErrDefinitionNotFound = survey.ErrNotFound
	// ErrTransitionInFlight rejects a section commit while another is being persisted.
	ErrTransitionInFlight = errors.New("a section transition is already being persisted")
	// ErrSectionInvalid is returned when submitting with an invalid current section.
	ErrSectionInvalid = errors.New("current section is not valid")
	// ErrFinished is returned for operations after Finish has succeeded.
	ErrFinished = errors.New("survey flow already finished")
	// ErrUnknownField is returned when setting a value on a field the survey does not define.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue is returned when a value cannot be stored for a field's type.
	ErrInvalidValue = errors.New("invalid value")
)

// PersistenceError reports that the sink kept failing after all retries.
type PersistenceError struct {
	SurveyID string
	Section  string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist survey %s at section %s failed after %d attempt(s): %v",
		e.SurveyID, e.Section, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ValueChanged is raised after every accepted edit.
type ValueChanged struct {
	Field string
	Item  *survey.Item
	Value any
}

// Options tunes a Controller. Zero values select the defaults.
type Options struct {
	Logger          *logger.Logger
	PersistAttempts int
	PersistBackoff  time.Duration
}

const (
	defaultPersistAttempts = 4
	defaultPersistBackoff  = 200 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.PersistAttempts <= 0 {
		o.PersistAttempts = defaultPersistAttempts
	}
	if o.PersistBackoff <= 0 {
		o.PersistBackoff = defaultPersistBackoff
	}
	return o
}
