package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/survey"
)

// Summary is one row of the survey listing.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Section   string    `json:"section"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransitionRecord is one persisted section change.
type TransitionRecord struct {
	ID        string                `json:"id"`
	SurveyID  string                `json:"survey_id"`
	Section   string                `json:"section"`
	State     survey.PersistedState `json:"state"`
	CreatedAt time.Time             `json:"created_at"`
}

// CompletionRecord is one terminal action with its final state.
type CompletionRecord struct {
	ID        string                `json:"id"`
	SurveyID  string                `json:"survey_id"`
	Action    engine.Action         `json:"action"`
	State     survey.PersistedState `json:"state"`
	CreatedAt time.Time             `json:"created_at"`
}

// Store is the durable backend behind the engine's collaborators.
type Store interface {
	engine.DefinitionSource

	// SaveDefinition inserts or replaces a definition. The stored state is
	// kept unless resetState is set or the survey is new.
	SaveDefinition(ctx context.Context, s *survey.Survey, resetState bool) error
	SaveState(ctx context.Context, id string, state survey.PersistedState) error
	// PersistTransition saves state and appends a transition record atomically.
	PersistTransition(ctx context.Context, id string, state survey.PersistedState) error
	// InsertCompletion is idempotent on the record id.
	InsertCompletion(ctx context.Context, rec CompletionRecord) error

	ListSurveys(ctx context.Context) ([]Summary, error)
	Transitions(ctx context.Context, id string) ([]TransitionRecord, error)
	Completions(ctx context.Context, id string) ([]CompletionRecord, error)

	Close() error
}

// CompletionPublisher hands completion records to an asynchronous archiver.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, rec CompletionRecord) error
}

// Sink adapts a Store, and optionally a publisher, to engine.StateSink.
// Without a publisher completions are written to the store directly.
type Sink struct {
	Store  Store
	Events CompletionPublisher
	Now    func() time.Time
}

var _ engine.StateSink = (*Sink)(nil)

func (s *Sink) PersistTransition(ctx context.Context, id string, state survey.PersistedState) error {
	return s.Store.PersistTransition(ctx, id, state)
}

// RecordCompletion saves the final state and hands the completion on. The
// record keeps the engine's completion id, so a retried call that already
// reached Redis or the store is archived once.
func (s *Sink) RecordCompletion(ctx context.Context, id string, c engine.Completion) error {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	rec := CompletionRecord{
		ID:        c.ID,
		SurveyID:  id,
		Action:    c.Action,
		State:     c.State,
		CreatedAt: now,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.Store.SaveState(ctx, id, c.State); err != nil {
		return err
	}
	if s.Events != nil {
		return s.Events.PublishCompletion(ctx, rec)
	}
	return s.Store.InsertCompletion(ctx, rec)
}

func marshalDefinition(s *survey.Survey) ([]byte, error) {
	def := *s
	def.State = survey.PersistedState{}
	data, err := json.Marshal(&def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition %s: %w", s.ID, err)
	}
	return data, nil
}

func marshalState(state survey.PersistedState) ([]byte, error) {
	if state.Data == nil {
		state.Data = map[string]any{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

func unmarshalSurvey(definition, state []byte) (*survey.Survey, error) {
	s, err := survey.ParseJSON(definition)
	if err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &s.State); err != nil {
			return nil, fmt.Errorf("unmarshal state for %s: %w", s.ID, err)
		}
	}
	return s, nil
}
