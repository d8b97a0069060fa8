package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sbenjam1n/surveyflow/internal/db"
	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/survey"
)

// PostgresStore keeps definitions, state and history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects to databaseURL.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return NewPostgres(pool), nil
}

// Migrate applies the SQL files in migrationsDir.
func (s *PostgresStore) Migrate(ctx context.Context, migrationsDir string) error {
	return db.Migrate(ctx, s.pool, migrationsDir)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) FetchDefinition(ctx context.Context, id string) (*survey.Survey, error) {
	var definition, state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT definition, state FROM surveys WHERE id = $1`, id,
	).Scan(&definition, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("survey %s: %w", id, survey.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch survey %s: %w", id, err)
	}
	return unmarshalSurvey(definition, state)
}

func (s *PostgresStore) SaveDefinition(ctx context.Context, sv *survey.Survey, resetState bool) error {
	definition, err := marshalDefinition(sv)
	if err != nil {
		return err
	}
	state, err := marshalState(sv.State)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO surveys (id, title, definition, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    definition = EXCLUDED.definition,
		    state = CASE WHEN $5 THEN EXCLUDED.state ELSE surveys.state END,
		    updated_at = now()
	`, sv.ID, sv.Title, definition, state, resetState)
	if err != nil {
		return fmt.Errorf("save survey %s: %w", sv.ID, err)
	}
	return nil
}

func (s *PostgresStore) SaveState(ctx context.Context, id string, st survey.PersistedState) error {
	state, err := marshalState(st)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE surveys SET state = $1, updated_at = now() WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("survey %s: %w", id, survey.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) PersistTransition(ctx context.Context, id string, st survey.PersistedState) error {
	state, err := marshalState(st)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE surveys SET state = $1, updated_at = now() WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("update state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("survey %s: %w", id, survey.ErrNotFound)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO survey_transitions (id, survey_id, section, state)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), id, st.Section, state)
	if err != nil {
		return fmt.Errorf("insert transition %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) InsertCompletion(ctx context.Context, rec CompletionRecord) error {
	state, err := marshalState(rec.State)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO survey_completions (id, survey_id, action, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.SurveyID, string(rec.Action), state, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert completion %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListSurveys(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, COALESCE(state->>'section', ''), updated_at
		FROM surveys
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Title, &sm.Section, &sm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Transitions(ctx context.Context, id string) ([]TransitionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, survey_id, section, state, created_at
		FROM survey_transitions
		WHERE survey_id = $1
		ORDER BY created_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list transitions %s: %w", id, err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		var state []byte
		if err := rows.Scan(&rec.ID, &rec.SurveyID, &rec.Section, &state, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if err := json.Unmarshal(state, &rec.State); err != nil {
			return nil, fmt.Errorf("unmarshal transition %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Completions(ctx context.Context, id string) ([]CompletionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, survey_id, action, state, created_at
		FROM survey_completions
		WHERE survey_id = $1
		ORDER BY created_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list completions %s: %w", id, err)
	}
	defer rows.Close()

	var out []CompletionRecord
	for rows.Next() {
		var rec CompletionRecord
		var action string
		var state []byte
		if err := rows.Scan(&rec.ID, &rec.SurveyID, &action, &state, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		rec.Action = engine.Action(action)
		if err := json.Unmarshal(state, &rec.State); err != nil {
			return nil, fmt.Errorf("unmarshal completion %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
