package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/survey"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS surveys (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	definition  TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS survey_transitions (
	id          TEXT PRIMARY KEY,
	survey_id   TEXT NOT NULL,
	section     TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (survey_id) REFERENCES surveys(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS survey_completions (
	id          TEXT PRIMARY KEY,
	survey_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (survey_id) REFERENCES surveys(id) ON DELETE CASCADE
);
`

// SQLiteStore keeps definitions, state and history in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp() string {
	return s.now().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) FetchDefinition(ctx context.Context, id string) (*survey.Survey, error) {
	var definition, state string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition, state FROM surveys WHERE id = ?`, id,
	).Scan(&definition, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("survey %s: %w", id, survey.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch survey %s: %w", id, err)
	}
	return unmarshalSurvey([]byte(definition), []byte(state))
}

func (s *SQLiteStore) SaveDefinition(ctx context.Context, sv *survey.Survey, resetState bool) error {
	definition, err := marshalDefinition(sv)
	if err != nil {
		return err
	}
	state, err := marshalState(sv.State)
	if err != nil {
		return err
	}
	now := s.stamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO surveys (id, title, definition, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET title = excluded.title,
		    definition = excluded.definition,
		    state = CASE WHEN ? THEN excluded.state ELSE surveys.state END,
		    updated_at = excluded.updated_at
	`, sv.ID, sv.Title, string(definition), string(state), now, now, resetState)
	if err != nil {
		return fmt.Errorf("save survey %s: %w", sv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, id string, st survey.PersistedState) error {
	return s.saveState(ctx, s.db, id, st)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) saveState(ctx context.Context, ex execer, id string, st survey.PersistedState) error {
	state, err := marshalState(st)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE surveys SET state = ?, updated_at = ? WHERE id = ?`, string(state), s.stamp(), id)
	if err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("survey %s: %w", id, survey.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) PersistTransition(ctx context.Context, id string, st survey.PersistedState) error {
	state, err := marshalState(st)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.saveState(ctx, tx, id, st); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO survey_transitions (id, survey_id, section, state, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), id, st.Section, string(state), s.stamp())
	if err != nil {
		return fmt.Errorf("insert transition %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertCompletion(ctx context.Context, rec CompletionRecord) error {
	state, err := marshalState(rec.State)
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO survey_completions (id, survey_id, action, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.SurveyID, string(rec.Action), string(state), created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert completion %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListSurveys(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, state, updated_at FROM surveys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var state, updated string
		if err := rows.Scan(&sm.ID, &sm.Title, &state, &updated); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		var st survey.PersistedState
		if err := json.Unmarshal([]byte(state), &st); err == nil {
			sm.Section = st.Section
		}
		sm.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Transitions(ctx context.Context, id string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, survey_id, section, state, created_at
		FROM survey_transitions
		WHERE survey_id = ?
		ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list transitions %s: %w", id, err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		var state, created string
		if err := rows.Scan(&rec.ID, &rec.SurveyID, &rec.Section, &state, &created); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
			return nil, fmt.Errorf("unmarshal transition %s: %w", rec.ID, err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Completions(ctx context.Context, id string) ([]CompletionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, survey_id, action, state, created_at
		FROM survey_completions
		WHERE survey_id = ?
		ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list completions %s: %w", id, err)
	}
	defer rows.Close()

	var out []CompletionRecord
	for rows.Next() {
		var rec CompletionRecord
		var action, state, created string
		if err := rows.Scan(&rec.ID, &rec.SurveyID, &action, &state, &created); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		rec.Action = engine.Action(action)
		if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
			return nil, fmt.Errorf("unmarshal completion %s: %w", rec.ID, err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
