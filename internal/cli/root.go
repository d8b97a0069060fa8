package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sbenjam1n/surveyflow/internal/config"
	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/logger"
	"github.com/sbenjam1n/surveyflow/internal/queue"
	"github.com/sbenjam1n/surveyflow/internal/store"
)

var (
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:   "survey",
		Short: "Surveyflow: sectioned survey engine with dependency rules and validation",
		Long: `Surveyflow loads declarative survey definitions, evaluates which sections
and fields are enabled, validates answers, and persists progress on every
section change.

Typical session:
  survey import surveys/onboarding.yaml
  survey run onboarding

Storage is SQLite by default. Set SURVEY_STORE=postgres and
SURVEY_DATABASE_URL for PostgreSQL, and SURVEY_REDIS_URL to pause competing
flows and archive completions through Redis.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(videoCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(workerCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *logger.Logger {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger unavailable, continuing silently: %v\n", err)
		return logger.Nop()
	}
	return log
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		st, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w\nSet SURVEY_DATABASE_URL environment variable", err)
		}
		return st, nil
	default:
		path := cfg.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectRoot(), path)
		}
		return store.OpenSQLite(path)
	}
}

// openQueue returns nil when no Redis URL is configured.
func openQueue() (*queue.Queue, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	rdb, err := queue.ConnectRedis(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w\nSet SURVEY_REDIS_URL environment variable", err)
	}
	return queue.New(rdb), nil
}

func requireQueue() (*queue.Queue, error) {
	q, err := openQueue()
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("this command needs Redis\nSet SURVEY_REDIS_URL environment variable")
	}
	return q, nil
}

// session bundles what an engine.Controller needs for one command.
type session struct {
	store store.Store
	queue *queue.Queue
	log   *logger.Logger
}

func openSession(ctx context.Context) (*session, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	q, err := openQueue()
	if err != nil {
		st.Close()
		return nil, err
	}
	return &session{store: st, queue: q, log: newLogger()}, nil
}

func (s *session) collaborators() engine.Collaborators {
	sink := &store.Sink{Store: s.store}
	collab := engine.Collaborators{Definitions: s.store, Sink: sink}
	if s.queue != nil {
		sink.Events = s.queue
		collab.Flows = s.queue
	}
	return collab
}

func (s *session) options() engine.Options {
	return engine.Options{
		Logger:          s.log,
		PersistAttempts: cfg.PersistAttempts,
		PersistBackoff:  cfg.PersistBackoff,
	}
}

func (s *session) open(ctx context.Context, id string) (*engine.Controller, error) {
	return engine.Open(ctx, id, s.collaborators(), s.options())
}

func (s *session) Close() {
	if s.queue != nil {
		s.queue.Close()
	}
	s.store.Close()
	s.log.Sync()
}

func projectRoot() string {
	return cfg.ProjectRoot
}

func migrationsDir() string {
	return filepath.Join(projectRoot(), "migrations")
}
