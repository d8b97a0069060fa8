// Package worker drains the completion stream into the durable store.
package worker

import (
	"context"

	"github.com/sbenjam1n/surveyflow/internal/logger"
	"github.com/sbenjam1n/surveyflow/internal/store"
)

// CompletionStream is the consumer side of the completion queue.
type CompletionStream interface {
	EnsureStreams(ctx context.Context) error
	ReadCompletion(ctx context.Context, consumer string) (*store.CompletionRecord, string, error)
	// ClaimCompletion returns a delivered but unacknowledged completion that
	// has gone stale, or a nil record.
	ClaimCompletion(ctx context.Context, consumer string) (*store.CompletionRecord, string, error)
	AckCompletion(ctx context.Context, msgID string) error
}

// CompletionArchive stores completion records. Inserts must be idempotent.
type CompletionArchive interface {
	InsertCompletion(ctx context.Context, rec store.CompletionRecord) error
}

// Archiver moves completions from the stream to the archive.
type Archiver struct {
	stream   CompletionStream
	archive  CompletionArchive
	consumer string
	log      *logger.Logger
}

// New creates an Archiver reading as consumer.
func New(stream CompletionStream, archive CompletionArchive, consumer string, log *logger.Logger) *Archiver {
	if log == nil {
		log = logger.Nop()
	}
	return &Archiver{
		stream:   stream,
		archive:  archive,
		consumer: consumer,
		log:      log.With("consumer", consumer),
	}
}

// Run blocks, archiving completions as they arrive, until ctx is done.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.stream.EnsureStreams(ctx); err != nil {
		return err
	}
	a.log.Info("archiver started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := a.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Error("completion read failed", "error", err)
		}
	}
}

// Step handles at most one message and reports whether one was archived.
// Stale pending messages are reclaimed before new ones are read, so a
// completion whose insert failed is retried on a later step. Unreadable
// messages are acknowledged and dropped.
func (a *Archiver) Step(ctx context.Context) (bool, error) {
	rec, msgID, err := a.stream.ClaimCompletion(ctx, a.consumer)
	if err == nil && rec == nil && msgID == "" {
		rec, msgID, err = a.stream.ReadCompletion(ctx, a.consumer)
	} else if rec != nil {
		a.log.Info("reclaimed pending completion", "msg_id", msgID, "completion_id", rec.ID)
	}
	if err != nil {
		if msgID != "" {
			a.log.Warn("dropping malformed completion", "msg_id", msgID, "error", err)
			if ackErr := a.stream.AckCompletion(ctx, msgID); ackErr != nil {
				a.log.Error("ack failed", "msg_id", msgID, "error", ackErr)
			}
			return false, nil
		}
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if err := a.archive.InsertCompletion(ctx, *rec); err != nil {
		a.log.Error("archive completion failed", "completion_id", rec.ID, "survey_id", rec.SurveyID, "error", err)
		return false, nil
	}
	if err := a.stream.AckCompletion(ctx, msgID); err != nil {
		a.log.Error("ack failed", "msg_id", msgID, "error", err)
	}
	a.log.Info("completion archived", "completion_id", rec.ID, "survey_id", rec.SurveyID, "action", rec.Action)
	return true, nil
}
