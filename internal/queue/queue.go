package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/store"
)

const (
	// StreamCompletions carries finished surveys to the archive workers.
	StreamCompletions = "survey_completions"
	// GroupArchivers is the consumer group for archive workers.
	GroupArchivers = "archivers"

	// DefaultClaimIdle is how long a delivered completion may sit unacknowledged
	// before another read hands it out again.
	DefaultClaimIdle = 30 * time.Second

	pausePrefix = "survey:paused:"
	// DefaultPauseTTL bounds how long a crashed session can hold a pause.
	DefaultPauseTTL = 2 * time.Hour
)

// Queue is the Redis side of a survey deployment: the completion stream
// and the pause flags that hold back competing flows.
type Queue struct {
	client    *redis.Client
	pauseTTL  time.Duration
	block     time.Duration
	claimIdle time.Duration
}

var (
	_ engine.FlowSuspender      = (*Queue)(nil)
	_ store.CompletionPublisher = (*Queue)(nil)
)

// New creates a Queue from a Redis client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client, pauseTTL: DefaultPauseTTL, block: 5 * time.Second, claimIdle: DefaultClaimIdle}
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.client.Close()
}

// EnsureStreams creates the consumer group if it doesn't exist.
func (q *Queue) EnsureStreams(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, StreamCompletions, GroupArchivers, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", GroupArchivers, StreamCompletions, err)
	}
	return nil
}

// Pause marks survey id as open so other flows (reminders, prompts) hold off.
func (q *Queue) Pause(ctx context.Context, id string) error {
	if err := q.client.Set(ctx, pausePrefix+id, time.Now().UTC().Format(time.RFC3339), q.pauseTTL).Err(); err != nil {
		return fmt.Errorf("pause %s: %w", id, err)
	}
	return nil
}

// Resume clears the pause flag for survey id.
func (q *Queue) Resume(ctx context.Context, id string) error {
	if err := q.client.Del(ctx, pausePrefix+id).Err(); err != nil {
		return fmt.Errorf("resume %s: %w", id, err)
	}
	return nil
}

// IsPaused reports whether survey id is currently held by an open session.
func (q *Queue) IsPaused(ctx context.Context, id string) (bool, error) {
	n, err := q.client.Exists(ctx, pausePrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("check pause %s: %w", id, err)
	}
	return n > 0, nil
}

// PublishCompletion adds a completion record to the stream.
func (q *Queue) PublishCompletion(ctx context.Context, rec store.CompletionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamCompletions,
		Values: map[string]any{
			"completion_id": rec.ID,
			"survey_id":     rec.SurveyID,
			"action":        string(rec.Action),
			"payload":       string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

// ReadCompletion reads one completion for consumer. It blocks for a few
// seconds and returns a nil record when nothing arrived, so callers can
// notice cancellation.
func (q *Queue) ReadCompletion(ctx context.Context, consumer string) (*store.CompletionRecord, string, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupArchivers,
		Consumer: consumer,
		Streams:  []string{StreamCompletions, ">"},
		Count:    1,
		Block:    q.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read completion: %w", err)
	}

	for _, stream := range streams {
		if len(stream.Messages) > 0 {
			return firstCompletion(stream.Messages)
		}
	}
	return nil, "", nil
}

// ClaimCompletion takes over one completion that was delivered to any
// consumer but left unacknowledged for longer than the claim idle time,
// such as one whose archive insert failed. It returns a nil record when
// nothing is stale.
func (q *Queue) ClaimCompletion(ctx context.Context, consumer string) (*store.CompletionRecord, string, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamCompletions,
		Group:    GroupArchivers,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("claim completion: %w", err)
	}
	return firstCompletion(msgs)
}

func firstCompletion(msgs []redis.XMessage) (*store.CompletionRecord, string, error) {
	if len(msgs) == 0 {
		return nil, "", nil
	}
	msg := msgs[0]
	rec, err := decodeCompletion(msg.Values)
	if err != nil {
		return nil, msg.ID, err
	}
	return rec, msg.ID, nil
}

// AckCompletion acknowledges a completion message.
func (q *Queue) AckCompletion(ctx context.Context, msgID string) error {
	return q.client.XAck(ctx, StreamCompletions, GroupArchivers, msgID).Err()
}

// Status returns the stream length and the number of delivered but
// unacknowledged messages.
func (q *Queue) Status(ctx context.Context) (length, pending int64, err error) {
	length, err = q.client.XLen(ctx, StreamCompletions).Result()
	if err != nil {
		return 0, 0, err
	}
	p, err := q.client.XPending(ctx, StreamCompletions, GroupArchivers).Result()
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return length, 0, nil
		}
		return 0, 0, err
	}
	return length, p.Count, nil
}

func decodeCompletion(values map[string]any) (*store.CompletionRecord, error) {
	payload := getString(values, "payload")
	if payload == "" {
		return nil, fmt.Errorf("completion message without payload")
	}
	var rec store.CompletionRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if rec.ID == "" {
		rec.ID = getString(values, "completion_id")
	}
	if !rec.Action.Valid() {
		return nil, fmt.Errorf("completion %s: unknown action %q", rec.ID, rec.Action)
	}
	return &rec, nil
}

func getString(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
