package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	transcriptKeyPrefix  = "wa_transcript:"
	defaultTranscriptTTL = 24 * time.Hour
	maxTranscriptEntries = 250
)

// TranscriptEntry is one turn mirrored to Redis for operators.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptStore keeps a capped, expiring list of turns per user in Redis.
// Unlike ContextStore it survives restarts and is shared across replicas.
type TranscriptStore struct {
	redis      *redis.Client
	tracer     trace.Tracer
	ttl        time.Duration
	maxEntries int64
}

// NewTranscriptStore returns nil when no Redis client is configured.
func NewTranscriptStore(redisClient *redis.Client, ttl time.Duration) *TranscriptStore {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTranscriptTTL
	}
	return &TranscriptStore{
		redis:      redisClient,
		tracer:     otel.Tracer("aliado.internal.conversation.transcript"),
		ttl:        ttl,
		maxEntries: maxTranscriptEntries,
	}
}

func (s *TranscriptStore) Append(ctx context.Context, userID string, entry TranscriptEntry) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if userID == "" {
		return errors.New("conversation: transcript user id required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("conversation: marshal transcript entry: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	key := transcriptKey(userID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.maxEntries, -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append transcript entry: %w", err)
	}
	return nil
}

// List returns up to limit of the newest entries, oldest first. A
// non-positive limit returns everything retained.
func (s *TranscriptStore) List(ctx context.Context, userID string, limit int64) ([]TranscriptEntry, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if userID == "" {
		return nil, errors.New("conversation: transcript user id required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raw, err := s.redis.LRange(ctx, transcriptKey(userID), start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []TranscriptEntry{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list transcript: %w", err)
	}

	out := make([]TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func transcriptKey(userID string) string {
	return transcriptKeyPrefix + userID
}
