package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TranscriptCache keeps the recent turns of active booking sessions in Redis
// so a turn does not have to replay the Postgres transcript. Postgres stays
// the source of truth; a cache miss is never an error.
type TranscriptCache struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewTranscriptCache(client *redis.Client, ttl time.Duration) *TranscriptCache {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TranscriptCache{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("mednotes.internal.conversation.transcript"),
	}
}

func transcriptKey(patientID, chatID string) string {
	return fmt.Sprintf("booking_chat:%s:%s", patientID, chatID)
}

// Save replaces the cached transcript for the session and refreshes its TTL.
func (c *TranscriptCache) Save(ctx context.Context, patientID, chatID string, history []ChatMessage) error {
	ctx, span := c.tracer.Start(ctx, "conversation.save_transcript")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal transcript: %w", err)
	}
	if err := c.redis.Set(ctx, transcriptKey(patientID, chatID), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to cache transcript: %w", err)
	}
	return nil
}

// Load returns the cached transcript, or (nil, nil) when the session has
// expired or was never cached.
func (c *TranscriptCache) Load(ctx context.Context, patientID, chatID string) ([]ChatMessage, error) {
	ctx, span := c.tracer.Start(ctx, "conversation.load_transcript")
	defer span.End()

	data, err := c.redis.Get(ctx, transcriptKey(patientID, chatID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load transcript: %w", err)
	}

	var history []ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode transcript: %w", err)
	}
	return history, nil
}

// Drop evicts the session's cached transcript.
func (c *TranscriptCache) Drop(ctx context.Context, patientID, chatID string) error {
	if err := c.redis.Del(ctx, transcriptKey(patientID, chatID)).Err(); err != nil {
		return fmt.Errorf("conversation: failed to drop transcript: %w", err)
	}
	return nil
}
