package conversation

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*TranscriptCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTranscriptCache(client, time.Hour), mr
}

func TestTranscriptCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	patientID := uuid.NewString()
	chatID := uuid.NewString()

	history := []ChatMessage{
		{Role: ChatRoleUser, Content: "I want to see Dr. Maurya tomorrow at 2pm"},
		{Role: ChatRoleAssistant, Content: "Let me check that for you."},
	}
	if err := cache.Save(ctx, patientID, chatID, history); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := cache.Load(ctx, patientID, chatID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Role != ChatRoleUser || got[1].Content != "Let me check that for you." {
		t.Fatal("transcript did not round-trip")
	}
}

func TestTranscriptCacheMissIsNil(t *testing.T) {
	cache, _ := newTestCache(t)

	got, err := cache.Load(context.Background(), uuid.NewString(), uuid.NewString())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil transcript on miss")
	}
}

func TestTranscriptCacheExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	patientID := uuid.NewString()
	chatID := uuid.NewString()

	if err := cache.Save(ctx, patientID, chatID, []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	got, err := cache.Load(ctx, patientID, chatID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatal("expected expired transcript to miss")
	}
}

func TestTranscriptCacheDrop(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	patientID := uuid.NewString()
	chatID := uuid.NewString()

	if err := cache.Save(ctx, patientID, chatID, []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := cache.Drop(ctx, patientID, chatID); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	got, err := cache.Load(ctx, patientID, chatID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatal("expected dropped transcript to miss")
	}
}
