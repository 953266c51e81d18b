package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/firsthand-ai/firsthand/internal/cache"
	"github.com/firsthand-ai/firsthand/internal/log"
	"github.com/firsthand-ai/firsthand/internal/testutil"
)

func TestStore_WriteThenRead(t *testing.T) {
	pool := testutil.SetupPostgres(t)
	s := cache.New(pool, log.NewNop())
	ctx := context.Background()

	key := "v1|story_chat|what happened in 1968?"
	s.Set(ctx, key, "she marched that spring", "what happened in 1968?", nil)

	got, ok := s.Get(ctx, key)
	if !ok {
		t.Fatal("freshly written entry missed")
	}
	if got != "she marched that spring" {
		t.Errorf("Get() = %q", got)
	}

	if _, ok := s.Get(ctx, "v1|deep_research|what happened in 1968?"); ok {
		t.Error("different key unexpectedly hit")
	}
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	pool := testutil.SetupPostgres(t)
	s := cache.New(pool, log.NewNop())
	ctx := context.Background()

	key := "v1|story_chat|repeat me"
	cost := 0.001
	convID := uuid.New()
	md := &cache.Metadata{TotalCost: &cost, Model: "moonshotai/kimi-k2", GenerationID: "gen-1", ConversationID: &convID}

	s.Set(ctx, key, "first", "repeat me", md)

	var createdAt time.Time
	hash := cache.HashKey(key)
	if err := pool.QueryRow(ctx,
		`SELECT created_at FROM llm_cache WHERE prompt_hash = $1`, hash).Scan(&createdAt); err != nil {
		t.Fatalf("reading created_at: %v", err)
	}

	// Overwrite with no metadata: result_text is replaced, the metadata
	// columns keep their prior values, created_at is untouched.
	s.Set(ctx, key, "second", "", nil)

	var (
		result     string
		question   *string
		totalCost  *float64
		model      *string
		genID      *string
		created2   time.Time
		convStored *uuid.UUID
	)
	err := pool.QueryRow(ctx, `
		SELECT result_text, question_name, total_cost, model, generation_id, conversation_id, created_at
		FROM llm_cache WHERE prompt_hash = $1`, hash).
		Scan(&result, &question, &totalCost, &model, &genID, &convStored, &created2)
	if err != nil {
		t.Fatalf("reading row: %v", err)
	}

	if result != "second" {
		t.Errorf("result_text = %q, want %q", result, "second")
	}
	if question == nil || *question != "repeat me" {
		t.Errorf("question_name = %v, want preserved label", question)
	}
	if totalCost == nil || *totalCost != cost {
		t.Errorf("total_cost = %v, want preserved %v", totalCost, cost)
	}
	if model == nil || *model != "moonshotai/kimi-k2" {
		t.Errorf("model = %v, want preserved", model)
	}
	if genID == nil || *genID != "gen-1" {
		t.Errorf("generation_id = %v, want preserved", genID)
	}
	if convStored == nil || *convStored != convID {
		t.Errorf("conversation_id = %v, want preserved", convStored)
	}
	if !created2.Equal(createdAt) {
		t.Errorf("created_at changed on upsert: %v -> %v", createdAt, created2)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM llm_cache`).Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 1 {
		t.Errorf("llm_cache has %d rows, want 1", count)
	}
}

func TestStore_HitBumpsLastAccessed(t *testing.T) {
	pool := testutil.SetupPostgres(t)
	s := cache.New(pool, log.NewNop())
	ctx := context.Background()

	key := "v1|story_chat|touch me"
	s.Set(ctx, key, "value", "", nil)
	hash := cache.HashKey(key)

	var before time.Time
	if err := pool.QueryRow(ctx,
		`SELECT last_accessed FROM llm_cache WHERE prompt_hash = $1`, hash).Scan(&before); err != nil {
		t.Fatalf("reading last_accessed: %v", err)
	}

	// Push the stored timestamp into the past so the bump is observable.
	if _, err := pool.Exec(ctx,
		`UPDATE llm_cache SET last_accessed = last_accessed - interval '1 hour' WHERE prompt_hash = $1`, hash); err != nil {
		t.Fatalf("backdating last_accessed: %v", err)
	}

	if _, ok := s.Get(ctx, key); !ok {
		t.Fatal("entry missed")
	}

	// The bump runs in a detached goroutine.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var after time.Time
		if err := pool.QueryRow(ctx,
			`SELECT last_accessed FROM llm_cache WHERE prompt_hash = $1`, hash).Scan(&after); err != nil {
			t.Fatalf("reading last_accessed: %v", err)
		}
		if !after.Before(before) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("last_accessed was never bumped")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStore_LongQuestionTruncated(t *testing.T) {
	pool := testutil.SetupPostgres(t)
	s := cache.New(pool, log.NewNop())
	ctx := context.Background()

	long := make([]byte, 0, 600)
	for range 300 {
		long = append(long, "ab"...)
	}

	key := "v1|story_chat|long question"
	s.Set(ctx, key, "value", string(long), nil)

	var question *string
	if err := pool.QueryRow(ctx,
		`SELECT question_name FROM llm_cache WHERE prompt_hash = $1`, cache.HashKey(key)).Scan(&question); err != nil {
		t.Fatalf("reading question_name: %v", err)
	}
	if question == nil {
		t.Fatal("question_name is NULL")
	}
	if len(*question) > 255 {
		t.Errorf("question_name stored with %d bytes, want <= 255", len(*question))
	}
}
