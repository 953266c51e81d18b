// Package cache implements the content-addressed response cache backing the
// LLM generation gateway.
//
// Entries live in the llm_cache Postgres table, keyed by the SHA-256 hex
// digest of the full pre-hash key string. The pre-hash string itself is kept
// in prompt_text for auditing; lookups never use it.
//
// The store is deliberately infallible from the caller's perspective: a read
// error degrades to a miss and a write error is logged and dropped. A broken
// cache must never break generation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Metadata carries optional generation accounting persisted with an entry.
// All fields are best-effort; nil/empty values leave the column NULL.
type Metadata struct {
	TotalCost        *float64
	TokensPrompt     *int32
	TokensCompletion *int32
	Model            string
	GenerationID     string
	ConversationID   *uuid.UUID
}

// Store is a content-addressed key/value cache over the llm_cache table.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a cache store.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// HashKey returns the SHA-256 hex digest of key. Get and Set share this
// function, so a Set followed by a Get with the same key always hits.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Get looks up the cached value for key. The boolean reports whether the
// entry exists. Storage errors are logged and reported as a miss; Get never
// fails the caller.
//
// On a hit, last_accessed is bumped in a detached goroutine so read latency
// does not pay for the write.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	hash := HashKey(key)

	var result string
	err := s.db.QueryRow(ctx,
		`SELECT result_text FROM llm_cache WHERE prompt_hash = $1`,
		hash,
	).Scan(&result)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("cache read failed, treating as miss", "hash", hash, "error", err)
		}
		return "", false
	}

	go s.touch(context.WithoutCancel(ctx), hash)

	return result, true
}

// touch bumps last_accessed for an entry. Failures are logged only.
func (s *Store) touch(ctx context.Context, hash string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.Exec(ctx,
		`UPDATE llm_cache SET last_accessed = now() WHERE prompt_hash = $1`,
		hash,
	); err != nil {
		s.logger.Warn("failed to bump last_accessed", "hash", hash, "error", err)
	}
}

// Set upserts the cached value for key. On conflict the existing row's
// result_text, metadata columns and last_accessed are overwritten
// (last-writer-wins). label is an optional human-readable question used for
// analytics; it is not part of the key. Errors are logged and swallowed.
func (s *Store) Set(ctx context.Context, key, value, label string, md *Metadata) {
	hash := HashKey(key)

	if md == nil {
		md = &Metadata{}
	}
	var questionName *string
	if label != "" {
		l := truncate(label, 255)
		questionName = &l
	}
	var model, generationID *string
	if md.Model != "" {
		model = &md.Model
	}
	if md.GenerationID != "" {
		generationID = &md.GenerationID
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO llm_cache (
			prompt_hash, prompt_text, result_text, question_name,
			total_cost, tokens_prompt, tokens_completion,
			model, generation_id, conversation_id,
			created_at, last_accessed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (prompt_hash) DO UPDATE SET
			result_text       = EXCLUDED.result_text,
			question_name     = COALESCE(EXCLUDED.question_name, llm_cache.question_name),
			total_cost        = COALESCE(EXCLUDED.total_cost, llm_cache.total_cost),
			tokens_prompt     = COALESCE(EXCLUDED.tokens_prompt, llm_cache.tokens_prompt),
			tokens_completion = COALESCE(EXCLUDED.tokens_completion, llm_cache.tokens_completion),
			model             = COALESCE(EXCLUDED.model, llm_cache.model),
			generation_id     = COALESCE(EXCLUDED.generation_id, llm_cache.generation_id),
			conversation_id   = COALESCE(EXCLUDED.conversation_id, llm_cache.conversation_id),
			last_accessed     = now()`,
		hash, key, value, questionName,
		md.TotalCost, md.TokensPrompt, md.TokensCompletion,
		model, generationID, md.ConversationID,
	)
	if err != nil {
		s.logger.Warn("cache write failed", "hash", hash, "error", err)
		return
	}

	s.logger.Debug("cache entry written",
		"hash", hash,
		"value_length", len(value),
		"has_metadata", md.GenerationID != "",
	)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
