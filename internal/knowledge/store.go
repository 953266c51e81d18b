package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// passageMeta is the JSONB metadata document stored with each passage.
type passageMeta struct {
	Source string   `json:"source,omitempty"`
	Sex    string   `json:"sex,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Score  int      `json:"score,omitempty"`
	URL    string   `json:"url,omitempty"`
}

// Store manages passages in the passages table. Safe for concurrent use.
type Store struct {
	db       DB
	embedder Embedder
	logger   *slog.Logger
}

// NewStore creates a passage store.
func NewStore(db DB, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, logger: logger}
}

// Add embeds and upserts a single passage.
func (s *Store) Add(ctx context.Context, p Passage) error {
	return s.AddBatch(ctx, []Passage{p})
}

// AddBatch embeds and upserts passages in one embedder round trip.
// Re-adding an existing id overwrites its content, embedding and metadata.
func (s *Store) AddBatch(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d passages: %w", len(passages), err)
	}
	if len(vectors) != len(passages) {
		return fmt.Errorf("got %d embeddings for %d passages", len(vectors), len(passages))
	}

	for i, p := range passages {
		meta, err := json.Marshal(passageMeta{
			Source: p.Source,
			Sex:    p.Sex,
			Tags:   p.Tags,
			Score:  p.CommunityScore,
			URL:    p.URL,
		})
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", p.ID, err)
		}

		_, err = s.db.Exec(ctx, `
			INSERT INTO passages (id, content, embedding, metadata)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				content   = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				metadata  = EXCLUDED.metadata`,
			p.ID, p.Content, pgvector.NewVector(vectors[i]), meta,
		)
		if err != nil {
			return fmt.Errorf("upserting passage %q: %w", p.ID, err)
		}
	}

	s.logger.Debug("passages stored", "count", len(passages))
	return nil
}

// Search embeds query and returns the topK most similar passages matching
// filter, ordered by descending cosine similarity.
func (s *Store) Search(ctx context.Context, query string, topK int, filter Filter) ([]SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}
	embedding := pgvector.NewVector(vectors[0])

	var tagsJSON []byte
	if len(filter.Tags) > 0 {
		tagsJSON, err = json.Marshal(filter.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshaling tag filter: %w", err)
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS similarity
		FROM passages
		WHERE ($2::text = '' OR metadata->>'source' = $2)
		  AND ($3::text = '' OR metadata->>'sex' = $3)
		  AND ($4::jsonb IS NULL OR metadata->'tags' @> $4)
		ORDER BY embedding <=> $1
		LIMIT $5`,
		embedding, filter.Source, filter.Sex, tagsJSON, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r       SearchResult
			rawMeta []byte
		)
		if err := rows.Scan(&r.ID, &r.Content, &rawMeta, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning passage row: %w", err)
		}
		var meta passageMeta
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			s.logger.Warn("malformed passage metadata", "id", r.ID, "error", err)
		}
		r.Source = meta.Source
		r.Sex = meta.Sex
		r.Tags = meta.Tags
		r.CommunityScore = meta.Score
		r.URL = meta.URL
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passage rows: %w", err)
	}
	return results, nil
}

// Count returns the number of stored passages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	return n, nil
}

// Has reports whether a passage with the given id exists.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM passages WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking passage %q: %w", id, err)
	}
	return exists, nil
}

// Delete removes a passage by id. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM passages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting passage %q: %w", id, err)
	}
	return nil
}
