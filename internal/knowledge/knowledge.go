// Package knowledge stores testimony passages with vector embeddings and
// answers similarity queries over them using PostgreSQL + pgvector.
//
// Passages come from ingested community posts and video transcripts. Each
// carries a metadata document (source, sex, tags, community score, origin
// URL) that search can filter on.
package knowledge

import (
	"context"
	"time"
)

// Source type values for passages.
const (
	SourceStory   = "story"
	SourceComment = "comment"
	SourceVideo   = "video"
)

// EmbeddingDim is the expected dimensionality of passage embeddings,
// matching the passages table's vector column.
const EmbeddingDim = 1536

// Passage is one unit of stored testimony.
type Passage struct {
	ID             string
	Content        string
	Source         string
	Sex            string
	Tags           []string
	CommunityScore int
	URL            string
	CreatedAt      time.Time
}

// SearchResult is a passage returned from similarity search.
type SearchResult struct {
	Passage
	Similarity float64
}

// Filter restricts a search to passages whose metadata matches. Zero
// values mean no restriction; all listed tags must be present.
type Filter struct {
	Source string
	Sex    string
	Tags   []string
}

// Embedder turns text into embedding vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, input []string) ([][]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return f(ctx, input)
}
