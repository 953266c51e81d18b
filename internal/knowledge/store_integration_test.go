package knowledge_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/firsthand-ai/firsthand/internal/knowledge"
	"github.com/firsthand-ai/firsthand/internal/log"
	"github.com/firsthand-ai/firsthand/internal/testutil"
)

// axisEmbedder maps each known text to a fixed basis vector so similarity
// ordering in tests is exact: identical text embeds identically, unrelated
// texts are orthogonal.
type axisEmbedder struct {
	axes map[string]int
}

func (e *axisEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	out := make([][]float32, len(input))
	for i, text := range input {
		axis, ok := e.axes[text]
		if !ok {
			return nil, fmt.Errorf("no axis registered for %q", text)
		}
		v := make([]float32, knowledge.EmbeddingDim)
		v[axis] = 1
		out[i] = v
	}
	return out, nil
}

func TestStore_AddAndSearch(t *testing.T) {
	pool := testutil.SetupPostgres(t)
	embedder := &axisEmbedder{axes: map[string]int{
		"surgery recovery story": 0,
		"hormone therapy story":  1,
		"surgery recovery":       0,
	}}
	store := knowledge.NewStore(pool, embedder, log.NewNop())
	ctx := context.Background()

	err := store.AddBatch(ctx, []knowledge.Passage{
		{
			ID:             "p1",
			Content:        "surgery recovery story",
			Source:         knowledge.SourceStory,
			Sex:            "f",
			Tags:           []string{"surgery"},
			CommunityScore: 40,
			URL:            "https://example.org/p1",
		},
		{
			ID:      "p2",
			Content: "hormone therapy story",
			Source:  knowledge.SourceComment,
			Sex:     "m",
			Tags:    []string{"hormones"},
		},
	})
	if err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	results, err := store.Search(ctx, "surgery recovery", 5, knowledge.Filter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "p1" {
		t.Errorf("best match = %q, want p1", results[0].ID)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("exact-match similarity = %v, want ~1", results[0].Similarity)
	}
	if results[0].Sex != "f" || results[0].CommunityScore != 40 || results[0].URL != "https://example.org/p1" {
		t.Errorf("metadata not round-tripped: %+v", results[0])
	}
}

func TestStore_SearchFilters(t *testing.T) {
	pool := testutil.SetupPostgres(t)
	embedder := &axisEmbedder{axes: map[string]int{
		"a": 0, "b": 0, "c": 0, "q": 0,
	}}
	store := knowledge.NewStore(pool, embedder, log.NewNop())
	ctx := context.Background()

	err := store.AddBatch(ctx, []knowledge.Passage{
		{ID: "f-surgery", Content: "a", Source: knowledge.SourceStory, Sex: "f", Tags: []string{"surgery", "regret"}},
		{ID: "m-surgery", Content: "b", Source: knowledge.SourceStory, Sex: "m", Tags: []string{"surgery"}},
		{ID: "f-comment", Content: "c", Source: knowledge.SourceComment, Sex: "f"},
	})
	if err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	tests := []struct {
		name    string
		filter  knowledge.Filter
		wantIDs map[string]bool
	}{
		{"no filter", knowledge.Filter{}, map[string]bool{"f-surgery": true, "m-surgery": true, "f-comment": true}},
		{"by sex", knowledge.Filter{Sex: "f"}, map[string]bool{"f-surgery": true, "f-comment": true}},
		{"by source", knowledge.Filter{Source: knowledge.SourceComment}, map[string]bool{"f-comment": true}},
		{"by single tag", knowledge.Filter{Tags: []string{"surgery"}}, map[string]bool{"f-surgery": true, "m-surgery": true}},
		{"all tags required", knowledge.Filter{Tags: []string{"surgery", "regret"}}, map[string]bool{"f-surgery": true}},
		{"sex and tag", knowledge.Filter{Sex: "m", Tags: []string{"surgery"}}, map[string]bool{"m-surgery": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Search(ctx, "q", 10, tt.filter)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			got := make(map[string]bool, len(results))
			for _, r := range results {
				got[r.ID] = true
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got ids %v, want %v", got, tt.wantIDs)
			}
			for id := range tt.wantIDs {
				if !got[id] {
					t.Errorf("missing id %q in results %v", id, got)
				}
			}
		})
	}
}

func TestStore_UpsertOverwrites(t *testing.T) {
	pool := testutil.SetupPostgres(t)
	embedder := &axisEmbedder{axes: map[string]int{"old text": 0, "new text": 1, "find new": 1}}
	store := knowledge.NewStore(pool, embedder, log.NewNop())
	ctx := context.Background()

	if err := store.Add(ctx, knowledge.Passage{ID: "p1", Content: "old text"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.Add(ctx, knowledge.Passage{ID: "p1", Content: "new text", Tags: []string{"updated"}}); err != nil {
		t.Fatalf("re-Add() error = %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	results, err := store.Search(ctx, "find new", 1, knowledge.Filter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Content != "new text" {
		t.Fatalf("results = %+v, want updated content", results)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("updated embedding similarity = %v, want ~1", results[0].Similarity)
	}
}

func TestStore_HasAndDelete(t *testing.T) {
	pool := testutil.SetupPostgres(t)
	embedder := &axisEmbedder{axes: map[string]int{"x": 0}}
	store := knowledge.NewStore(pool, embedder, log.NewNop())
	ctx := context.Background()

	if err := store.Add(ctx, knowledge.Passage{ID: "p1", Content: "x"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	ok, err := store.Has(ctx, "p1")
	if err != nil || !ok {
		t.Errorf("Has(p1) = (%v, %v), want present", ok, err)
	}

	if err := store.Delete(ctx, "p1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ok, err = store.Has(ctx, "p1")
	if err != nil || ok {
		t.Errorf("Has(p1) after delete = (%v, %v), want absent", ok, err)
	}

	// Deleting twice is fine.
	if err := store.Delete(ctx, "p1"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}
