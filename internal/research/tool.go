package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/firsthand-ai/firsthand/internal/knowledge"
	"github.com/firsthand-ai/firsthand/internal/llm"
	"github.com/firsthand-ai/firsthand/internal/rerank"
)

// ToolName is the function name offered to the model.
const ToolName = "queryStories"

const (
	// toolKeyPrefix namespaces cached tool results away from generation
	// entries in the shared cache table.
	toolKeyPrefix = "tool:queryStories:"

	// retrieveTopK passages are fetched from the store, then re-ranked
	// and cut down to returnTopN before being handed to the model.
	retrieveTopK = 10
	returnTopN   = 3
)

// QueryStoriesInput is the model-facing argument schema for the tool.
type QueryStoriesInput struct {
	Query string   `json:"query" jsonschema:"A clear question to find specific first-hand accounts. Word it as a complete question."`
	Sex   string   `json:"sex,omitempty" jsonschema:"Filter accounts by the author's sex: m or f."`
	Tags  []string `json:"tags,omitempty" jsonschema:"Require all of these topic tags on returned accounts."`
}

// toolPassage is one entry of the JSON array returned to the model.
type toolPassage struct {
	ID             string   `json:"id"`
	Content        string   `json:"content"`
	Sex            string   `json:"sex,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	CommunityScore int      `json:"communityScore,omitempty"`
	URL            string   `json:"url,omitempty"`
	Score          float64  `json:"score"`
}

// QueryStoriesTool retrieves, re-ranks and serializes testimony passages
// for the research agent. Results are cached under a tool-prefixed key so
// repeated tool calls with identical arguments skip retrieval entirely.
type QueryStoriesTool struct {
	search PassageSearcher
	cache  llm.Cache
	logger *slog.Logger
}

// NewQueryStoriesTool creates the tool. cache may be nil to disable
// result caching.
func NewQueryStoriesTool(search PassageSearcher, cache llm.Cache, logger *slog.Logger) *QueryStoriesTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryStoriesTool{search: search, cache: cache, logger: logger}
}

// Definition returns the tool declaration sent upstream. The parameter
// schema is inferred from QueryStoriesInput.
func (t *QueryStoriesTool) Definition() (llm.Tool, error) {
	schema, err := jsonschema.For[QueryStoriesInput](nil)
	if err != nil {
		return llm.Tool{}, fmt.Errorf("schema for %s: %w", ToolName, err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return llm.Tool{}, fmt.Errorf("marshaling schema for %s: %w", ToolName, err)
	}
	return llm.Tool{
		Name:        ToolName,
		Description: "Search first-hand stories and experiences from real people. Returns the most relevant passages as JSON.",
		Parameters:  raw,
	}, nil
}

// Call executes the tool. questionLabel is stored with cached results for
// analytics.
func (t *QueryStoriesTool) Call(ctx context.Context, input QueryStoriesInput, questionLabel string) (string, error) {
	key, err := toolCacheKey(input)
	if err != nil {
		return "", err
	}

	if t.cache != nil {
		if cached, ok := t.cache.Get(ctx, key); ok {
			t.logger.Info("tool cache hit", "tool", ToolName, "query", input.Query)
			return cached, nil
		}
		t.logger.Info("tool cache miss", "tool", ToolName, "query", input.Query)
	}

	results, err := t.search.Search(ctx, input.Query, retrieveTopK, knowledge.Filter{
		Sex:  input.Sex,
		Tags: input.Tags,
	})
	if err != nil {
		return "", fmt.Errorf("retrieving passages: %w", err)
	}

	passages := make([]rerank.Passage, len(results))
	for i, r := range results {
		passages[i] = rerank.Passage{
			Text:           r.Content,
			Similarity:     r.Similarity,
			CommunityScore: float64(r.CommunityScore),
		}
	}
	ranked := rerank.Top(passages, returnTopN)

	out := make([]toolPassage, 0, len(ranked))
	for _, scored := range ranked {
		r := results[scored.Index]
		out = append(out, toolPassage{
			ID:             r.ID,
			Content:        r.Content,
			Sex:            r.Sex,
			Tags:           r.Tags,
			CommunityScore: r.CommunityScore,
			URL:            r.URL,
			Score:          scored.Score,
		})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("serializing tool result: %w", err)
	}
	result := string(raw)

	if t.cache != nil {
		t.cache.Set(ctx, key, result, questionLabel, nil)
	}
	return result, nil
}

// CallRaw executes the tool from raw model-supplied JSON arguments.
func (t *QueryStoriesTool) CallRaw(ctx context.Context, args json.RawMessage, questionLabel string) (string, error) {
	var input QueryStoriesInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("parsing %s arguments: %w", ToolName, err)
	}
	if input.Query == "" {
		return "", fmt.Errorf("%s requires a query", ToolName)
	}
	return t.Call(ctx, input, questionLabel)
}

func toolCacheKey(input QueryStoriesInput) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("building tool cache key: %w", err)
	}
	return toolKeyPrefix + string(raw), nil
}
