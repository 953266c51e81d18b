package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/firsthand-ai/firsthand/internal/llm"
)

// DefaultSettleDelay gives OpenRouter time to finalize generation
// accounting before the metadata endpoint is queried.
const DefaultSettleDelay = time.Second

// FetchGenerationMetadata retrieves cost and token accounting for a
// finished generation. Metadata is nice-to-have: every failure is logged
// and reported as (nil, nil) so callers never gate on it. Only context
// cancellation is returned as an error.
func (c *Client) FetchGenerationMetadata(ctx context.Context, generationID string) (*llm.GenerationMetadata, error) {
	delay := c.settleDelay
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	endpoint := fmt.Sprintf("%s/generation?id=%s", c.baseURL, url.QueryEscape(generationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.logger.Warn("building metadata request failed", "generation_id", generationID, "error", err)
		return nil, nil
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("metadata fetch failed", "generation_id", generationID, "error", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("metadata fetch returned non-OK status",
			"generation_id", generationID, "status", resp.StatusCode)
		return nil, nil
	}

	var parsed struct {
		Data struct {
			TotalCost        *float64 `json:"total_cost"`
			TokensPrompt     *int32   `json:"tokens_prompt"`
			TokensCompletion *int32   `json:"tokens_completion"`
			Model            string   `json:"model"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Warn("decoding metadata failed", "generation_id", generationID, "error", err)
		return nil, nil
	}

	return &llm.GenerationMetadata{
		TotalCost:        parsed.Data.TotalCost,
		TokensPrompt:     parsed.Data.TokensPrompt,
		TokensCompletion: parsed.Data.TokensCompletion,
		Model:            parsed.Data.Model,
	}, nil
}
