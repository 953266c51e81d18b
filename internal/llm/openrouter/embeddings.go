package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Embed returns one embedding vector per input string, in input order.
func (c *Client) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}

	body := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: model, Input: input}

	resp, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding embeddings: %w", err)
	}
	if len(parsed.Data) != len(input) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(parsed.Data), len(input))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
