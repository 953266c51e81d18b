package llm

import (
	"encoding/json"
	"strings"
)

// envelope is the persisted form of a generation result. Text-only results
// are stored as plain text so existing entries and simple consumers keep
// working; results carrying tool calls are stored as a JSON envelope.
type envelope struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// encodeEnvelope serializes a result for cache storage. Plain text stays
// plain; tool calls force the JSON envelope form.
func encodeEnvelope(text string, calls []ToolCall) string {
	if len(calls) == 0 {
		return text
	}
	raw, err := json.Marshal(envelope{Text: text, ToolCalls: calls})
	if err != nil {
		return text
	}
	return string(raw)
}

// decodeEnvelope parses a cached value. Values that do not parse as an
// envelope object are treated as legacy plain text rather than rejected, so
// entries written before the envelope form existed still replay.
func decodeEnvelope(raw string) envelope {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return envelope{Text: raw}
	}
	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return envelope{Text: raw}
	}
	if env.Text == "" && len(env.ToolCalls) == 0 {
		return envelope{Text: raw}
	}
	return env
}
