package llm

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// keyVersion is bumped whenever the canonical key layout changes, so stale
// entries age out instead of decoding under the wrong contract.
const keyVersion = "v1"

// questionLabelRunes bounds the derived question label stored alongside a
// cache entry when the caller supplies none.
const questionLabelRunes = 100

// sep separates key segments. Unit separator cannot appear in JSON output,
// so segment boundaries are unambiguous.
const sep = "\x1f"

// buildKey produces the canonical cache key for a generation request.
// Every output-affecting field participates: the mode, the question label,
// the full message history and the generation options. Marshaling fixed
// structs keeps the representation deterministic, so logically identical
// requests always map to the same key.
func buildKey(mode, question string, messages []Message, opts Options) string {
	msgJSON, _ := json.Marshal(messages)
	optJSON, _ := json.Marshal(opts)

	var b strings.Builder
	b.Grow(len(keyVersion) + len(mode) + len(question) + len(msgJSON) + len(optJSON) + 4*len(sep))
	b.WriteString(keyVersion)
	b.WriteString(sep)
	b.WriteString(mode)
	b.WriteString(sep)
	b.WriteString(question)
	b.WriteString(sep)
	b.Write(msgJSON)
	b.WriteString(sep)
	b.Write(optJSON)
	return b.String()
}

// deriveQuestion returns the label for a cache entry: the caller-supplied
// original question when present, otherwise the last message content
// truncated to a display-friendly length.
func deriveQuestion(original string, messages []Message) string {
	if original != "" {
		return original
	}
	if len(messages) == 0 {
		return ""
	}
	return truncateRunes(messages[len(messages)-1].Content, questionLabelRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
