// Package llm implements the cached LLM generation gateway.
//
// The gateway wraps an OpenAI-compatible upstream with a content-addressed
// Postgres cache. Every chat/completion request is keyed by a deterministic
// string built from the mode and all output-affecting request fields; a hit
// is served (or replayed as a stream) without touching the upstream or the
// rate limiter, and a miss generates, forwards, captures and persists the
// response.
//
// Two usage modes share this package: "story_chat" and "deep_research". The
// mode participates in the cache key, so identical prompts under different
// modes never collide.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Modes routed through the gateway.
const (
	ModeStoryChat    = "story_chat"
	ModeDeepResearch = "deep_research"
)

// ErrRateLimited is returned when the rate limiter denies a generation.
// It is only possible on a cache miss: hits perform no generation and bypass
// admission entirely.
var ErrRateLimited = errors.New("rate limit exceeded")

// Message is a single chat message. Assistant turns requesting tools carry
// ToolCalls; the tool-role messages answering them carry the matching
// ToolCallID. Both are optional and absent from plain conversation turns,
// so adding them left existing cache keys unchanged.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Tool describes a tool offered to the model. Parameters is a JSON Schema
// document; it participates in the cache key because it affects output.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Options are the output-affecting generation parameters. The struct is
// marshaled as part of the cache key, so its field set must contain every
// knob that changes what the model produces and nothing volatile.
type Options struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
	Tools       []Tool  `json:"tools,omitempty"`
}

// RateKey identifies the caller for rate-limit admission on cache misses.
type RateKey struct {
	Identity string // client identity, e.g. IP or user id
	Mode     string // usage mode slug
}

// ChatRequest is a request to the chat family of gateway operations.
type ChatRequest struct {
	Messages []Message
	Options  Options

	// OriginalQuestion is an optional human-readable label stored with the
	// cache entry. Defaults to the truncated last message content.
	OriginalQuestion string

	// RateLimit enables admission checking on cache miss when non-nil.
	RateLimit *RateKey

	// ConversationID, when set, is attached to the cache entry written for
	// this request. It takes precedence over the gateway-level default.
	ConversationID *uuid.UUID
}

// CompleteRequest is a request to the completion family. The prompt is
// internally wrapped as a single user message so both families share one
// cache keying rule and one execution path.
type CompleteRequest struct {
	Prompt           string
	Options          Options
	OriginalQuestion string
	RateLimit        *RateKey
}

// Response is a completed generation, fresh or cached.
type Response struct {
	Text             string
	ToolCalls        []ToolCall
	GenerationID     string // empty when served from cache
	TokensPrompt     *int32
	TokensCompletion *int32
	FromCache        bool
}

// Chunk is one unit of a streaming response. For tool calls replayed from
// cache, a single zero-delta chunk carrying all calls precedes the text.
type Chunk struct {
	Delta     string
	ToolCalls []ToolCall
}

// StreamCallback receives chunks as they become available. Returning an
// error aborts the stream; an aborted live stream is never cached.
type StreamCallback func(ctx context.Context, chunk Chunk) error

// Upstream is the raw generation API the gateway wraps.
//
// ChatStream must invoke cb for every chunk in arrival order and return only
// after the upstream stream is exhausted (or failed). The returned Response
// carries the accumulated text and any usage the upstream reported inline.
type Upstream interface {
	Chat(ctx context.Context, opts Options, messages []Message) (*Response, error)
	ChatStream(ctx context.Context, opts Options, messages []Message, cb StreamCallback) (*Response, error)
}

// GenerationMetadata is provider-side accounting for a completed generation.
type GenerationMetadata struct {
	TotalCost        *float64
	TokensPrompt     *int32
	TokensCompletion *int32
	Model            string
}

// MetadataFetcher retrieves best-effort accounting for a generation id.
// Implementations must return (nil, nil) on any upstream failure; missing
// metadata is not an error state.
type MetadataFetcher interface {
	FetchGenerationMetadata(ctx context.Context, generationID string) (*GenerationMetadata, error)
}

// AdmissionChecker decides whether a (identity, mode) pair may trigger a new
// generation. The gateway consults it only on cache miss.
type AdmissionChecker interface {
	Check(identity, mode string) bool
}
