// Package openrouter is an OpenRouter chat-completions client implementing
// the gateway's Upstream and MetadataFetcher interfaces. The API is
// OpenAI-compatible; streaming uses server-sent events.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/firsthand-ai/firsthand/internal/llm"
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// scanBufferSize bounds a single SSE line. Generation chunks are small,
	// but tool-call argument fragments can run long.
	scanBufferSize = 1 << 20

	defaultTimeout = 120 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string

	// Referer and Title are OpenRouter attribution headers, both optional.
	Referer string
	Title   string

	// SettleDelay is waited before the generation metadata endpoint is
	// queried, giving the provider time to finalize accounting.
	SettleDelay time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the OpenRouter chat-completions API.
type Client struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	referer     string
	title       string
	settleDelay time.Duration
	logger      *slog.Logger
}

// New creates an OpenRouter client.
func New(cfg Config, logger *slog.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      cfg.APIKey,
		referer:     cfg.Referer,
		title:       cfg.Title,
		settleDelay: cfg.SettleDelay,
		logger:      logger,
	}
}

// Wire types for the OpenAI-compatible chat completions endpoint.

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireUsage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type streamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []deltaToolCall `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type deltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func buildRequest(opts llm.Options, messages []llm.Message, stream bool) chatRequest {
	req := chatRequest{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wc := wireToolCall{ID: tc.ID, Type: "function"}
			wc.Function.Name = tc.Name
			wc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		req.Messages = append(req.Messages, wm)
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling upstream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// Chat performs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, opts llm.Options, messages []llm.Message) (*llm.Response, error) {
	resp, err := c.post(ctx, "/chat/completions", buildRequest(opts, messages, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("upstream returned no choices")
	}

	choice := parsed.Choices[0]
	out := &llm.Response{
		Text:         choice.Message.Content,
		GenerationID: parsed.ID,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if parsed.Usage != nil {
		out.TokensPrompt = &parsed.Usage.PromptTokens
		out.TokensCompletion = &parsed.Usage.CompletionTokens
	}
	return out, nil
}

// toolCallAssembler stitches streamed tool-call fragments back together.
// The API delivers each call's id and name once and its JSON arguments in
// arbitrary string fragments, all addressed by choice index.
type toolCallAssembler struct {
	parts map[int]*toolCallPart
}

type toolCallPart struct {
	id   string
	name string
	args strings.Builder
}

func (a *toolCallAssembler) add(fragments []deltaToolCall) {
	if a.parts == nil {
		a.parts = make(map[int]*toolCallPart)
	}
	for _, f := range fragments {
		p, ok := a.parts[f.Index]
		if !ok {
			p = &toolCallPart{}
			a.parts[f.Index] = p
		}
		if f.ID != "" {
			p.id = f.ID
		}
		if f.Function.Name != "" {
			p.name = f.Function.Name
		}
		p.args.WriteString(f.Function.Arguments)
	}
}

func (a *toolCallAssembler) calls() []llm.ToolCall {
	if len(a.parts) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.parts))
	for i := range a.parts {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]llm.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		p := a.parts[i]
		calls = append(calls, llm.ToolCall{
			ID:        p.id,
			Name:      p.name,
			Arguments: json.RawMessage(p.args.String()),
		})
	}
	return calls
}

// ChatStream performs a streaming chat completion, forwarding each text
// delta to cb as it arrives. Tool-call fragments are assembled across the
// whole stream and delivered in one chunk once complete, after the last
// text delta; cache replays deliver them before the text instead, and
// consumers must accept either order. The returned Response carries the
// accumulated text, so callers need not re-join deltas.
func (c *Client) ChatStream(ctx context.Context, opts llm.Options, messages []llm.Message, cb llm.StreamCallback) (*llm.Response, error) {
	resp, err := c.post(ctx, "/chat/completions", buildRequest(opts, messages, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		text      strings.Builder
		assembler toolCallAssembler
		out       llm.Response
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), scanBufferSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping unparseable stream line", "error", err)
			continue
		}

		if chunk.ID != "" && out.GenerationID == "" {
			out.GenerationID = chunk.ID
		}
		if chunk.Usage != nil {
			usage := *chunk.Usage
			out.TokensPrompt = &usage.PromptTokens
			out.TokensCompletion = &usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		assembler.add(delta.ToolCalls)
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if err := cb(ctx, llm.Chunk{Delta: delta.Content}); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	if calls := assembler.calls(); len(calls) > 0 {
		out.ToolCalls = calls
		if err := cb(ctx, llm.Chunk{ToolCalls: calls}); err != nil {
			return nil, err
		}
	}

	out.Text = text.String()
	return &out, nil
}
