package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firsthand-ai/firsthand/internal/llm"
	"github.com/firsthand-ai/firsthand/internal/log"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		SettleDelay: time.Millisecond,
	}, log.NewNop())
}

func TestChat(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Stream {
			t.Error("non-streaming call set stream=true")
		}
		if req.Model != "moonshotai/kimi-k2" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "hello" {
			t.Errorf("messages = %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "gen-abc",
			"choices": [{"message": {"content": "hi there", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "query_stories", "arguments": "{\"topic\":\"war\"}"}}
			]}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7}
		}`))
	})

	resp, err := c.Chat(context.Background(), llm.Options{Model: "moonshotai/kimi-k2", Temperature: 0.6}, []llm.Message{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Text != "hi there" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.GenerationID != "gen-abc" {
		t.Errorf("GenerationID = %q", resp.GenerationID)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "query_stories" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.TokensPrompt == nil || *resp.TokensPrompt != 12 {
		t.Errorf("TokensPrompt = %v", resp.TokensPrompt)
	}
	if resp.TokensCompletion == nil || *resp.TokensCompletion != 7 {
		t.Errorf("TokensCompletion = %v", resp.TokensCompletion)
	}
}

func TestChat_SerializesToolExchange(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Messages) != 4 {
			t.Fatalf("got %d messages, want 4", len(req.Messages))
		}

		assistant := req.Messages[2]
		if len(assistant.ToolCalls) != 1 {
			t.Fatalf("assistant tool_calls = %+v, want 1", assistant.ToolCalls)
		}
		call := assistant.ToolCalls[0]
		if call.ID != "call_1" || call.Type != "function" {
			t.Errorf("tool call = %+v", call)
		}
		if call.Function.Name != "query_stories" || call.Function.Arguments != `{"topic":"war"}` {
			t.Errorf("tool call function = %+v", call.Function)
		}

		toolMsg := req.Messages[3]
		if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" {
			t.Errorf("tool message = %+v, want role tool answering call_1", toolMsg)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "gen-2", "choices": [{"message": {"content": "grounded"}}]}`))
	})

	resp, err := c.Chat(context.Background(), llm.Options{Model: "m"}, []llm.Message{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "q"},
		{Role: "assistant", ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "query_stories", Arguments: json.RawMessage(`{"topic":"war"}`)},
		}},
		{Role: "tool", Content: `[{"id":"p1"}]`, ToolCallID: "call_1"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Text != "grounded" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestChat_UpstreamError(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	})

	_, err := c.Chat(context.Background(), llm.Options{Model: "m"}, []llm.Message{{Role: "user", Content: "q"}})
	if err == nil {
		t.Fatal("Chat() succeeded on 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q does not carry the status code", err)
	}
}

func sseBody(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: ")
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestChatStream(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if !req.Stream {
			t.Error("streaming call did not set stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"id": "gen-s1", "choices": [{"delta": {"content": "hel"}}]}`,
			`{"id": "gen-s1", "choices": [{"delta": {"content": "lo"}}]}`,
			`{"id": "gen-s1", "choices": [{"delta": {}}], "usage": {"prompt_tokens": 3, "completion_tokens": 2}}`,
		)))
	})

	var deltas []string
	resp, err := c.ChatStream(context.Background(), llm.Options{Model: "m"}, []llm.Message{{Role: "user", Content: "q"}},
		func(ctx context.Context, chunk llm.Chunk) error {
			deltas = append(deltas, chunk.Delta)
			return nil
		})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if strings.Join(deltas, "") != "hello" {
		t.Errorf("forwarded deltas = %v", deltas)
	}
	if resp.Text != "hello" {
		t.Errorf("accumulated Text = %q", resp.Text)
	}
	if resp.GenerationID != "gen-s1" {
		t.Errorf("GenerationID = %q", resp.GenerationID)
	}
	if resp.TokensPrompt == nil || *resp.TokensPrompt != 3 {
		t.Errorf("TokensPrompt = %v", resp.TokensPrompt)
	}
}

func TestChatStream_AssemblesToolCallFragments(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"id": "gen-t1", "choices": [{"delta": {"tool_calls": [{"index": 0, "id": "call_1", "function": {"name": "query_stories", "arguments": "{\"top"}}]}}]}`,
			`{"id": "gen-t1", "choices": [{"delta": {"tool_calls": [{"index": 0, "function": {"arguments": "ic\":\"exile\"}"}}]}}]}`,
		)))
	})

	var toolChunks []llm.Chunk
	resp, err := c.ChatStream(context.Background(), llm.Options{Model: "m"}, []llm.Message{{Role: "user", Content: "q"}},
		func(ctx context.Context, chunk llm.Chunk) error {
			if len(chunk.ToolCalls) > 0 {
				toolChunks = append(toolChunks, chunk)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v, want one assembled call", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "query_stories" {
		t.Errorf("call = %+v", call)
	}
	if string(call.Arguments) != `{"topic":"exile"}` {
		t.Errorf("arguments = %s, want fragments joined", call.Arguments)
	}
	if len(toolChunks) != 1 {
		t.Errorf("tool calls delivered in %d chunks, want 1", len(toolChunks))
	}
}

func TestChatStream_ToolCallsDeliveredAfterText(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"choices": [{"delta": {"content": "checking "}}]}`,
			`{"choices": [{"delta": {"tool_calls": [{"index": 0, "id": "call_1", "function": {"name": "query_stories", "arguments": "{}"}}]}}]}`,
			`{"choices": [{"delta": {"content": "sources"}}]}`,
		)))
	})

	var order []string
	_, err := c.ChatStream(context.Background(), llm.Options{Model: "m"}, []llm.Message{{Role: "user", Content: "q"}},
		func(ctx context.Context, chunk llm.Chunk) error {
			if len(chunk.ToolCalls) > 0 {
				order = append(order, "tools")
			} else {
				order = append(order, "text")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	// Live streams hand over the assembled calls once, after the final
	// text delta. Cache replays do the opposite.
	want := []string{"text", "text", "tools"}
	if len(order) != len(want) {
		t.Fatalf("chunk order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("chunk order = %v, want %v", order, want)
		}
	}
}

func TestChatStream_CallbackErrorAborts(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody(
			`{"choices": [{"delta": {"content": "a"}}]}`,
			`{"choices": [{"delta": {"content": "b"}}]}`,
		)))
	})

	boom := errors.New("stop")
	_, err := c.ChatStream(context.Background(), llm.Options{Model: "m"}, []llm.Message{{Role: "user", Content: "q"}},
		func(ctx context.Context, chunk llm.Chunk) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("ChatStream() error = %v, want callback error", err)
	}
}

func TestChatStream_SkipsCommentsAndGarbage(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(": keep-alive\n\n" +
			"data: not json at all\n\n" +
			"data: {\"choices\": [{\"delta\": {\"content\": \"ok\"}}]}\n\n" +
			"data: [DONE]\n\n"))
	})

	resp, err := c.ChatStream(context.Background(), llm.Options{Model: "m"}, []llm.Message{{Role: "user", Content: "q"}},
		func(ctx context.Context, chunk llm.Chunk) error { return nil })
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestFetchGenerationMetadata(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generation" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "gen-42" {
			t.Errorf("id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"total_cost": 0.00021, "tokens_prompt": 100, "tokens_completion": 250, "model": "moonshotai/kimi-k2"}}`))
	})

	md, err := c.FetchGenerationMetadata(context.Background(), "gen-42")
	if err != nil {
		t.Fatalf("FetchGenerationMetadata() error = %v", err)
	}
	if md == nil {
		t.Fatal("metadata is nil")
	}
	if md.TotalCost == nil || *md.TotalCost != 0.00021 {
		t.Errorf("TotalCost = %v", md.TotalCost)
	}
	if md.TokensCompletion == nil || *md.TokensCompletion != 250 {
		t.Errorf("TokensCompletion = %v", md.TokensCompletion)
	}
	if md.Model != "moonshotai/kimi-k2" {
		t.Errorf("Model = %q", md.Model)
	}
}

func TestFetchGenerationMetadata_FailuresSwallowed(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	})

	md, err := c.FetchGenerationMetadata(context.Background(), "gen-42")
	if err != nil {
		t.Errorf("error = %v, want nil on upstream failure", err)
	}
	if md != nil {
		t.Errorf("metadata = %+v, want nil", md)
	}
}

func TestFetchGenerationMetadata_CancellationDuringSettle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached server despite cancellation")
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "k", SettleDelay: time.Hour}, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchGenerationMetadata(ctx, "gen-42")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose.
		w.Write([]byte(`{"data": [
			{"index": 1, "embedding": [0.4, 0.5]},
			{"index": 0, "embedding": [0.1, 0.2]}
		]}`))
	})

	got, err := c.Embed(context.Background(), "text-embedding-3-small", []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d vectors", len(got))
	}
	if got[0][0] != 0.1 || got[1][0] != 0.4 {
		t.Errorf("vectors not ordered by input index: %v", got)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"index": 0, "embedding": [0.1]}]}`))
	})

	if _, err := c.Embed(context.Background(), "m", []string{"a", "b"}); err == nil {
		t.Error("Embed() succeeded with missing vectors")
	}
}
