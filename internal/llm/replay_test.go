package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func collectChunks(t *testing.T, env envelope, cfg ReplayConfig) []Chunk {
	t.Helper()
	var chunks []Chunk
	err := replayEnvelope(context.Background(), env, cfg, func(ctx context.Context, c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("replayEnvelope() error = %v", err)
	}
	return chunks
}

func TestReplayEnvelope_ChunksTextByRunes(t *testing.T) {
	t.Parallel()

	chunks := collectChunks(t, envelope{Text: "hello world!"}, ReplayConfig{ChunkRunes: 5})

	want := []string{"hello", " worl", "d!"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	var rebuilt strings.Builder
	for i, c := range chunks {
		if c.Delta != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, c.Delta, want[i])
		}
		rebuilt.WriteString(c.Delta)
	}
	if rebuilt.String() != "hello world!" {
		t.Errorf("concatenated chunks = %q", rebuilt.String())
	}
}

func TestReplayEnvelope_NeverSplitsCodepoints(t *testing.T) {
	t.Parallel()

	text := "héllo wörld ünïcode"
	chunks := collectChunks(t, envelope{Text: text}, ReplayConfig{ChunkRunes: 3})

	var rebuilt strings.Builder
	for _, c := range chunks {
		if !strings.Contains(text, c.Delta) {
			t.Errorf("chunk %q split a codepoint", c.Delta)
		}
		rebuilt.WriteString(c.Delta)
	}
	if rebuilt.String() != text {
		t.Errorf("concatenated chunks = %q, want %q", rebuilt.String(), text)
	}
}

func TestReplayEnvelope_ToolCallsDeliveredFirst(t *testing.T) {
	t.Parallel()

	env := envelope{
		Text:      "dispatching",
		ToolCalls: []ToolCall{{ID: "c1", Name: "query_stories"}},
	}
	chunks := collectChunks(t, env, ReplayConfig{ChunkRunes: 100})

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Delta != "" || len(chunks[0].ToolCalls) != 1 {
		t.Errorf("first chunk = %+v, want zero-delta tool call chunk", chunks[0])
	}
	if chunks[1].Delta != "dispatching" || len(chunks[1].ToolCalls) != 0 {
		t.Errorf("second chunk = %+v, want text only", chunks[1])
	}
}

func TestReplayEnvelope_CallbackErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("consumer gone")
	calls := 0
	err := replayEnvelope(context.Background(), envelope{Text: "abcdefghij"}, ReplayConfig{ChunkRunes: 2},
		func(ctx context.Context, c Chunk) error {
			calls++
			if calls == 2 {
				return boom
			}
			return nil
		})
	if !errors.Is(err, boom) {
		t.Errorf("replayEnvelope() error = %v, want %v", err, boom)
	}
	if calls != 2 {
		t.Errorf("callback invoked %d times, want 2", calls)
	}
}

func TestReplayEnvelope_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	err := replayEnvelope(ctx, envelope{Text: strings.Repeat("x", 1000)}, ReplayConfig{ChunkRunes: 1, Delay: 50},
		func(ctx context.Context, c Chunk) error {
			cancel()
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("replayEnvelope() error = %v, want context.Canceled", err)
	}
}

func TestReplayEnvelope_EmptyText(t *testing.T) {
	t.Parallel()

	chunks := collectChunks(t, envelope{}, ReplayConfig{})
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for empty envelope, want 0", len(chunks))
	}
}
