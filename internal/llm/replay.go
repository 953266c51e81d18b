package llm

import (
	"context"
	"time"
)

// Replay pacing defaults, chosen so cached answers read like live typing
// instead of appearing all at once.
const (
	DefaultReplayChunkRunes = 5
	DefaultReplayDelay      = 25 * time.Millisecond
)

// ReplayConfig controls how a cached result is re-chunked into a stream.
type ReplayConfig struct {
	ChunkRunes int
	Delay      time.Duration
}

func (c ReplayConfig) withDefaults() ReplayConfig {
	if c.ChunkRunes <= 0 {
		c.ChunkRunes = DefaultReplayChunkRunes
	}
	if c.Delay < 0 {
		c.Delay = DefaultReplayDelay
	}
	return c
}

// replayEnvelope streams a cached result through cb. Tool calls, when
// present, are delivered first in a single zero-delta chunk so consumers
// can dispatch them before any text arrives; live upstream streams deliver
// them after the text instead, and consumers must accept either order. Text
// is split on rune boundaries, never mid-codepoint, with a short pause
// between chunks.
func replayEnvelope(ctx context.Context, env envelope, cfg ReplayConfig, cb StreamCallback) error {
	cfg = cfg.withDefaults()

	if len(env.ToolCalls) > 0 {
		if err := cb(ctx, Chunk{ToolCalls: env.ToolCalls}); err != nil {
			return err
		}
	}

	runes := []rune(env.Text)
	for i := 0; i < len(runes); i += cfg.ChunkRunes {
		end := min(i+cfg.ChunkRunes, len(runes))
		if err := cb(ctx, Chunk{Delta: string(runes[i:end])}); err != nil {
			return err
		}
		if end < len(runes) && cfg.Delay > 0 {
			select {
			case <-time.After(cfg.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
