package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/firsthand-ai/firsthand/internal/backoff"
	"github.com/firsthand-ai/firsthand/internal/cache"
)

// Cache is the persistence surface the gateway writes generations through.
// Both methods are best-effort: the cache never fails a generation.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value, label string, md *cache.Metadata)
}

// GatewayConfig assembles a Gateway. Upstream, Cache and Logger are
// required; everything else degrades gracefully when absent.
type GatewayConfig struct {
	Upstream Upstream
	Cache    Cache
	Logger   *slog.Logger

	// Mode tags every cache key and log line produced by this gateway.
	Mode string

	// Metadata, when set, enriches cache entries with provider accounting.
	Metadata MetadataFetcher

	// Limiter, when set, gates generations on cache miss.
	Limiter AdmissionChecker

	// ConversationID, when set, is attached to every cache entry written.
	ConversationID *uuid.UUID

	Retry  backoff.Config
	Replay ReplayConfig
}

// Gateway serves chat and completion requests through a content-addressed
// cache. Hits cost nothing: no upstream call, no rate-limit consumption.
// Misses generate once, stream or return the result, then persist it.
type Gateway struct {
	upstream Upstream
	cache    Cache
	logger   *slog.Logger
	mode     string
	meta     MetadataFetcher
	limiter  AdmissionChecker
	convID   *uuid.UUID
	retry    backoff.Config
	replay   ReplayConfig
	flights  *flightGroup
}

// NewGateway builds a Gateway for a single usage mode.
func NewGateway(cfg GatewayConfig) *Gateway {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeStoryChat
	}
	return &Gateway{
		upstream: cfg.Upstream,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		mode:     mode,
		meta:     cfg.Metadata,
		limiter:  cfg.Limiter,
		convID:   cfg.ConversationID,
		retry:    cfg.Retry,
		replay:   cfg.Replay,
		flights:  newFlightGroup(),
	}
}

// Mode returns the usage mode this gateway serves.
func (g *Gateway) Mode() string { return g.mode }

// Chat answers a chat request, from cache when possible. Concurrent misses
// on the same key share a single upstream generation.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	question := deriveQuestion(req.OriginalQuestion, req.Messages)
	key := buildKey(g.mode, question, req.Messages, req.Options)

	if raw, ok := g.cache.Get(ctx, key); ok {
		env := decodeEnvelope(raw)
		g.logger.Info("llm cache hit",
			"mode", g.mode,
			"question", question,
			"type", "chat",
			"content_length", len(env.Text))
		return &Response{Text: env.Text, ToolCalls: env.ToolCalls, FromCache: true}, nil
	}

	if err := g.admit(req.RateLimit); err != nil {
		return nil, err
	}

	g.logger.Info("llm cache miss", "mode", g.mode, "question", question, "type", "chat")

	resp, shared, err := g.flights.do(ctx, key, func() (*Response, error) {
		resp, err := backoff.Execute(ctx, g.logger, g.retry, func(ctx context.Context) (*Response, error) {
			return g.upstream.Chat(ctx, req.Options, req.Messages)
		})
		if err != nil {
			return nil, err
		}
		g.store(ctx, key, question, req.ConversationID, resp)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		g.logger.Debug("joined in-flight generation", "mode", g.mode, "question", question)
	}
	return resp, nil
}

// ChatStream answers a chat request as a stream of chunks delivered to cb.
// Cache hits are replayed in paced rune chunks; misses forward the live
// upstream stream and persist the captured result only after the stream is
// fully exhausted. An aborted or failed stream writes nothing.
func (g *Gateway) ChatStream(ctx context.Context, req ChatRequest, cb StreamCallback) (*Response, error) {
	question := deriveQuestion(req.OriginalQuestion, req.Messages)
	key := buildKey(g.mode, question, req.Messages, req.Options)

	if raw, ok := g.cache.Get(ctx, key); ok {
		env := decodeEnvelope(raw)
		g.logger.Info("llm cache hit",
			"mode", g.mode,
			"question", question,
			"type", "chat_streaming",
			"content_length", len(env.Text))
		if err := replayEnvelope(ctx, env, g.replay, cb); err != nil {
			return nil, err
		}
		return &Response{Text: env.Text, ToolCalls: env.ToolCalls, FromCache: true}, nil
	}

	if err := g.admit(req.RateLimit); err != nil {
		return nil, err
	}

	g.logger.Info("llm cache miss", "mode", g.mode, "question", question, "type", "chat_streaming")

	resp, err := g.streamWithRetry(ctx, req, cb)
	if err != nil {
		return nil, err
	}
	g.store(ctx, key, question, req.ConversationID, resp)
	return resp, nil
}

// Complete answers a single-prompt completion. The prompt is wrapped as one
// user message so completions and chats share the same keying and caching.
func (g *Gateway) Complete(ctx context.Context, req CompleteRequest) (*Response, error) {
	return g.Chat(ctx, chatRequestFor(req))
}

// CompleteStream is the streaming form of Complete.
func (g *Gateway) CompleteStream(ctx context.Context, req CompleteRequest, cb StreamCallback) (*Response, error) {
	return g.ChatStream(ctx, chatRequestFor(req), cb)
}

func chatRequestFor(req CompleteRequest) ChatRequest {
	return ChatRequest{
		Messages:         []Message{{Role: "user", Content: req.Prompt}},
		Options:          req.Options,
		OriginalQuestion: req.OriginalQuestion,
		RateLimit:        req.RateLimit,
	}
}

// admit consults the rate limiter, if any. Only cache misses reach here.
func (g *Gateway) admit(rk *RateKey) error {
	if rk == nil || g.limiter == nil {
		return nil
	}
	if g.limiter.Check(rk.Identity, rk.Mode) {
		return nil
	}
	g.logger.Warn("generation denied by rate limit", "identity", rk.Identity, "mode", rk.Mode)
	return fmt.Errorf("%w for %s", ErrRateLimited, rk.Mode)
}

// streamWithRetry opens the upstream stream, retrying failures with the
// gateway's backoff budget only while no chunk has been forwarded yet. Once
// the consumer has seen output, a retry would replay partial content, so
// later failures propagate immediately.
func (g *Gateway) streamWithRetry(ctx context.Context, req ChatRequest, cb StreamCallback) (*Response, error) {
	forwarded := false
	wrapped := func(ctx context.Context, chunk Chunk) error {
		forwarded = true
		return cb(ctx, chunk)
	}

	var lastErr error
	for attempt := 0; attempt <= g.retry.Retries; attempt++ {
		resp, err := g.upstream.ChatStream(ctx, req.Options, req.Messages, wrapped)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if forwarded || attempt == g.retry.Retries {
			break
		}
		g.logger.Warn("retrying stream open after error",
			"attempt", attempt+1,
			"retries", g.retry.Retries,
			"error", err)
		if sleepErr := backoff.Sleep(ctx, g.retry.DelayFor(attempt, err)); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

// store persists a completed generation. Metadata enrichment is best-effort
// and never blocks or fails the response path beyond the fetcher's own
// settle delay. A per-request conversation id wins over the gateway default.
func (g *Gateway) store(ctx context.Context, key, question string, conv *uuid.UUID, resp *Response) {
	if conv == nil {
		conv = g.convID
	}
	md := &cache.Metadata{
		TokensPrompt:     resp.TokensPrompt,
		TokensCompletion: resp.TokensCompletion,
		GenerationID:     resp.GenerationID,
		ConversationID:   conv,
	}
	if g.meta != nil && resp.GenerationID != "" {
		if gm, err := g.meta.FetchGenerationMetadata(ctx, resp.GenerationID); err == nil && gm != nil {
			md.TotalCost = gm.TotalCost
			md.Model = gm.Model
			if gm.TokensPrompt != nil {
				md.TokensPrompt = gm.TokensPrompt
			}
			if gm.TokensCompletion != nil {
				md.TokensCompletion = gm.TokensCompletion
			}
		}
	}
	g.cache.Set(ctx, key, encodeEnvelope(resp.Text, resp.ToolCalls), question, md)
}
