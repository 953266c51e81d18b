package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firsthand-ai/firsthand/db"
	"github.com/firsthand-ai/firsthand/internal/backoff"
	"github.com/firsthand-ai/firsthand/internal/cache"
	"github.com/firsthand-ai/firsthand/internal/config"
	"github.com/firsthand-ai/firsthand/internal/database"
	"github.com/firsthand-ai/firsthand/internal/knowledge"
	"github.com/firsthand-ai/firsthand/internal/llm"
	"github.com/firsthand-ai/firsthand/internal/llm/openrouter"
	"github.com/firsthand-ai/firsthand/internal/ratelimit"
	"github.com/firsthand-ai/firsthand/internal/research"
)

// app bundles the wired components shared by the serve and ask commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool     *pgxpool.Pool
	client   *openrouter.Client
	cache    *cache.Store
	limiter  *ratelimit.Limiter
	chatGW   *llm.Gateway
	research *research.Service
	store    *research.Store
	passages *knowledge.Store
}

// newApp loads configuration, connects to Postgres, runs migrations and
// wires the generation stack. Callers must Close the returned app.
func newApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, err
	}

	client := openrouter.New(openrouter.Config{
		BaseURL:     cfg.UpstreamBaseURL,
		APIKey:      cfg.UpstreamAPIKey,
		Referer:     "https://firsthand.ai",
		Title:       "firsthand",
		SettleDelay: openrouter.DefaultSettleDelay,
	}, logger.With("component", "openrouter"))

	store := cache.New(pool, logger.With("component", "cache"))

	var limiter *ratelimit.Limiter
	if cfg.RateLimitPerDay > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultPerDay: cfg.RateLimitPerDay,
		}, logger.With("component", "ratelimit"))
	}

	retry := backoff.Config{Retries: cfg.Retries, InitialDelay: cfg.InitialDelay}
	replay := llm.ReplayConfig{ChunkRunes: cfg.ReplayChunkRunes, Delay: cfg.ReplayDelay}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		client:  client,
		cache:   store,
		limiter: limiter,
	}

	a.chatGW = llm.NewGateway(llm.GatewayConfig{
		Upstream: client,
		Cache:    store,
		Logger:   logger.With("component", "gateway", "mode", llm.ModeStoryChat),
		Mode:     llm.ModeStoryChat,
		Metadata: client,
		Limiter:  a.admission(),
		Retry:    retry,
		Replay:   replay,
	})

	researchGW := llm.NewGateway(llm.GatewayConfig{
		Upstream: client,
		Cache:    store,
		Logger:   logger.With("component", "gateway", "mode", llm.ModeDeepResearch),
		Mode:     llm.ModeDeepResearch,
		Metadata: client,
		Limiter:  a.admission(),
		Retry:    retry,
		Replay:   replay,
	})

	embedder := knowledge.EmbedderFunc(func(ctx context.Context, input []string) ([][]float32, error) {
		return client.Embed(ctx, cfg.EmbedderModel, input)
	})
	passages := knowledge.NewStore(pool, embedder, logger.With("component", "knowledge"))
	a.passages = passages

	a.store = research.NewStore(pool, logger.With("component", "research"))

	tool := research.NewQueryStoriesTool(passages, store, logger.With("component", "tool"))
	a.research, err = research.NewService(research.ServiceConfig{
		Generator:    researchGW,
		Tool:         tool,
		Tracker:      a.store,
		Options:      a.generationOptions(),
		SystemPrompt: research.DefaultSystemPrompt,
		Logger:       logger.With("component", "research"),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("building research service: %w", err)
	}

	return a, nil
}

// admission adapts the optional daily limiter to the gateway interface.
// The generic nil-check matters: a nil *Limiter inside a non-nil interface
// would still be consulted.
func (a *app) admission() llm.AdmissionChecker {
	if a.limiter == nil {
		return nil
	}
	return a.limiter
}

func (a *app) generationOptions() llm.Options {
	return llm.Options{
		Model:       a.cfg.ModelName,
		Temperature: a.cfg.Temperature,
		TopP:        a.cfg.TopP,
		MaxTokens:   a.cfg.MaxTokens,
	}
}

// Close releases pooled resources. Pending async cache writes get a short
// grace period so shutdown does not drop them.
func (a *app) Close() {
	time.Sleep(100 * time.Millisecond)
	a.pool.Close()
}
