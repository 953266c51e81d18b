package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/firsthand-ai/firsthand/internal/llm"
)

// chatGateway is the generation surface behind the chat endpoints.
type chatGateway interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error)
	ChatStream(ctx context.Context, req llm.ChatRequest, cb llm.StreamCallback) (*llm.Response, error)
}

// ServerConfig assembles the HTTP server.
type ServerConfig struct {
	Addr    string
	Version string

	Chat        chatGateway
	Research    researchAnswerer
	Questions   questionLister
	DB          Pinger
	ChatOptions llm.Options
	Logger      *slog.Logger

	AllowedOrigins    []string
	RequestsPerMinute int
	TrustProxy        bool
	Dev               bool
}

// Server is the HTTP surface over the chat and research gateways.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	chat        chatGateway
	research    researchAnswerer
	questions   questionLister
	db          Pinger
	chatOptions llm.Options
	trustProxy  bool
	version     string
	dev         bool
}

// NewServer wires handlers and middleware into a ready-to-start server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Chat == nil {
		return nil, errors.New("chat gateway is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	s := &Server{
		logger:      cfg.Logger,
		chat:        cfg.Chat,
		research:    cfg.Research,
		questions:   cfg.Questions,
		db:          cfg.DB,
		chatOptions: cfg.ChatOptions,
		trustProxy:  cfg.TrustProxy,
		version:     cfg.Version,
		dev:         cfg.Dev,
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/chat", s.handleChat)
	api.HandleFunc("POST /api/v1/chat/stream", s.handleChatStream)
	if cfg.Research != nil {
		api.HandleFunc("POST /api/v1/research", s.handleResearch)
		api.HandleFunc("POST /api/v1/research/stream", s.handleResearchStream)
	}
	if cfg.Questions != nil {
		api.HandleFunc("GET /api/v1/questions", s.handleQuestions)
	}

	limiter := newRateLimiter(rpm, cfg.TrustProxy)

	var apiHandler http.Handler = api
	apiHandler = limiter.middleware(apiHandler)
	apiHandler = corsMiddleware(cfg.AllowedOrigins)(apiHandler)
	apiHandler = loggingMiddleware(cfg.Logger)(apiHandler)
	apiHandler = requestIDMiddleware()(apiHandler)
	apiHandler = recoveryMiddleware(cfg.Logger)(apiHandler)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.HandleFunc("GET /ready", s.handleReady)
	root.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, s.dev)
		apiHandler.ServeHTTP(w, r)
	}))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE responses stay open for the full generation.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Handler exposes the assembled root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
