package research

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/firsthand-ai/firsthand/internal/llm"
)

// maxToolRounds bounds the generate/execute-tools loop so a model that
// keeps requesting tools cannot spin forever.
const maxToolRounds = 4

// Generator is the gateway surface the research service drives.
type Generator interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error)
	ChatStream(ctx context.Context, req llm.ChatRequest, cb llm.StreamCallback) (*llm.Response, error)
}

// questionTracker is the store surface the service needs; nil disables
// question tracking.
type questionTracker interface {
	RecordQuestion(ctx context.Context, name string) error
	SetFinalResponse(ctx context.Context, name, response string) error
	StartConversation(ctx context.Context, questionName string) (uuid.UUID, error)
}

// ServiceConfig assembles a research Service.
type ServiceConfig struct {
	Generator    Generator
	Tool         *QueryStoriesTool
	Tracker      questionTracker
	Options      llm.Options
	SystemPrompt string
	Logger       *slog.Logger
}

// Service answers research questions with tool-augmented generation: the
// model may call queryStories to ground its answer in retrieved testimony
// before producing the final text.
type Service struct {
	gen          Generator
	tool         *QueryStoriesTool
	tracker      questionTracker
	opts         llm.Options
	systemPrompt string
	logger       *slog.Logger
}

// NewService creates a research service.
func NewService(cfg ServiceConfig) (*Service, error) {
	def, err := cfg.Tool.Definition()
	if err != nil {
		return nil, err
	}
	opts := cfg.Options
	opts.Tools = []llm.Tool{def}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:          cfg.Generator,
		tool:         cfg.Tool,
		tracker:      cfg.Tracker,
		opts:         opts,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger,
	}, nil
}

// Answer resolves a research question and returns the final text.
func (s *Service) Answer(ctx context.Context, question string, rk *llm.RateKey) (string, error) {
	resp, err := s.answer(ctx, question, rk, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// AnswerStream resolves a research question, forwarding chunks of each
// generation round to cb. Tool-calling rounds usually carry no text, so in
// practice cb sees the final answer streamed live. The returned Response is
// the final round's; its FromCache flag reports whether that round was
// served from cache.
func (s *Service) AnswerStream(ctx context.Context, question string, rk *llm.RateKey, cb llm.StreamCallback) (*llm.Response, error) {
	return s.answer(ctx, question, rk, cb)
}

func (s *Service) answer(ctx context.Context, question string, rk *llm.RateKey, cb llm.StreamCallback) (*llm.Response, error) {
	var conv *uuid.UUID
	if s.tracker != nil {
		if err := s.tracker.RecordQuestion(ctx, question); err != nil {
			s.logger.Warn("recording question failed", "question", question, "error", err)
		} else if id, err := s.tracker.StartConversation(ctx, question); err != nil {
			s.logger.Warn("starting conversation failed", "question", question, "error", err)
		} else {
			conv = &id
		}
	}

	messages := []llm.Message{
		{Role: "system", Content: s.systemPrompt},
		{Role: "user", Content: question},
	}

	for round := 0; round < maxToolRounds; round++ {
		req := llm.ChatRequest{
			Messages:         messages,
			Options:          s.opts,
			OriginalQuestion: question,
			RateLimit:        rk,
			ConversationID:   conv,
		}

		var (
			resp *llm.Response
			err  error
		)
		if cb != nil {
			resp, err = s.gen.ChatStream(ctx, req, cb)
		} else {
			resp, err = s.gen.Chat(ctx, req)
		}
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			if s.tracker != nil {
				if err := s.tracker.SetFinalResponse(ctx, question, resp.Text); err != nil {
					s.logger.Warn("storing final response failed", "question", question, "error", err)
				}
			}
			return resp, nil
		}

		s.logger.Info("executing tool calls", "round", round+1, "count", len(resp.ToolCalls))
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result, err := s.tool.CallRaw(ctx, call.Arguments, question)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", call.Name, err)
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, fmt.Errorf("no final answer after %d tool rounds", maxToolRounds)
}
