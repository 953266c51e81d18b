package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/firsthand-ai/firsthand/internal/llm"
)

const maxChatBodyBytes = 1 << 20

// chatRequest is the wire form of a story chat request.
type chatRequest struct {
	Messages []llm.Message `json:"messages"`

	// Question optionally labels the cache entry; defaults to the last
	// message content.
	Question string `json:"question,omitempty"`
}

// chatResponse is the wire form of a completed story chat generation.
type chatResponse struct {
	Text      string         `json:"text"`
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return nil, false
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages must not be empty")
		return nil, false
	}
	return &req, true
}

// handleChat serves POST /api/v1/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.chat.Chat(r.Context(), llm.ChatRequest{
		Messages:         req.Messages,
		Options:          s.chatOptions,
		OriginalQuestion: req.Question,
		RateLimit:        s.rateKey(r, llm.ModeStoryChat),
	})
	if err != nil {
		s.writeGenerationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Text: resp.Text, ToolCalls: resp.ToolCalls})
}

// handleChatStream serves POST /api/v1/chat/stream as SSE.
//
// Rate-limit denials happen before the first chunk, so they surface as a
// plain 429 JSON response rather than an SSE error event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	s.streamGeneration(w, r, func(ctx context.Context, cb llm.StreamCallback) (*llm.Response, error) {
		return s.chat.ChatStream(ctx, llm.ChatRequest{
			Messages:         req.Messages,
			Options:          s.chatOptions,
			OriginalQuestion: req.Question,
			RateLimit:        s.rateKey(r, llm.ModeStoryChat),
		}, cb)
	})
}

// streamGeneration runs a gateway streaming call over SSE. Errors before the
// first chunk map to JSON status responses; errors after it can only be
// reported in-band as an error event.
func (s *Server) streamGeneration(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, cb llm.StreamCallback) (*llm.Response, error)) {
	flusher, err := sseHeaders(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	streaming := false
	cb := func(ctx context.Context, chunk llm.Chunk) error {
		if !streaming {
			w.WriteHeader(http.StatusOK)
			streaming = true
		}
		if len(chunk.ToolCalls) > 0 {
			raw, err := json.Marshal(chunk.ToolCalls)
			if err != nil {
				return err
			}
			if err := writeEvent(w, flusher, EventTool, ToolCallsPayload{Calls: raw}); err != nil {
				return err
			}
		}
		if chunk.Delta == "" {
			return nil
		}
		return writeEvent(w, flusher, EventChunk, ChunkPayload{Text: chunk.Delta})
	}

	resp, err := run(r.Context(), cb)
	if err != nil {
		if !streaming {
			s.writeGenerationError(w, r, err)
			return
		}
		s.logger.Warn("stream failed mid-flight", "path", r.URL.Path, "error", err)
		writeStreamError(w, flusher, s.logger, "generation_failed", "generation failed")
		return
	}

	if err := writeEvent(w, flusher, EventDone, DonePayload{Cached: resp.FromCache}); err != nil {
		s.logger.Debug("failed to write done event", "error", err)
	}
}

// writeGenerationError maps gateway errors to HTTP status responses.
func (s *Server) writeGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		w.Header().Set("Retry-After", "86400")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "daily generation limit reached")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		s.logger.Error("generation failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed", "generation failed")
	}
}

// rateKey builds the admission identity for a request.
func (s *Server) rateKey(r *http.Request, mode string) *llm.RateKey {
	return &llm.RateKey{Identity: clientIP(r, s.trustProxy), Mode: mode}
}
