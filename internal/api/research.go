package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/firsthand-ai/firsthand/internal/llm"
	"github.com/firsthand-ai/firsthand/internal/research"
)

const (
	maxQuestionChars    = 2000
	defaultQuestionsTop = 20
	maxQuestionsTop     = 100
)

// researchRequest is the wire form of a deep research request.
type researchRequest struct {
	Question string `json:"question"`
}

// researchResponse is the wire form of a completed research answer.
type researchResponse struct {
	Answer string `json:"answer"`
}

func (s *Server) decodeResearchRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req researchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return "", false
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question must not be empty")
		return "", false
	}
	if len(question) > maxQuestionChars {
		writeError(w, http.StatusBadRequest, "invalid_request", "question too long")
		return "", false
	}
	return question, true
}

// handleResearch serves POST /api/v1/research.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	question, ok := s.decodeResearchRequest(w, r)
	if !ok {
		return
	}

	answer, err := s.research.Answer(r.Context(), question, s.rateKey(r, llm.ModeDeepResearch))
	if err != nil {
		s.writeGenerationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, researchResponse{Answer: answer})
}

// handleResearchStream serves POST /api/v1/research/stream as SSE. Tool
// rounds typically produce no text, so the client sees the final answer
// streamed live (or replayed from cache).
func (s *Server) handleResearchStream(w http.ResponseWriter, r *http.Request) {
	question, ok := s.decodeResearchRequest(w, r)
	if !ok {
		return
	}

	s.streamGeneration(w, r, func(ctx context.Context, cb llm.StreamCallback) (*llm.Response, error) {
		return s.research.AnswerStream(ctx, question, s.rateKey(r, llm.ModeDeepResearch), cb)
	})
}

// questionEntry is the wire form of one tracked research question.
type questionEntry struct {
	Name              string    `json:"name"`
	ViewsCount        int32     `json:"views_count"`
	MostRecentlyAsked time.Time `json:"most_recently_asked"`
	Answered          bool      `json:"answered"`
}

// handleQuestions serves GET /api/v1/questions, the most-asked research
// questions in descending popularity.
func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	limit := defaultQuestionsTop
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxQuestionsTop {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	questions, err := s.questions.TopQuestions(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing questions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list questions")
		return
	}

	entries := make([]questionEntry, 0, len(questions))
	for _, q := range questions {
		entries = append(entries, questionEntry{
			Name:              q.Name,
			ViewsCount:        q.ViewsCount,
			MostRecentlyAsked: q.MostRecentlyAsked,
			Answered:          q.FinalResponse != nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]questionEntry{"questions": entries})
}

// researchAnswerer is the research surface the server drives.
type researchAnswerer interface {
	Answer(ctx context.Context, question string, rk *llm.RateKey) (string, error)
	AnswerStream(ctx context.Context, question string, rk *llm.RateKey, cb llm.StreamCallback) (*llm.Response, error)
}

// questionLister is the store surface behind GET /api/v1/questions.
type questionLister interface {
	TopQuestions(ctx context.Context, limit int) ([]research.Question, error)
}
