// Package research implements the deep-research question flow: tracked
// questions with view counts, per-question conversations, and a
// tool-augmented generation loop over the testimony knowledge base.
package research

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/firsthand-ai/firsthand/internal/knowledge"
)

// ErrQuestionNotFound is returned when a question name has no row.
var ErrQuestionNotFound = errors.New("question not found")

// Question is a tracked research question.
type Question struct {
	Name              string
	ViewsCount        int32
	MostRecentlyAsked time.Time
	CreatedAt         time.Time
	FinalResponse     *string
}

// Conversation ties a chat session to the question it explores.
type Conversation struct {
	ID           uuid.UUID
	QuestionName string
	CreatedAt    time.Time
}

// PassageSearcher is the slice of the knowledge store the research tool
// needs.
type PassageSearcher interface {
	Search(ctx context.Context, query string, topK int, filter knowledge.Filter) ([]knowledge.SearchResult, error)
}
