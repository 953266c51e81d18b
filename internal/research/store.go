package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists questions and conversations. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a research store.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// RecordQuestion registers that name was asked: a new row starts with one
// view, an existing row gains a view and a fresh most_recently_asked.
func (s *Store) RecordQuestion(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO questions (name, views_count, most_recently_asked)
		VALUES ($1, 1, now())
		ON CONFLICT (name) DO UPDATE SET
			views_count         = questions.views_count + 1,
			most_recently_asked = now()`,
		name,
	)
	if err != nil {
		return fmt.Errorf("recording question %q: %w", name, err)
	}
	return nil
}

// SetFinalResponse stores the settled answer for a question.
func (s *Store) SetFinalResponse(ctx context.Context, name, response string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE questions SET final_response = $2 WHERE name = $1`,
		name, response,
	)
	if err != nil {
		return fmt.Errorf("storing final response for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storing final response for %q: %w", name, ErrQuestionNotFound)
	}
	return nil
}

// GetQuestion fetches a question by name.
func (s *Store) GetQuestion(ctx context.Context, name string) (*Question, error) {
	var q Question
	err := s.db.QueryRow(ctx, `
		SELECT name, views_count, most_recently_asked, created_at, final_response
		FROM questions WHERE name = $1`,
		name,
	).Scan(&q.Name, &q.ViewsCount, &q.MostRecentlyAsked, &q.CreatedAt, &q.FinalResponse)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("question %q: %w", name, ErrQuestionNotFound)
		}
		return nil, fmt.Errorf("fetching question %q: %w", name, err)
	}
	return &q, nil
}

// TopQuestions lists the most viewed questions, most viewed first.
func (s *Store) TopQuestions(ctx context.Context, limit int) ([]Question, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name, views_count, most_recently_asked, created_at, final_response
		FROM questions
		ORDER BY views_count DESC, most_recently_asked DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.Name, &q.ViewsCount, &q.MostRecentlyAsked, &q.CreatedAt, &q.FinalResponse); err != nil {
			return nil, fmt.Errorf("scanning question row: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating question rows: %w", err)
	}
	return questions, nil
}

// StartConversation opens a conversation under a question and returns its
// id. The question must already be recorded.
func (s *Store) StartConversation(ctx context.Context, questionName string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO conversations (id, question_name) VALUES ($1, $2)`,
		id, questionName,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("starting conversation for %q: %w", questionName, err)
	}
	return id, nil
}

// Conversations lists a question's conversations, newest first.
func (s *Store) Conversations(ctx context.Context, questionName string) ([]Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, question_name, created_at
		FROM conversations
		WHERE question_name = $1
		ORDER BY created_at DESC`,
		questionName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for %q: %w", questionName, err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.QuestionName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}
