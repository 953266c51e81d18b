package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/firsthand-ai/firsthand/internal/llm"
)

// runAsk answers a single research question in the terminal, streaming the
// answer as it is generated (or replayed from cache).
func runAsk(logger *slog.Logger, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return errors.New("usage: firsthand ask <question>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// The terminal is a single local caller; no rate key.
	if _, err := a.research.AnswerStream(ctx, question, nil,
		func(_ context.Context, chunk llm.Chunk) error {
			_, err := fmt.Fprint(os.Stdout, chunk.Delta)
			return err
		}); err != nil {
		return err
	}
	fmt.Println()
	return nil
}
