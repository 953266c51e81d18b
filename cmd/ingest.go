package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/firsthand-ai/firsthand/internal/backoff"
	"github.com/firsthand-ai/firsthand/internal/ingest"
)

// runIngest loads a JSONL testimony dump into the knowledge store. Runs are
// resumable: progress is checkpointed per input file under ~/.firsthand/,
// and a second invocation continues where the last one stopped.
func runIngest(logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: firsthand ingest <file.jsonl>")
	}
	path := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	checkpoint, err := openIngestCheckpoint(path)
	if err != nil {
		return err
	}
	defer checkpoint.Close()

	ing := ingest.New(ingest.Config{
		Store:      a.passages,
		Logger:     logger.With("component", "ingest"),
		Retry:      backoff.Config{Retries: a.cfg.Retries, InitialDelay: a.cfg.InitialDelay},
		Checkpoint: checkpoint,
	})

	stats, err := ing.Run(ctx, f)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d of %d records\n", stats.Ingested, stats.Read)
	fmt.Printf("  skipped short:     %d\n", stats.SkippedShort)
	fmt.Printf("  skipped low score: %d\n", stats.SkippedLowScore)
	fmt.Printf("  skipped duplicate: %d\n", stats.SkippedDupe)
	fmt.Printf("  malformed lines:   %d\n", stats.Malformed)

	// A clean full pass retires the checkpoint so the next run starts over.
	if err := checkpoint.Clear(); err != nil {
		logger.Warn("clearing checkpoint failed", "error", err)
	}
	return nil
}

func openIngestCheckpoint(inputPath string) (*ingest.Checkpoint, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	dir := filepath.Join(home, ".firsthand")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	name := fmt.Sprintf("ingest-%s.offset", filepath.Base(inputPath))
	checkpoint, err := ingest.OpenCheckpoint(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, ingest.ErrLocked) {
			return nil, fmt.Errorf("another ingest of %s is already running", inputPath)
		}
		return nil, err
	}
	return checkpoint, nil
}
