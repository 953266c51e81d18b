// Package ingest loads testimony records from JSONL exports into the
// knowledge store. Records that are too short or poorly received are
// skipped, duplicates within a run are dropped, and progress is
// checkpointed so an interrupted run resumes where it stopped.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/firsthand-ai/firsthand/internal/backoff"
	"github.com/firsthand-ai/firsthand/internal/knowledge"
)

// Quality gates. Bodies at or under minBodyChars are fragments, not
// stories; scores at or under minScore mean the community did not vouch
// for the account.
const (
	minBodyChars = 250
	minScore     = 2
)

// defaultBatchSize is how many passages are embedded and written per
// store round trip.
const defaultBatchSize = 32

// Record is one JSONL export line.
type Record struct {
	ID     string   `json:"id"`
	Body   string   `json:"body"`
	Source string   `json:"source"`
	Sex    string   `json:"sex"`
	Tags   []string `json:"tags"`
	Score  int      `json:"score"`
	URL    string   `json:"url"`
}

// Stats summarizes one ingestion run.
type Stats struct {
	Read            int
	Ingested        int
	SkippedShort    int
	SkippedLowScore int
	SkippedDupe     int
	Malformed       int
}

// PassageWriter is the slice of the knowledge store ingestion needs.
type PassageWriter interface {
	AddBatch(ctx context.Context, passages []knowledge.Passage) error
}

// Config assembles an Ingester.
type Config struct {
	Store      PassageWriter
	Logger     *slog.Logger
	Retry      backoff.Config
	BatchSize  int
	Checkpoint *Checkpoint // optional; nil disables resume
}

// Ingester streams JSONL records into the knowledge store.
type Ingester struct {
	store      PassageWriter
	logger     *slog.Logger
	retry      backoff.Config
	batchSize  int
	checkpoint *Checkpoint
}

// New creates an Ingester.
func New(cfg Config) *Ingester {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Ingester{
		store:      cfg.Store,
		logger:     logger,
		retry:      cfg.Retry,
		batchSize:  batchSize,
		checkpoint: cfg.Checkpoint,
	}
}

// Run ingests every record from r. Malformed lines and filtered records
// are counted and skipped, never fatal; store failures are retried with
// the configured backoff and abort the run if the budget is exhausted.
func (ing *Ingester) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats

	offset := 0
	if ing.checkpoint != nil {
		var err error
		offset, err = ing.checkpoint.Offset()
		if err != nil {
			return stats, err
		}
		if offset > 0 {
			ing.logger.Info("resuming ingestion", "offset", offset)
		}
	}

	seen := make(map[string]bool)
	var batch []knowledge.Passage
	line := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line++
		if line <= offset {
			continue
		}
		stats.Read++

		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			stats.Malformed++
			ing.logger.Warn("skipping malformed line", "line", line, "error", err)
			continue
		}

		switch {
		case len(rec.Body) <= minBodyChars:
			stats.SkippedShort++
			continue
		case rec.Score <= minScore:
			stats.SkippedLowScore++
			continue
		case rec.ID == "" || seen[rec.ID]:
			stats.SkippedDupe++
			continue
		}
		seen[rec.ID] = true

		batch = append(batch, knowledge.Passage{
			ID:             rec.ID,
			Content:        rec.Body,
			Source:         rec.Source,
			Sex:            rec.Sex,
			Tags:           rec.Tags,
			CommunityScore: rec.Score,
			URL:            rec.URL,
		})
		if len(batch) >= ing.batchSize {
			if err := ing.flush(ctx, batch, line); err != nil {
				return stats, err
			}
			stats.Ingested += len(batch)
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading input: %w", err)
	}

	if len(batch) > 0 {
		if err := ing.flush(ctx, batch, line); err != nil {
			return stats, err
		}
		stats.Ingested += len(batch)
	}

	ing.logger.Info("ingestion finished",
		"read", stats.Read,
		"ingested", stats.Ingested,
		"skipped_short", stats.SkippedShort,
		"skipped_low_score", stats.SkippedLowScore,
		"skipped_dupe", stats.SkippedDupe,
		"malformed", stats.Malformed,
	)
	return stats, nil
}

// flush writes one batch with retries, then advances the checkpoint.
func (ing *Ingester) flush(ctx context.Context, batch []knowledge.Passage, line int) error {
	_, err := backoff.Execute(ctx, ing.logger, ing.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, ing.store.AddBatch(ctx, batch)
	})
	if err != nil {
		return fmt.Errorf("writing batch of %d ending at line %d: %w", len(batch), line, err)
	}
	if ing.checkpoint != nil {
		if err := ing.checkpoint.Save(line); err != nil {
			return err
		}
	}
	return nil
}
