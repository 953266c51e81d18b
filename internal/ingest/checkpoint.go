package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another ingestion run holds the checkpoint.
var ErrLocked = errors.New("checkpoint is locked by another ingestion run")

// Checkpoint records how many input lines have been fully ingested,
// guarded by a file lock so two runs cannot ingest the same export
// concurrently. Saves are atomic (temp file + rename).
type Checkpoint struct {
	path string
	lock *flock.Flock
}

// OpenCheckpoint acquires the checkpoint at path. It fails with ErrLocked
// when another process holds it.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking checkpoint: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Checkpoint{path: path, lock: lock}, nil
}

// Offset returns the number of lines already ingested. A missing file
// means a fresh run.
func (c *Checkpoint) Offset() (int, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading checkpoint: %w", err)
	}

	offset, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed checkpoint %q: %w", c.path, err)
	}
	return offset, nil
}

// Save persists the line offset atomically.
func (c *Checkpoint) Save(offset int) error {
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(strconv.Itoa(offset)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint file, marking the export fully ingested.
func (c *Checkpoint) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}

// Close releases the checkpoint lock.
func (c *Checkpoint) Close() error {
	return c.lock.Unlock()
}
