package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileBackend appends each flushed batch as newline-delimited JSON to a
// single file. It stands in for the reference implementation's
// ClickHouse/DuckDB backends, neither of which has a Go driver anywhere
// in the retrieval pack (see DESIGN.md).
type FileBackend struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileBackend opens (creating if needed) path for append.
func NewFileBackend(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("analytics: open %s: %w", path, err)
	}
	return &FileBackend{path: path, file: f}, nil
}

func (fb *FileBackend) WriteBatch(_ context.Context, events []Event) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	enc := json.NewEncoder(fb.file)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("analytics: write event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Close closes the underlying file.
func (fb *FileBackend) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.file.Close()
}
