// Package jsonl mirrors ingested expenses into a JSON Lines file, one
// expense object per line.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/writer/buffered"
)

// Config holds configuration for the JSON Lines writer.
type Config struct {
	FilePath  string `json:"filePath"`
	BatchSize int    `json:"batchSize"`
	// FlushInterval is in seconds.
	FlushInterval int `json:"flushInterval"`
}

// Writer appends expenses to a JSON Lines file with buffered batching.
type Writer struct {
	path     string
	mu       sync.Mutex
	written  int
	buffered *buffered.Writer
	logger   *slog.Logger
}

// New prepares a writer for cfg.FilePath. The file is created on first flush.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, errors.New("jsonl file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("creating jsonl directory: %w", err)
	}

	w := &Writer{path: cfg.FilePath, logger: logger}
	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}, logger.With("component", "jsonl_buffer"))

	logger.Info("jsonl writer initialized", "file", cfg.FilePath)
	return w, nil
}

// Write consumes expenses until in is closed or ctx is cancelled.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Expense) error {
	return w.buffered.Write(ctx, in)
}

func (w *Writer) flushBatch(_ context.Context, batch []*api.Expense) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening jsonl file: %w", err)
	}

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return errors.Join(fmt.Errorf("encoding expense %d: %w", e.ID, err), f.Close())
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Join(fmt.Errorf("writing jsonl file: %w", err), f.Close())
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing jsonl file: %w", err)
	}

	w.written += len(batch)
	w.logger.Debug("wrote expenses to jsonl", "batch_count", len(batch), "total_count", w.written)
	return nil
}

// Count returns the number of expenses written by this writer.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
