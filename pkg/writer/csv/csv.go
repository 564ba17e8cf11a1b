// Package csv mirrors ingested expenses into an append-only CSV file.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/writer/buffered"
)

// Headers is the header row written to a new file.
var Headers = []string{"ID", "Date", "Amount", "Category", "Notes", "Source", "CreatedAt"}

// Config holds configuration for the CSV writer.
type Config struct {
	FilePath string `json:"filePath"`
	// BatchSize is the number of expenses buffered before writing.
	BatchSize int `json:"batchSize"`
	// FlushInterval is in seconds.
	FlushInterval int `json:"flushInterval"`
}

// Writer appends expenses to a CSV file with buffered batching.
type Writer struct {
	path     string
	file     *os.File
	csv      *csv.Writer
	mu       sync.Mutex
	buffered *buffered.Writer
	logger   *slog.Logger
}

// New opens (or creates) cfg.FilePath and writes the header row if the file
// is empty.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, errors.New("csv file path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("creating csv directory: %w", err)
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}

	w := &Writer{
		path:   cfg.FilePath,
		file:   file,
		csv:    csv.NewWriter(file),
		logger: logger,
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("stat csv file: %w", err), file.Close())
	}
	if stat.Size() == 0 {
		if err := w.writeRows([][]string{Headers}); err != nil {
			return nil, errors.Join(fmt.Errorf("writing headers: %w", err), file.Close())
		}
	}

	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}, logger.With("component", "csv_buffer"))

	logger.Info("csv writer initialized", "file", cfg.FilePath)
	return w, nil
}

// Write consumes expenses until in is closed or ctx is cancelled, then
// closes the file.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Expense) error {
	defer func() {
		if err := w.Close(); err != nil {
			w.logger.Error("failed to close csv file", "error", err)
		}
	}()
	return w.buffered.Write(ctx, in)
}

// Record renders one expense as a CSV row.
func Record(e *api.Expense) []string {
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.Date.Format(time.DateOnly),
		strconv.FormatFloat(e.Amount, 'f', 2, 64),
		e.Category,
		e.Notes,
		string(e.Source),
		e.CreatedAt.Format(time.RFC3339),
	}
}

func (w *Writer) flushBatch(_ context.Context, batch []*api.Expense) error {
	rows := make([][]string, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, Record(e))
	}
	if err := w.writeRows(rows); err != nil {
		return err
	}
	w.logger.Debug("wrote expenses to csv", "count", len(batch))
	return nil
}

func (w *Writer) writeRows(rows [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, row := range rows {
		if err := w.csv.Write(row); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.csv.Flush()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}
	w.logger.Info("csv writer closed", "file", w.path)
	return nil
}
