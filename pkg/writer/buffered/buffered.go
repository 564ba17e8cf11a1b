// Package buffered batches expenses coming off the ledger's mirror queue and
// hands them to a Flusher in groups.
package buffered

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/masrouf/pkg/api"
)

const (
	// DefaultBatchSize is the number of expenses buffered before a flush.
	DefaultBatchSize = 10
	// DefaultFlushInterval is the interval between timed flushes.
	DefaultFlushInterval = 30 * time.Second
)

// Flusher persists one batch. A failed batch is dropped after being logged.
type Flusher func(ctx context.Context, batch []*api.Expense) error

// Config holds configuration for buffered writing.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Writer buffers expenses and flushes them in batches.
type Writer struct {
	flush  Flusher
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending []*api.Expense
	flushed int
}

// New returns a Writer that calls flush for every batch.
func New(flush Flusher, cfg Config, logger *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		flush:   flush,
		cfg:     cfg,
		logger:  logger,
		pending: make([]*api.Expense, 0, cfg.BatchSize),
	}
}

// Write drains in until it is closed or ctx is cancelled. Remaining expenses
// are flushed in both cases. Cancellation returns context.Canceled.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Expense) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	w.logger.Info("buffered writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("buffered writer stopping, flushing remaining buffer")
			// The caller's context is gone; give the last flush its own.
			if err := w.Flush(context.WithoutCancel(ctx)); err != nil {
				w.logger.Error("failed to flush on shutdown", "error", err)
			}
			return context.Canceled

		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Error("failed to flush on interval", "error", err)
			}

		case e, ok := <-in:
			if !ok {
				w.logger.Info("input channel closed, flushing remaining buffer")
				return w.Flush(ctx)
			}
			if e == nil {
				continue
			}
			if w.add(e) {
				if err := w.Flush(ctx); err != nil {
					w.logger.Error("failed to flush on batch size", "error", err)
				}
			}
		}
	}
}

// add appends e and reports whether the batch is full.
func (w *Writer) add(e *api.Expense) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, e)
	return len(w.pending) >= w.cfg.BatchSize
}

// Flush hands everything buffered so far to the Flusher.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.pending
	w.pending = make([]*api.Expense, 0, w.cfg.BatchSize)
	w.mu.Unlock()

	w.logger.Debug("flushing buffer", "count", len(batch))
	if err := w.flush(ctx, batch); err != nil {
		return err
	}

	w.mu.Lock()
	w.flushed += len(batch)
	w.mu.Unlock()

	w.logger.Info("flushed expenses", "count", len(batch))
	return nil
}

// BufferLen returns the number of expenses waiting for a flush.
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flushed returns the number of expenses successfully flushed.
func (w *Writer) Flushed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}
