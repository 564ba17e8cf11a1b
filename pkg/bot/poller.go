package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ArionMiles/masrouf/pkg/api"
)

// KeyCursor is the store key holding the next update offset.
const KeyCursor = "chat_cursor"

// Status reports the poller's connection state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusStopped      Status = "stopped"
)

// Config holds configuration for the Poller.
type Config struct {
	// ChatID restricts handling to one chat. Zero accepts every chat.
	ChatID int64
	// Interval between fetches. Defaults to 5 seconds.
	Interval time.Duration
}

// Poller fetches chat updates on a fixed interval and answers them through a Handler.
type Poller struct {
	transport api.Transport
	handler   Handler
	store     api.Store
	chatID    int64
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	status  Status
	cursor  int
	loaded  bool
	cancel  context.CancelFunc
	stopped bool
}

// NewPoller creates a Poller. store persists the update cursor across restarts.
func NewPoller(transport api.Transport, handler Handler, store api.Store, cfg Config, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Poller{
		transport: transport,
		handler:   handler,
		store:     store,
		chatID:    cfg.ChatID,
		interval:  interval,
		logger:    logger,
		status:    StatusIdle,
	}
}

// Run polls until ctx is canceled or Stop is called. A failed tick is logged
// and retried on the next interval.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Run immediately on start
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.setStatus(StatusStopped)
			p.logger.Info("chat poller stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Stop ends Run. It is safe to call more than once and before Run.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.status = StatusStopped
	if p.cancel != nil {
		p.cancel()
	}
}

// Status returns the current connection state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) setStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped && s != StatusStopped {
		return
	}
	p.status = s
}

// tick fetches one batch, handles it in order and then advances the cursor.
func (p *Poller) tick(ctx context.Context) {
	if err := p.loadCursor(ctx); err != nil {
		p.logger.Warn("failed to load chat cursor", "error", err)
		return
	}

	updates, err := p.transport.FetchUpdates(ctx, p.cursor)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.setStatus(StatusDisconnected)
		p.logger.Warn("failed to fetch chat updates", "error", err)
		return
	}
	p.setStatus(StatusConnected)

	if len(updates) == 0 {
		return
	}

	next := p.cursor
	for _, msg := range updates {
		if msg.UpdateID >= next {
			next = msg.UpdateID + 1
		}
		p.process(ctx, msg)
	}

	p.cursor = next
	if err := p.store.Set(ctx, KeyCursor, strconv.Itoa(next)); err != nil {
		p.logger.Error("failed to persist chat cursor", "cursor", next, "error", err)
	}
	p.logger.Debug("chat batch processed", "updates", len(updates), "cursor", next)
}

func (p *Poller) process(ctx context.Context, msg api.Message) {
	if p.chatID != 0 && msg.ChatID != p.chatID {
		p.logger.Debug("ignoring message from other chat", "chat_id", msg.ChatID)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	reply := p.handler.Handle(ctx, msg)
	if reply == "" {
		return
	}

	if err := p.transport.SendMessage(ctx, msg.ChatID, reply); err != nil {
		p.logger.Warn("failed to send reply",
			"chat_id", msg.ChatID,
			"message_id", msg.MessageID,
			"error", err,
		)
	}
}

// loadCursor reads the persisted cursor once per process.
func (p *Poller) loadCursor(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	raw, ok, err := p.store.Get(ctx, KeyCursor)
	if err != nil {
		return fmt.Errorf("reading %s: %w", KeyCursor, err)
	}
	if ok {
		cursor, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			p.logger.Warn("discarding corrupt chat cursor", "value", raw, "error", err)
		} else {
			p.cursor = cursor
		}
	}

	p.loaded = true
	return nil
}
