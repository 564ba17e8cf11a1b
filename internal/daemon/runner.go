// Package daemon wires the store, ledger, mirror, chat poller and HTTP API
// into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"

	"github.com/avast/retry-go"

	"github.com/ArionMiles/masrouf/internal/plugins"
	"github.com/ArionMiles/masrouf/internal/server"
	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/bot"
	"github.com/ArionMiles/masrouf/pkg/config"
	"github.com/ArionMiles/masrouf/pkg/ledger"
	"github.com/ArionMiles/masrouf/pkg/telegram"
)

const (
	// mirrorQueueSize bounds the ledger-to-mirror channel.
	mirrorQueueSize = 100
	// connectAttempts bounds chat transport construction; in practice the run context ends it.
	connectAttempts = math.MaxUint32
)

// TransportFactory builds the chat transport from configuration.
type TransportFactory func(cfg config.TelegramConfig, logger *slog.Logger) (api.Transport, error)

// Telegram is the default TransportFactory.
func Telegram(cfg config.TelegramConfig, logger *slog.Logger) (api.Transport, error) {
	return telegram.New(telegram.Config{Token: cfg.Token}, logger)
}

// Runner manages the daemon lifecycle.
type Runner struct {
	registry     *plugins.Registry
	httpClient   *http.Client
	newTransport TransportFactory
	logger       *slog.Logger
}

// New creates a runner. httpClient is the OAuth client handed to mirrors that
// need one and may be nil. newTransport defaults to Telegram.
func New(registry *plugins.Registry, httpClient *http.Client, newTransport TransportFactory, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if newTransport == nil {
		newTransport = Telegram
	}
	return &Runner{
		registry:     registry,
		httpClient:   httpClient,
		newTransport: newTransport,
		logger:       logger,
	}
}

// Run starts every configured component and blocks until ctx is cancelled or
// the HTTP server fails. The mirror drains before Run returns.
func (r *Runner) Run(ctx context.Context, cfg config.Config) error {
	if cfg.Telegram.Token == "" && cfg.HTTPAddr == "" {
		return errors.New("nothing to run: set TELEGRAM_TOKEN or MASROUF_HTTP_ADDR")
	}

	r.logger.Info("starting masrouf daemon",
		"store", cfg.StorePlugin,
		"mirror", cfg.MirrorPlugin,
		"http", cfg.HTTPAddr,
		"bot", cfg.Telegram.Token != "",
	)

	storeCfg, err := cfg.StorePluginConfig()
	if err != nil {
		return fmt.Errorf("building store config: %w", err)
	}
	store, err := r.registry.OpenStore(ctx, cfg.StorePlugin, storeCfg,
		r.logger.With("component", "store", "plugin", cfg.StorePlugin))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.logger.Error("failed to close store", "error", err)
		}
	}()

	var (
		mirrorCh   chan *api.Expense
		mirrorDone chan error
	)
	if cfg.MirrorPlugin != "" {
		mirrorCfg, err := cfg.MirrorPluginConfig()
		if err != nil {
			return fmt.Errorf("building mirror config: %w", err)
		}
		writer, err := r.registry.CreateMirror(ctx, cfg.MirrorPlugin, r.httpClient, mirrorCfg,
			r.logger.With("component", "mirror", "plugin", cfg.MirrorPlugin))
		if err != nil {
			return fmt.Errorf("creating mirror: %w", err)
		}

		mirrorCh = make(chan *api.Expense, mirrorQueueSize)
		mirrorDone = make(chan error, 1)
		// The mirror stops when its channel closes, not when ctx does.
		go func() {
			mirrorDone <- writer.Write(context.WithoutCancel(ctx), mirrorCh)
		}()
	}

	lcfg := ledger.Config{Settings: cfg.Settings()}
	if mirrorCh != nil {
		lcfg.Mirror = mirrorCh
	}
	l := ledger.New(store, lcfg, r.logger.With("component", "ledger"))
	if err := l.Load(ctx); err != nil {
		if mirrorCh != nil {
			close(mirrorCh)
			<-mirrorDone
		}
		return fmt.Errorf("loading ledger: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		status   server.StatusFunc
		serveErr = make(chan error, 1)
	)

	if cfg.Telegram.Token != "" {
		chat := &chatStatus{status: bot.StatusDisconnected}
		status = chat.Get
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runChat(runCtx, cfg.Telegram, l, store, chat)
		}()
	}

	if cfg.HTTPAddr != "" {
		srv := server.New(l, status, r.logger.With("component", "http"),
			server.WithCORS(cfg.AllowedOrigins()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(runCtx, cfg.HTTPAddr); err != nil {
				serveErr <- err
				cancel()
			}
		}()
	}

	r.logger.Info("daemon started")
	<-runCtx.Done()
	wg.Wait()

	// Nothing can publish to the mirror once the poller and server are gone.
	if mirrorCh != nil {
		close(mirrorCh)
		if err := <-mirrorDone; err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("mirror error", "error", err)
		}
	}

	r.logger.Info("daemon stopped")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// runChat builds the chat transport, retrying until it succeeds, ctx ends or
// the error is permanent, then runs the poller until ctx ends.
func (r *Runner) runChat(ctx context.Context, cfg config.TelegramConfig, l *ledger.Ledger, store api.Store, chat *chatStatus) {
	logger := r.logger.With("component", "transport")
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}

	var transport api.Transport
	err := retry.Do(
		func() error {
			t, err := r.newTransport(cfg, logger)
			if err != nil {
				return err
			}
			transport = t
			return nil
		},
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !telegram.Permanent(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("chat transport unavailable, will retry", "attempt", n+1, "error", err)
		}),
		retry.Attempts(connectAttempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() == nil {
			chat.set(bot.StatusStopped)
			r.logger.Error("chat transport failed permanently, continuing without bot", "error", err)
		}
		return
	}

	poller := bot.NewPoller(transport,
		bot.NewResponder(l, r.logger.With("component", "responder")),
		store,
		bot.Config{ChatID: cfg.ChatID, Interval: interval},
		r.logger.With("component", "poller"),
	)
	chat.attach(poller)

	if err := poller.Run(ctx); err != nil {
		r.logger.Error("poller error", "error", err)
	}
}

// chatStatus reports the chat frontend's state, before and after its poller exists.
type chatStatus struct {
	mu     sync.Mutex
	poller *bot.Poller
	status bot.Status
}

// Get implements server.StatusFunc.
func (c *chatStatus) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller != nil {
		return string(c.poller.Status())
	}
	return string(c.status)
}

func (c *chatStatus) set(s bot.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

func (c *chatStatus) attach(p *bot.Poller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poller = p
}
