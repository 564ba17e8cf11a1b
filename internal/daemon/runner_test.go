package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/masrouf/internal/plugins"
	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/bot"
	"github.com/ArionMiles/masrouf/pkg/config"
	"github.com/ArionMiles/masrouf/pkg/ledger"
	"github.com/ArionMiles/masrouf/pkg/logging"
	"github.com/ArionMiles/masrouf/pkg/store/file"
	"github.com/ArionMiles/masrouf/pkg/store/memory"
	"github.com/ArionMiles/masrouf/pkg/telegram"
)

type fakeTransport struct {
	mu      sync.Mutex
	updates []api.Message
	sent    []string
}

func (f *fakeTransport) FetchUpdates(_ context.Context, offset int) ([]api.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []api.Message
	for _, u := range f.updates {
		if u.UpdateID >= offset {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeTransport) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Telegram.Token = "test-token"
	cfg.Telegram.ChatID = 7
	cfg.Telegram.PollInterval = 10 * time.Millisecond
	return cfg
}

func TestRun_ChatMessageFlowsToStoreAndMirror(t *testing.T) {
	cfg := testConfig(t)
	cfg.MirrorPlugin = "jsonl"

	transport := &fakeTransport{updates: []api.Message{
		{UpdateID: 1, ChatID: 7, MessageID: 11, Text: "صرفت 250 طعام عشاء"},
		{UpdateID: 2, ChatID: 99, MessageID: 12, Text: "صرفت 999 طعام"},
	}}
	factory := func(config.TelegramConfig, *slog.Logger) (api.Transport, error) { return transport, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(plugins.Default(), nil, factory, logging.Discard()).Run(ctx, cfg)
	}()

	require.Eventually(t, func() bool { return transport.sentCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// The store was closed; reopen it to check what was persisted.
	store, err := file.New(file.Config{Path: filepath.Join(cfg.DataDir, "masrouf.json")}, logging.Discard())
	require.NoError(t, err)
	l := ledger.New(store, ledger.Config{}, logging.Discard())
	require.NoError(t, l.Load(context.Background()))

	recent := l.Recent(5)
	require.Len(t, recent, 1)
	assert.Equal(t, 250.0, recent[0].Amount)
	assert.Equal(t, "telegram:7:11", recent[0].Ref)

	cursor, ok, err := store.Get(context.Background(), "chat_cursor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", cursor)

	f, err := os.Open(filepath.Join(cfg.DataDir, "expenses.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	for scanner := bufio.NewScanner(f); scanner.Scan(); {
		lines++
	}
	assert.Equal(t, 1, lines)
}

func TestRun_NothingToRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.Token = ""

	err := New(plugins.Default(), nil, nil, logging.Discard()).Run(context.Background(), cfg)
	assert.ErrorContains(t, err, "nothing to run")
}

func TestRun_UnknownStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorePlugin = "redis"

	err := New(plugins.Default(), nil, nil, logging.Discard()).Run(context.Background(), cfg)
	assert.ErrorContains(t, err, "opening store")
}

func TestRun_MirrorNeedsClient(t *testing.T) {
	cfg := testConfig(t)
	cfg.MirrorPlugin = "sheets"
	cfg.Sheets.Name = "مصاريف"
	cfg.Sheets.ID = "abc"

	err := New(plugins.Default(), nil, nil, logging.Discard()).Run(context.Background(), cfg)
	assert.ErrorContains(t, err, "creating mirror")
}

// flakyFactory returns err for the first `failures` calls, then transport.
type flakyFactory struct {
	calls     atomic.Int32
	failures  int32
	err       error
	transport api.Transport
}

func (f *flakyFactory) New(config.TelegramConfig, *slog.Logger) (api.Transport, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.transport, nil
}

func TestRun_RetriesTransportUntilConnected(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorePlugin = "memory"

	transport := &fakeTransport{updates: []api.Message{
		{UpdateID: 1, ChatID: 7, MessageID: 11, Text: "صرفت 40 مواصلات"},
	}}
	factory := &flakyFactory{failures: 2, err: errors.New("dial tcp: network is unreachable"), transport: transport}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(plugins.Default(), nil, factory.New, logging.Discard()).Run(ctx, cfg)
	}()

	require.Eventually(t, func() bool { return transport.sentCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), factory.calls.Load())
}

func TestRunChat_StatusDisconnectedUntilTransportConnects(t *testing.T) {
	cfg := testConfig(t)
	store := memory.New()
	l := ledger.New(store, ledger.Config{}, logging.Discard())
	require.NoError(t, l.Load(context.Background()))

	factory := &flakyFactory{failures: 1 << 30, err: errors.New("connection refused"), transport: &fakeTransport{}}
	r := New(plugins.Default(), nil, factory.New, logging.Discard())
	chat := &chatStatus{status: bot.StatusDisconnected}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.runChat(ctx, cfg.Telegram, l, store, chat)
		close(done)
	}()

	require.Eventually(t, func() bool { return factory.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, string(bot.StatusDisconnected), chat.Get())

	cancel()
	<-done
}

func TestRunChat_PermanentErrorStopsRetrying(t *testing.T) {
	cfg := testConfig(t)
	store := memory.New()
	l := ledger.New(store, ledger.Config{}, logging.Discard())
	require.NoError(t, l.Load(context.Background()))

	factory := &flakyFactory{
		failures: 1 << 30,
		err:      fmt.Errorf("connecting to telegram: %w", &tgbotapi.Error{Code: http.StatusUnauthorized, Message: "Unauthorized"}),
	}
	r := New(plugins.Default(), nil, factory.New, logging.Discard())
	chat := &chatStatus{status: bot.StatusDisconnected}

	r.runChat(context.Background(), cfg.Telegram, l, store, chat)

	assert.Equal(t, int32(1), factory.calls.Load())
	assert.Equal(t, string(bot.StatusStopped), chat.Get())
}

func TestRun_HTTPKeepsServingWhenTokenRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorePlugin = "memory"
	cfg.HTTPAddr = "127.0.0.1:0"

	factory := &flakyFactory{failures: 1 << 30, err: telegram.ErrNoToken}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := New(plugins.Default(), nil, factory.New, logging.Discard()).Run(ctx, cfg)
	assert.NoError(t, err)
	assert.Equal(t, int32(1), factory.calls.Load())
}

func TestRun_HTTPListenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.Token = ""
	cfg.StorePlugin = "memory"
	cfg.HTTPAddr = "256.0.0.1:bad"

	err := New(plugins.Default(), nil, nil, logging.Discard()).Run(context.Background(), cfg)
	assert.ErrorContains(t, err, "http server")
}
