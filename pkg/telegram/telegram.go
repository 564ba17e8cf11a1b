// Package telegram implements api.Transport on top of the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ArionMiles/masrouf/pkg/api"
)

// DefaultRetryDelay is the wait between send attempts when Telegram does not suggest one.
const DefaultRetryDelay = 2 * time.Second

// ErrNoToken is returned by New when Config.Token is empty.
var ErrNoToken = errors.New("telegram token is required")

// Config holds configuration for the Telegram transport.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string
	// Endpoint overrides tgbotapi.APIEndpoint; it must contain two %s verbs (token, method).
	Endpoint string
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
	// Limit caps updates per fetch. Defaults to 100.
	Limit int
	// RetryAttempts for SendMessage. Defaults to 3.
	RetryAttempts uint
	// RetryDelay between send attempts. Defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// Transport talks to one bot.
type Transport struct {
	bot        *tgbotapi.BotAPI
	limit      int
	attempts   uint
	retryDelay time.Duration
	logger     *slog.Logger
}

// New authenticates the bot and returns a Transport.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Token == "" {
		return nil, ErrNoToken
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}

	t := &Transport{
		bot:        bot,
		limit:      cfg.Limit,
		attempts:   cfg.RetryAttempts,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
	if t.limit <= 0 {
		t.limit = 100
	}
	if t.attempts == 0 {
		t.attempts = 3
	}
	if t.retryDelay <= 0 {
		t.retryDelay = DefaultRetryDelay
	}

	logger.Info("telegram transport initialized", "bot", bot.Self.UserName)
	return t, nil
}

// BotName returns the bot's username.
func (t *Transport) BotName() string {
	return t.bot.Self.UserName
}

// FetchUpdates returns text messages with an update id >= offset. Updates
// without a text message are mapped with empty Text so the caller can still
// advance past them.
func (t *Transport) FetchUpdates(ctx context.Context, offset int) ([]api.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Limit = t.limit
	cfg.Timeout = 0

	updates, err := t.bot.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("fetching updates: %w", err)
	}

	messages := make([]api.Message, 0, len(updates))
	for _, u := range updates {
		msg := api.Message{UpdateID: u.UpdateID}
		if m := u.Message; m != nil {
			msg.MessageID = m.MessageID
			msg.Text = m.Text
			msg.Date = time.Unix(int64(m.Date), 0)
			if m.Chat != nil {
				msg.ChatID = m.Chat.ID
			}
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// SendMessage sends text to chatID, retrying when Telegram rate-limits the bot.
func (t *Transport) SendMessage(ctx context.Context, chatID int64, text string) error {
	err := retry.Do(
		func() error {
			_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
			return err
		},
		retry.RetryIf(func(err error) bool {
			if retryable(err) {
				t.logger.Warn("rate limited, will retry", "chat_id", chatID, "error", err)
				return true
			}
			return false
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			var tgErr *tgbotapi.Error
			if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
				return time.Duration(tgErr.RetryAfter) * time.Second
			}
			return t.retryDelay
		}),
		retry.Attempts(t.attempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	return nil
}

func retryable(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == http.StatusTooManyRequests || tgErr.Code >= http.StatusInternalServerError
	}
	return false
}

// Permanent reports whether err comes from a bad token. Such errors do not
// clear on retry; network failures and server errors do.
func Permanent(err error) bool {
	if errors.Is(err, ErrNoToken) {
		return true
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == http.StatusUnauthorized || tgErr.Code == http.StatusNotFound
	}
	return false
}
