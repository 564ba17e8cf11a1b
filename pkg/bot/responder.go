// Package bot answers chat messages and polls the chat transport for new ones.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/ledger"
)

// Handler turns one incoming message into a reply. An empty reply sends nothing.
type Handler interface {
	Handle(ctx context.Context, msg api.Message) string
}

// Responder handles bot commands and ingests everything else as an expense.
type Responder struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewResponder creates a Responder backed by l.
func NewResponder(l *ledger.Ledger, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{ledger: l, logger: logger}
}

// Ref identifies a chat message for de-duplication.
func Ref(msg api.Message) string {
	return fmt.Sprintf("telegram:%d:%d", msg.ChatID, msg.MessageID)
}

// Handle implements Handler.
func (r *Responder) Handle(ctx context.Context, msg api.Message) string {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return ""
	}

	if strings.HasPrefix(text, "/") {
		return r.command(text)
	}

	settings := r.ledger.Settings()
	if !settings.AutoProcess {
		r.logger.Debug("auto-processing disabled, message not ingested", "chat_id", msg.ChatID)
		return msgAutoProcessOff
	}

	res, err := r.ledger.IngestText(ctx, text, api.SourceChat, Ref(msg))
	var verr *ledger.ValidationError
	switch {
	case errors.Is(err, ledger.ErrNoMatch):
		r.logger.Info("no expense in message", "chat_id", msg.ChatID, "message_id", msg.MessageID)
		return msgGuidance
	case errors.As(err, &verr):
		return formatValidation(verr)
	case err != nil:
		r.logger.Error("failed to ingest message", "chat_id", msg.ChatID, "error", err)
		return msgInternalError
	case res.Duplicate:
		return msgDuplicate
	}

	reply := formatConfirmation(res, settings)
	if settings.Notifications {
		if warning := formatBudgetWarning(r.ledger.Summary(r.ledger.Now())); warning != "" {
			reply += "\n\n" + warning
		}
	}
	return reply
}

func (r *Responder) command(text string) string {
	name := strings.Fields(text)[0]
	// Group chats address commands as /cmd@botname.
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}

	switch strings.ToLower(name) {
	case "/start", "/help":
		return msgHelp
	case "/stats":
		return formatSummary(r.ledger.Summary(r.ledger.Now()))
	case "/recent":
		return formatRecent(r.ledger.Recent(ledger.DefaultRecent), r.ledger.Settings().Currency)
	case "/categories":
		return formatCategories(r.ledger.Categories())
	default:
		return msgUnknownCommand
	}
}
