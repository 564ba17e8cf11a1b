// Package api defines the core interfaces and data structures for masrouf.
package api

import (
	"context"
	"encoding/json"
	"time"
)

// Source tags where an expense came from. It is used for display and audit only.
type Source string

const (
	// SourceManual marks expenses entered through a form or the CLI.
	SourceManual Source = "manual"
	// SourceChat marks expenses extracted from free text, whether it arrived
	// over the chat transport or the HTTP text endpoint.
	SourceChat Source = "chat"
)

// UnmarshalJSON accepts the legacy "telegram" tag as SourceChat.
func (s *Source) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw {
	case "telegram", string(SourceChat):
		*s = SourceChat
	case "", string(SourceManual):
		*s = SourceManual
	default:
		*s = Source(raw)
	}
	return nil
}

// Expense is a single recorded spending event.
type Expense struct {
	ID       int64     `json:"id"`
	Amount   float64   `json:"amount"`
	Category string    `json:"category"`
	Date     time.Time `json:"date"`
	Notes    string    `json:"notes"`
	Source   Source    `json:"source"`
	// CreatedAt is the ingestion time; Date may be user-selected.
	CreatedAt time.Time `json:"createdAt,omitempty"`
	// Ref identifies the transport message an expense was extracted from
	// (e.g. "telegram:<chat>:<message>"). Empty for manual entries.
	Ref string `json:"ref,omitempty"`
}

// Extraction is the structured result of parsing one line of free text.
// It carries no identity and is never persisted.
type Extraction struct {
	Amount   float64
	Category string
	Notes    string
	// Pattern names the template that produced the match.
	Pattern string
}

// Message is an incoming chat message.
type Message struct {
	UpdateID  int
	ChatID    int64
	MessageID int
	Text      string
	Date      time.Time
}

// Settings holds user preferences persisted alongside the expenses.
type Settings struct {
	MonthlyBudget float64 `json:"monthlyBudget"`
	// BudgetWarning is the percentage of the budget at which warnings start.
	BudgetWarning float64 `json:"budgetWarning"`
	Notifications bool    `json:"notifications"`
	AutoProcess   bool    `json:"autoProcess"`
	Currency      string  `json:"currency"`
	DarkMode      bool    `json:"darkMode"`
}

// DefaultSettings returns the settings used when nothing has been saved yet.
func DefaultSettings() Settings {
	return Settings{
		MonthlyBudget: 5000,
		BudgetWarning: 80,
		Notifications: true,
		AutoProcess:   true,
		Currency:      "د.ج",
	}
}

// Store is a string key-value store used to persist ledger state.
//
//go:generate mockgen -destination=mocks/mock_api.go -source=api.go
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Transport fetches chat messages and delivers replies.
type Transport interface {
	// FetchUpdates returns messages with an update ID >= offset.
	FetchUpdates(ctx context.Context, offset int) ([]Message, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Writer consumes ingested expenses from a channel and mirrors them to a destination.
type Writer interface {
	Write(ctx context.Context, in <-chan *Expense) error
}
