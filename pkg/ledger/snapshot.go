package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/extractor"
)

// ImportMode selects how imported records combine with existing state.
type ImportMode string

const (
	// ImportReplace discards current state and adopts the snapshot.
	ImportReplace ImportMode = "replace"
	// ImportMerge prepends imported expenses whose ids are not already present.
	ImportMerge ImportMode = "merge"
)

// ParseImportMode maps a user-supplied string to an ImportMode.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(s) {
	case ImportReplace:
		return ImportReplace, nil
	case ImportMerge:
		return ImportMerge, nil
	default:
		return "", fmt.Errorf("unknown import mode %q", s)
	}
}

// Snapshot is the export format.
type Snapshot struct {
	Expenses   []api.Expense `json:"expenses"`
	Categories []string      `json:"categories"`
	// Settings is nil when the source carried none; imports then keep the current settings.
	Settings   *api.Settings `json:"settings,omitempty"`
	ExportedAt time.Time     `json:"exportedAt"`
}

// ImportStats counts what an import did.
type ImportStats struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Export returns a copy of the current state.
func (l *Ledger) Export() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	settings := l.settings
	return Snapshot{
		Expenses:   append([]api.Expense{}, l.expenses...),
		Categories: append([]string{}, l.categories...),
		Settings:   &settings,
		ExportedAt: l.clock(),
	}
}

// DecodeSnapshot accepts a full snapshot object or a bare JSON array of
// expenses. It returns the mode the format implies: replace for a snapshot,
// merge for an array.
func DecodeSnapshot(data []byte) (Snapshot, ImportMode, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Snapshot{}, "", fmt.Errorf("empty input: %w", ErrInvalidSnapshot)
	}

	switch data[0] {
	case '[':
		var expenses []api.Expense
		if err := json.Unmarshal(data, &expenses); err != nil {
			return Snapshot{}, "", fmt.Errorf("decoding expense list: %v: %w", err, ErrInvalidSnapshot)
		}
		return Snapshot{Expenses: expenses}, ImportMerge, nil

	case '{':
		var raw struct {
			Expenses   *[]api.Expense `json:"expenses"`
			Categories []string       `json:"categories"`
			Settings   *api.Settings  `json:"settings"`
			ExportedAt time.Time      `json:"exportedAt"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return Snapshot{}, "", fmt.Errorf("decoding snapshot: %v: %w", err, ErrInvalidSnapshot)
		}
		if raw.Expenses == nil {
			return Snapshot{}, "", fmt.Errorf("snapshot has no expenses field: %w", ErrInvalidSnapshot)
		}
		return Snapshot{
			Expenses:   *raw.Expenses,
			Categories: raw.Categories,
			Settings:   raw.Settings,
			ExportedAt: raw.ExportedAt,
		}, ImportReplace, nil

	default:
		return Snapshot{}, "", fmt.Errorf("expected a JSON object or array: %w", ErrInvalidSnapshot)
	}
}

// Import applies snap according to mode. Records with a non-positive amount
// or empty category are skipped.
func (l *Ledger) Import(ctx context.Context, snap Snapshot, mode ImportMode) (ImportStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats ImportStats
	switch mode {
	case ImportReplace:
		expenses := make([]api.Expense, 0, len(snap.Expenses))
		seen := map[int64]bool{}
		for _, e := range snap.Expenses {
			e, ok := l.normalizeImported(e, seen)
			if !ok {
				stats.Skipped++
				continue
			}
			expenses = append(expenses, e)
			stats.Added++
		}

		l.expenses = expenses
		l.categories = nil
		categories := snap.Categories
		if len(categories) == 0 {
			categories = DefaultCategories
		}
		for _, c := range categories {
			l.registerCategory(c)
		}
		if snap.Settings != nil {
			l.settings = *snap.Settings
		}

	case ImportMerge:
		seen := map[int64]bool{}
		for _, e := range l.expenses {
			seen[e.ID] = true
		}

		imported := make([]api.Expense, 0, len(snap.Expenses))
		for _, e := range snap.Expenses {
			e, ok := l.normalizeImported(e, seen)
			if !ok {
				stats.Skipped++
				continue
			}
			imported = append(imported, e)
			stats.Added++
		}

		l.expenses = append(imported, l.expenses...)
		for _, c := range snap.Categories {
			l.registerCategory(c)
		}
		if snap.Settings != nil {
			l.settings = *snap.Settings
		}

	default:
		return ImportStats{}, fmt.Errorf("unknown import mode %q", mode)
	}

	for _, e := range l.expenses {
		l.registerCategory(e.Category)
		if e.ID > l.lastID {
			l.lastID = e.ID
		}
	}

	l.logger.Info("snapshot imported",
		"mode", mode,
		"added", stats.Added,
		"skipped", stats.Skipped,
	)

	return stats, l.persist(ctx, KeyExpenses, KeyCategories, KeySettings)
}

// normalizeImported validates e and fills missing fields. seen tracks ids
// already present; duplicates are rejected and new ids are added to it.
func (l *Ledger) normalizeImported(e api.Expense, seen map[int64]bool) (api.Expense, bool) {
	e.Category = extractor.CleanLabel(e.Category)
	if validate(e.Amount, e.Category) != nil {
		return api.Expense{}, false
	}
	if e.ID != 0 && seen[e.ID] {
		return api.Expense{}, false
	}

	now := l.clock()
	if e.ID == 0 {
		e.ID = l.nextID(now)
	}
	if e.Date.IsZero() {
		e.Date = now
	}
	if e.Source == "" {
		e.Source = api.SourceManual
	}

	seen[e.ID] = true
	return e, true
}
