// Package ledger owns the in-memory expense collection, the category
// registry and the user settings, and runs the ingestion pipeline that turns
// free text or manual entries into persisted expenses.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/extractor"
)

// Store keys.
const (
	KeyExpenses   = "expenses"
	KeyCategories = "categories"
	KeySettings   = "settings"
)

// DefaultCategories seeds the registry when nothing has been saved.
var DefaultCategories = []string{"طعام", "مواصلات", "فواتير", "تسوق", "ترفيه", "صحة", "تعليم"}

// Config holds optional ledger collaborators.
type Config struct {
	// Extractor parses free text. Defaults to extractor.New().
	Extractor *extractor.Extractor
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// Mirror receives a copy of every newly recorded expense. Sends never block.
	Mirror chan<- *api.Expense
	// Settings is used when no settings record has been saved. Zero value means api.DefaultSettings().
	Settings api.Settings
}

// ManualEntry is an expense entered through a form, bypassing extraction.
type ManualEntry struct {
	Amount   float64
	Category string
	// Date defaults to now when zero.
	Date  time.Time
	Notes string
}

// Result describes the outcome of a successful ingestion.
type Result struct {
	Expense api.Expense
	// CategoryAdded is true when the expense introduced a new category.
	CategoryAdded bool
	// Duplicate is true when the transport reference was already recorded; nothing changed.
	Duplicate bool
	// MonthTotal is the current month's spending after ingestion.
	MonthTotal float64
	// PersistErr is set when the in-memory state changed but could not be saved.
	PersistErr error
}

// Ledger is the single owner of expense state. All methods are safe for concurrent use
// and are serialized on one mutex.
type Ledger struct {
	mu sync.Mutex

	store     api.Store
	extractor *extractor.Extractor
	clock     func() time.Time
	mirror    chan<- *api.Expense
	defaults  api.Settings
	logger    *slog.Logger

	// expenses is newest-ingested first.
	expenses   []api.Expense
	categories []string
	settings   api.Settings
	lastID     int64
}

// New creates a Ledger backed by store. Call Load before use to read saved state.
func New(store api.Store, cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extractor.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Settings == (api.Settings{}) {
		cfg.Settings = api.DefaultSettings()
	}

	return &Ledger{
		store:      store,
		extractor:  cfg.Extractor,
		clock:      cfg.Clock,
		mirror:     cfg.Mirror,
		defaults:   cfg.Settings,
		logger:     logger,
		categories: append([]string(nil), DefaultCategories...),
		settings:   cfg.Settings,
	}
}

// Load reads the saved state. Records that fail to decode are logged and
// replaced by defaults; store read failures are returned.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	expenses := []api.Expense{}
	if found, err := l.load(ctx, KeyExpenses, &expenses); err != nil {
		return err
	} else if !found {
		expenses = []api.Expense{}
	}

	categories := append([]string(nil), DefaultCategories...)
	if found, err := l.load(ctx, KeyCategories, &categories); err != nil {
		return err
	} else if !found || len(categories) == 0 {
		categories = append([]string(nil), DefaultCategories...)
	}

	settings := l.defaults
	if found, err := l.load(ctx, KeySettings, &settings); err != nil {
		return err
	} else if !found {
		settings = l.defaults
	}

	l.expenses = expenses
	l.categories = nil
	for _, c := range categories {
		l.registerCategory(c)
	}
	l.lastID = 0
	for _, e := range l.expenses {
		l.registerCategory(e.Category)
		if e.ID > l.lastID {
			l.lastID = e.ID
		}
	}
	l.settings = settings

	l.logger.Info("ledger loaded",
		"expenses", len(l.expenses),
		"categories", len(l.categories),
	)
	return nil
}

// load decodes key into v. found is false when the key is absent or its value is corrupt.
func (l *Ledger) load(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return false, nil
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		l.logger.Warn("discarding corrupt record", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// IngestText extracts an expense from text and records it with the given
// source. A non-empty ref that was already recorded yields the existing
// expense with Result.Duplicate set.
func (l *Ledger) IngestText(ctx context.Context, text string, src api.Source, ref string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrNoMatch
	}

	ext, ok := l.extractor.Extract(text)
	if !ok {
		return Result{}, ErrNoMatch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ref != "" {
		for _, e := range l.expenses {
			if e.Ref == ref {
				l.logger.Info("skipping duplicate message", "ref", ref, "id", e.ID)
				return Result{Expense: e, Duplicate: true, MonthTotal: l.monthTotal(l.clock())}, nil
			}
		}
	}

	return l.record(ctx, api.Expense{
		Amount:   ext.Amount,
		Category: ext.Category,
		Notes:    ext.Notes,
		Source:   src,
		Ref:      ref,
	})
}

// AddManual records an expense without running the extractor.
func (l *Ledger) AddManual(ctx context.Context, entry ManualEntry) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.record(ctx, api.Expense{
		Amount:   entry.Amount,
		Category: entry.Category,
		Date:     entry.Date,
		Notes:    strings.TrimSpace(entry.Notes),
		Source:   api.SourceManual,
	})
}

// record validates, stamps, prepends, registers the category, persists and
// mirrors e. Callers hold l.mu.
func (l *Ledger) record(ctx context.Context, e api.Expense) (Result, error) {
	e.Category = extractor.CleanLabel(e.Category)
	if err := validate(e.Amount, e.Category); err != nil {
		return Result{}, err
	}

	now := l.clock()
	e.ID = l.nextID(now)
	e.CreatedAt = now
	if e.Date.IsZero() {
		e.Date = now
	}

	l.expenses = append([]api.Expense{e}, l.expenses...)
	added := l.registerCategory(e.Category)

	keys := []string{KeyExpenses}
	if added {
		keys = append(keys, KeyCategories)
	}

	res := Result{
		Expense:       e,
		CategoryAdded: added,
		MonthTotal:    l.monthTotal(now),
		PersistErr:    l.persist(ctx, keys...),
	}

	l.publish(e)

	l.logger.Info("expense recorded",
		"id", e.ID,
		"amount", e.Amount,
		"category", e.Category,
		"source", e.Source,
		"category_added", added,
	)
	return res, nil
}

// validate rejects non-finite amounts too: NaN and Inf cannot be encoded as JSON.
func validate(amount float64, category string) error {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return &ValidationError{Field: "amount", Reason: "must be a finite number greater than zero"}
	}
	if category == "" {
		return &ValidationError{Field: "category", Reason: "must not be empty"}
	}
	return nil
}

// nextID returns a unix-millisecond id, bumped to stay strictly increasing.
func (l *Ledger) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= l.lastID {
		id = l.lastID + 1
	}
	l.lastID = id
	return id
}

// registerCategory appends name if it is new and reports whether it did.
func (l *Ledger) registerCategory(name string) bool {
	name = extractor.CleanLabel(name)
	if name == "" {
		return false
	}
	for _, c := range l.categories {
		if c == name {
			return false
		}
	}
	l.categories = append(l.categories, name)
	return true
}

func (l *Ledger) publish(e api.Expense) {
	if l.mirror == nil {
		return
	}

	select {
	case l.mirror <- &e:
	default:
		l.logger.Warn("mirror queue full, dropping expense", "id", e.ID)
	}
}

// persist saves the given keys. Failures are logged and returned; in-memory
// state is never rolled back.
func (l *Ledger) persist(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		var v any
		switch key {
		case KeyExpenses:
			v = l.expenses
		case KeyCategories:
			v = l.categories
		case KeySettings:
			v = l.settings
		default:
			continue
		}

		data, err := json.Marshal(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding %s: %w", key, err))
			continue
		}
		if err := l.store.Set(ctx, key, string(data)); err != nil {
			errs = append(errs, fmt.Errorf("saving %s: %w", key, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		l.logger.Error("failed to persist ledger", "keys", keys, "error", err)
	}
	return err
}

// Edit holds the fields to change on an existing expense. Nil fields are left alone.
type Edit struct {
	Amount   *float64
	Category *string
	Date     *time.Time
	Notes    *string
}

// UpdateExpense applies edit to the expense with the given id.
func (l *Ledger) UpdateExpense(ctx context.Context, id int64, edit Edit) (api.Expense, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(id)
	if idx < 0 {
		return api.Expense{}, fmt.Errorf("expense %d: %w", id, ErrNotFound)
	}

	e := l.expenses[idx]
	if edit.Amount != nil {
		e.Amount = *edit.Amount
	}
	if edit.Category != nil {
		e.Category = extractor.CleanLabel(*edit.Category)
	}
	if edit.Date != nil && !edit.Date.IsZero() {
		e.Date = *edit.Date
	}
	if edit.Notes != nil {
		e.Notes = strings.TrimSpace(*edit.Notes)
	}
	if err := validate(e.Amount, e.Category); err != nil {
		return api.Expense{}, err
	}

	l.expenses[idx] = e
	keys := []string{KeyExpenses}
	if l.registerCategory(e.Category) {
		keys = append(keys, KeyCategories)
	}

	return e, l.persist(ctx, keys...)
}

// DeleteExpense removes the expense with the given id.
func (l *Ledger) DeleteExpense(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("expense %d: %w", id, ErrNotFound)
	}

	l.expenses = append(l.expenses[:idx], l.expenses[idx+1:]...)
	return l.persist(ctx, KeyExpenses)
}

func (l *Ledger) indexOf(id int64) int {
	for i, e := range l.expenses {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// AddCategory registers name and reports whether it was new.
func (l *Ledger) AddCategory(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name = extractor.CleanLabel(name)
	if name == "" {
		return false, &ValidationError{Field: "category", Reason: "must not be empty"}
	}
	if !l.registerCategory(name) {
		return false, nil
	}
	return true, l.persist(ctx, KeyCategories)
}

// RemoveCategory drops name from the registry. With cascade, expenses in that
// category are deleted too and their count is returned.
func (l *Ledger) RemoveCategory(ctx context.Context, name string, cascade bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name = extractor.CleanLabel(name)
	idx := -1
	for i, c := range l.categories {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("category %q: %w", name, ErrNotFound)
	}

	l.categories = append(l.categories[:idx], l.categories[idx+1:]...)
	keys := []string{KeyCategories}

	removed := 0
	if cascade {
		kept := l.expenses[:0]
		for _, e := range l.expenses {
			if e.Category == name {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		l.expenses = kept
		keys = append(keys, KeyExpenses)
	}

	return removed, l.persist(ctx, keys...)
}

// UpdateSettings replaces the settings record.
func (l *Ledger) UpdateSettings(ctx context.Context, s api.Settings) (api.Settings, error) {
	if s.MonthlyBudget < 0 {
		return api.Settings{}, &ValidationError{Field: "monthlyBudget", Reason: "must not be negative"}
	}
	if s.BudgetWarning <= 0 || s.BudgetWarning > 100 {
		return api.Settings{}, &ValidationError{Field: "budgetWarning", Reason: "must be between 1 and 100"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s.Currency = strings.TrimSpace(s.Currency)
	if s.Currency == "" {
		s.Currency = l.settings.Currency
	}

	l.settings = s
	return s, l.persist(ctx, KeySettings)
}

// Reset clears all expenses and restores default categories and settings.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expenses = []api.Expense{}
	l.categories = append([]string(nil), DefaultCategories...)
	l.settings = l.defaults
	l.lastID = 0

	var errs []error
	for _, key := range []string{KeyExpenses, KeyCategories, KeySettings} {
		if err := l.store.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", key, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		l.logger.Error("failed to reset store", "error", err)
	}
	l.logger.Info("ledger reset")
	return err
}
