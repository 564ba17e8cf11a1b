package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/extractor"
)

// DefaultRecent is the number of expenses shown by the recent view.
const DefaultRecent = 5

// Budget thresholds.
const (
	// exceededPercent marks the budget as exceeded before it is fully spent.
	exceededPercent = 90
	// daysPerMonth is the fixed divisor for the daily average.
	daysPerMonth = 30
)

// MonthFilter restricts a listing to a month relative to now.
type MonthFilter string

const (
	MonthAll     MonthFilter = "all"
	MonthCurrent MonthFilter = "current"
	MonthLast    MonthFilter = "last"
)

// Filter selects expenses for a listing. Zero value selects everything.
type Filter struct {
	// Query matches category or notes, case-insensitively.
	Query    string
	Category string
	Month    MonthFilter
}

// BudgetLevel classifies month spending against the budget.
type BudgetLevel string

const (
	LevelOK       BudgetLevel = "ok"
	LevelWarning  BudgetLevel = "warning"
	LevelExceeded BudgetLevel = "exceeded"
)

// CategoryTotal is one row of the monthly breakdown.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
	Percent  float64 `json:"percent"`
}

// Summary reports the current month against the budget.
type Summary struct {
	Year           int             `json:"year"`
	Month          time.Month      `json:"month"`
	MonthTotal     float64         `json:"monthTotal"`
	MonthCount     int             `json:"monthCount"`
	CategoriesUsed int             `json:"categoriesUsed"`
	DailyAverage   float64         `json:"dailyAverage"`
	HighestExpense float64         `json:"highestExpense"`
	Budget         float64         `json:"budget"`
	Remaining      float64         `json:"remaining"`
	Percent        float64         `json:"percent"`
	Level          BudgetLevel     `json:"level"`
	Currency       string          `json:"currency"`
	Breakdown      []CategoryTotal `json:"breakdown"`
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time {
	return l.clock()
}

// Get returns the expense with the given id.
func (l *Ledger) Get(id int64) (api.Expense, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if idx := l.indexOf(id); idx >= 0 {
		return l.expenses[idx], true
	}
	return api.Expense{}, false
}

// Recent returns the n most recent expenses by date, newest first. Ties are
// broken by id. n <= 0 means DefaultRecent.
func (l *Ledger) Recent(n int) []api.Expense {
	if n <= 0 {
		n = DefaultRecent
	}

	l.mu.Lock()
	out := append([]api.Expense(nil), l.expenses...)
	l.mu.Unlock()

	sortByDateDesc(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Monthly returns the expenses dated in the given month, newest first.
func (l *Ledger) Monthly(year int, month time.Month) []api.Expense {
	l.mu.Lock()
	out := inMonth(l.expenses, year, month)
	l.mu.Unlock()

	sortByDateDesc(out)
	return out
}

// Expenses returns the expenses matching f, newest first.
func (l *Ledger) Expenses(f Filter) []api.Expense {
	now := l.clock()
	query := strings.ToLower(strings.TrimSpace(f.Query))
	category := extractor.CleanLabel(f.Category)

	var year int
	var month time.Month
	switch f.Month {
	case MonthCurrent:
		year, month = now.Year(), now.Month()
	case MonthLast:
		prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		year, month = prev.Year(), prev.Month()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := []api.Expense{}
	for _, e := range l.expenses {
		if category != "" && e.Category != category {
			continue
		}
		if month != 0 && (e.Date.Year() != year || e.Date.Month() != month) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(e.Category), query) &&
			!strings.Contains(strings.ToLower(e.Notes), query) {
			continue
		}
		out = append(out, e)
	}

	sortByDateDesc(out)
	return out
}

// Summary reports the month containing now.
func (l *Ledger) Summary(now time.Time) Summary {
	l.mu.Lock()
	month := inMonth(l.expenses, now.Year(), now.Month())
	settings := l.settings
	l.mu.Unlock()

	s := Summary{
		Year:      now.Year(),
		Month:     now.Month(),
		Budget:    settings.MonthlyBudget,
		Currency:  settings.Currency,
		Breakdown: []CategoryTotal{},
	}

	byCategory := map[string]*CategoryTotal{}
	for _, e := range month {
		s.MonthTotal += e.Amount
		s.MonthCount++
		if e.Amount > s.HighestExpense {
			s.HighestExpense = e.Amount
		}

		ct, ok := byCategory[e.Category]
		if !ok {
			ct = &CategoryTotal{Category: e.Category}
			byCategory[e.Category] = ct
		}
		ct.Total += e.Amount
		ct.Count++
	}

	s.CategoriesUsed = len(byCategory)
	s.DailyAverage = s.MonthTotal / daysPerMonth

	for _, ct := range byCategory {
		if s.MonthTotal > 0 {
			ct.Percent = ct.Total / s.MonthTotal * 100
		}
		s.Breakdown = append(s.Breakdown, *ct)
	}
	sort.Slice(s.Breakdown, func(i, j int) bool {
		if s.Breakdown[i].Total != s.Breakdown[j].Total {
			return s.Breakdown[i].Total > s.Breakdown[j].Total
		}
		return s.Breakdown[i].Category < s.Breakdown[j].Category
	})

	s.Remaining = max(0, s.Budget-s.MonthTotal)
	if s.Budget > 0 {
		s.Percent = s.MonthTotal / s.Budget * 100
	}
	s.Level = budgetLevel(s.Percent, settings.BudgetWarning)

	return s
}

func budgetLevel(percent, warning float64) BudgetLevel {
	switch {
	case percent >= exceededPercent:
		return LevelExceeded
	case warning > 0 && percent >= warning:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Categories returns a copy of the registry in insertion order.
func (l *Ledger) Categories() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.categories...)
}

// Settings returns the current settings.
func (l *Ledger) Settings() api.Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

// monthTotal sums the expenses dated in now's month. Callers hold l.mu.
func (l *Ledger) monthTotal(now time.Time) float64 {
	var total float64
	for _, e := range l.expenses {
		if e.Date.Year() == now.Year() && e.Date.Month() == now.Month() {
			total += e.Amount
		}
	}
	return total
}

func inMonth(expenses []api.Expense, year int, month time.Month) []api.Expense {
	out := []api.Expense{}
	for _, e := range expenses {
		if e.Date.Year() == year && e.Date.Month() == month {
			out = append(out, e)
		}
	}
	return out
}

func sortByDateDesc(expenses []api.Expense) {
	sort.SliceStable(expenses, func(i, j int) bool {
		if !expenses[i].Date.Equal(expenses[j].Date) {
			return expenses[i].Date.After(expenses[j].Date)
		}
		return expenses[i].ID > expenses[j].ID
	})
}
