package ledger_test

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/ledger"
	"github.com/ArionMiles/masrouf/pkg/store/memory"
)

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	src := newLedger(t, memory.New(), clock)

	for _, text := range []string{"صرفت 150 بطاطس", "دفعت 500 فواتير كهرباء", "اشتريت ب200 كتب"} {
		_, err := src.IngestText(ctx, text, api.SourceChat, "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	_, err := src.AddManual(ctx, ledger.ManualEntry{Amount: 75, Category: "صحة", Notes: "دواء"})
	require.NoError(t, err)
	_, err = src.AddCategory(ctx, "سفر")
	require.NoError(t, err)

	data, err := json.Marshal(src.Export())
	require.NoError(t, err)

	snap, mode, err := ledger.DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, ledger.ImportReplace, mode)

	dst := newLedger(t, memory.New(), newClock())
	stats, err := dst.Import(ctx, snap, mode)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Added)
	assert.Zero(t, stats.Skipped)

	assert.Equal(t, src.Expenses(ledger.Filter{}), dst.Expenses(ledger.Filter{}))
	assert.Equal(t, src.Categories(), dst.Categories())
	assert.Equal(t, src.Settings(), dst.Settings())
}

func TestImport_RoundTripThroughDifferentStores(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	src := newLedger(t, memory.New(), clock)
	_, err := src.IngestText(ctx, "صرفت 150 بطاطس", api.SourceChat, "telegram:1:2")
	require.NoError(t, err)

	dstStore := memory.New()
	dst := newLedger(t, dstStore, clock)
	_, err = dst.Import(ctx, src.Export(), ledger.ImportReplace)
	require.NoError(t, err)

	// A fresh ledger on the same store sees the imported state.
	reloaded := newLedger(t, dstStore, clock)
	assert.Equal(t, src.Expenses(ledger.Filter{}), reloaded.Expenses(ledger.Filter{}))
	assert.Equal(t, src.Categories(), reloaded.Categories())
}

func TestImport_MergeBareArray(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	l := newLedger(t, memory.New(), clock)

	res, err := l.IngestText(ctx, "صرفت 150 بطاطس", api.SourceChat, "")
	require.NoError(t, err)
	existing := res.Expense.ID

	data := []byte(`[
		{"id": 1, "amount": 300, "category": "ترفيه", "date": "2025-03-01T10:00:00.000Z", "source": "telegram", "notes": "سينما"},
		{"id": ` + jsonInt(existing) + `, "amount": 999, "category": "طعام", "date": "2025-03-01T10:00:00Z", "source": "manual"},
		{"id": 2, "amount": 0, "category": "طعام", "date": "2025-03-01T10:00:00Z"},
		{"id": 3, "amount": 40, "category": "حديقة", "date": "2025-03-02T10:00:00Z"}
	]`)

	snap, mode, err := ledger.DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, ledger.ImportMerge, mode)

	stats, err := l.Import(ctx, snap, mode)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 2, stats.Skipped)

	all := l.Expenses(ledger.Filter{})
	assert.Len(t, all, 3)

	imported, ok := l.Get(1)
	require.True(t, ok)
	assert.Equal(t, api.SourceChat, imported.Source, "legacy telegram tag maps to chat")
	assert.Equal(t, "سينما", imported.Notes)

	kept, ok := l.Get(existing)
	require.True(t, ok)
	assert.Equal(t, 150.0, kept.Amount, "existing record wins over import with the same id")

	assert.Contains(t, l.Categories(), "حديقة")
	assert.Contains(t, l.Categories(), "بطاطس")

	// New ids continue after the largest imported one.
	next, err := l.AddManual(ctx, ledger.ManualEntry{Amount: 1, Category: "طعام"})
	require.NoError(t, err)
	assert.Greater(t, next.Expense.ID, existing)
}

func TestImport_SkipsNonFiniteAmounts(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, memory.New(), newClock())

	date := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := ledger.Snapshot{Expenses: []api.Expense{
		{ID: 1, Amount: math.NaN(), Category: "طعام", Date: date},
		{ID: 2, Amount: math.Inf(1), Category: "طعام", Date: date},
		{ID: 3, Amount: 25, Category: "طعام", Date: date},
	}}

	stats, err := l.Import(ctx, snap, ledger.ImportMerge)
	require.NoError(t, err)
	assert.Equal(t, ledger.ImportStats{Added: 1, Skipped: 2}, stats)

	res, err := l.AddManual(ctx, ledger.ManualEntry{Amount: 5, Category: "طعام"})
	require.NoError(t, err)
	assert.NoError(t, res.PersistErr)
}

func TestImport_ReplaceWithoutSettingsKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, memory.New(), newClock())

	s := l.Settings()
	s.MonthlyBudget = 1234
	_, err := l.UpdateSettings(ctx, s)
	require.NoError(t, err)

	snap, _, err := ledger.DecodeSnapshot([]byte(`{"expenses": [], "categories": ["طعام", "سفر"]}`))
	require.NoError(t, err)

	_, err = l.Import(ctx, snap, ledger.ImportReplace)
	require.NoError(t, err)
	assert.Equal(t, 1234.0, l.Settings().MonthlyBudget)
	assert.Equal(t, []string{"طعام", "سفر"}, l.Categories())
	assert.Empty(t, l.Expenses(ledger.Filter{}))
}

func TestDecodeSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"scalar", `42`},
		{"string", `"expenses"`},
		{"object without expenses", `{"categories": []}`},
		{"broken array", `[{"id": 1,`},
		{"wrong expense shape", `[{"amount": "lots"}]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ledger.DecodeSnapshot([]byte(tc.data))
			assert.ErrorIs(t, err, ledger.ErrInvalidSnapshot)
		})
	}
}

func TestImport_UnknownMode(t *testing.T) {
	l := newLedger(t, memory.New(), newClock())
	_, err := l.Import(context.Background(), ledger.Snapshot{}, "overwrite")
	assert.Error(t, err)
}

func TestParseImportMode(t *testing.T) {
	mode, err := ledger.ParseImportMode("merge")
	require.NoError(t, err)
	assert.Equal(t, ledger.ImportMerge, mode)

	_, err = ledger.ParseImportMode("append")
	assert.Error(t, err)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
