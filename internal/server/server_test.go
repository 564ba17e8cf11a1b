package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/ledger"
	"github.com/ArionMiles/masrouf/pkg/logging"
	"github.com/ArionMiles/masrouf/pkg/store/memory"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(memory.New(), ledger.Config{
		Clock: func() time.Time { return testNow },
	}, logging.Discard())
	require.NoError(t, l.Load(context.Background()))
	return New(l, func() string { return "connected" }, logging.Discard()), l
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["bot"])
}

func TestHealth_NoBot(t *testing.T) {
	l := ledger.New(memory.New(), ledger.Config{}, logging.Discard())
	s := New(l, nil, logging.Discard())

	body := decode[map[string]any](t, do(t, s, http.MethodGet, "/healthz", ""))
	assert.Equal(t, "disabled", body["bot"])
}

func TestCORS(t *testing.T) {
	l := ledger.New(memory.New(), ledger.Config{}, logging.Discard())
	s := New(l, nil, logging.Discard(), WithCORS([]string{"http://localhost:3000"}))

	req := httptest.NewRequest(http.MethodOptions, "/api/expenses", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIngestText(t *testing.T) {
	s, l := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/expenses/text", `{"text":"صرفت 150 طعام غداء"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[resultResponse](t, rec)
	assert.Equal(t, 150.0, res.Expense.Amount)
	assert.Equal(t, "طعام", res.Expense.Category)
	assert.Equal(t, "غداء", res.Expense.Notes)
	assert.Equal(t, api.SourceChat, res.Expense.Source)
	assert.Equal(t, 150.0, res.MonthTotal)
	assert.Equal(t, ledger.LevelOK, res.Level)
	assert.True(t, res.Persisted)
	assert.Len(t, l.Recent(10), 1)
}

func TestIngestText_RefIsIdempotent(t *testing.T) {
	s, l := newTestServer(t)

	body := `{"text":"دفعت 500 فواتير","ref":"webhook:42"}`
	first := do(t, s, http.MethodPost, "/api/expenses/text", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := do(t, s, http.MethodPost, "/api/expenses/text", body)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	res := decode[resultResponse](t, second)
	assert.True(t, res.Duplicate)
	assert.Equal(t, decode[resultResponse](t, first).Expense.ID, res.Expense.ID)
	assert.Equal(t, api.SourceChat, res.Expense.Source)
	assert.Len(t, l.Recent(10), 1)
}

func TestIngestText_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"no match", `{"text":"مرحبا كيف الحال"}`, http.StatusUnprocessableEntity},
		{"blank", `{"text":"   "}`, http.StatusUnprocessableEntity},
		{"missing text", `{}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
		{"zero amount", `{"text":"صرفت 0 طعام"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/expenses/text", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateExpense(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/expenses",
		`{"amount":75.5,"category":"كتب","date":"2025-03-02","notes":"رواية"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[resultResponse](t, rec)
	assert.Equal(t, 75.5, res.Expense.Amount)
	assert.True(t, res.CategoryAdded)
	assert.Equal(t, api.SourceManual, res.Expense.Source)
	assert.Equal(t, "2025-03-02", res.Expense.Date.Format(time.DateOnly))

	rec = do(t, s, http.MethodPost, "/api/expenses", `{"amount":-1,"category":"طعام"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/expenses", `{"amount":1,"category":"طعام","date":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndRecent(t *testing.T) {
	s, _ := newTestServer(t)

	for _, body := range []string{
		`{"amount":10,"category":"طعام","date":"2025-03-01","notes":"خبز"}`,
		`{"amount":20,"category":"مواصلات","date":"2025-03-05"}`,
		`{"amount":30,"category":"طعام","date":"2025-02-20"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/expenses", body).Code)
	}

	all := decode[[]api.Expense](t, do(t, s, http.MethodGet, "/api/expenses", ""))
	assert.Len(t, all, 3)

	food := decode[[]api.Expense](t, do(t, s, http.MethodGet, "/api/expenses?category="+url.QueryEscape("طعام")+"&month=current", ""))
	require.Len(t, food, 1)
	assert.Equal(t, 10.0, food[0].Amount)

	found := decode[[]api.Expense](t, do(t, s, http.MethodGet, "/api/expenses?q="+url.QueryEscape("خبز"), ""))
	assert.Len(t, found, 1)

	last := decode[[]api.Expense](t, do(t, s, http.MethodGet, "/api/expenses?month=last", ""))
	require.Len(t, last, 1)
	assert.Equal(t, 30.0, last[0].Amount)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/expenses?month=next", "").Code)

	recent := decode[[]api.Expense](t, do(t, s, http.MethodGet, "/api/expenses/recent?limit=2", ""))
	require.Len(t, recent, 2)
	assert.Equal(t, 20.0, recent[0].Amount)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/expenses/recent?limit=0", "").Code)
}

func TestUpdateAndDeleteExpense(t *testing.T) {
	s, l := newTestServer(t)

	res := decode[resultResponse](t, do(t, s, http.MethodPost, "/api/expenses", `{"amount":10,"category":"طعام"}`))
	path := "/api/expenses/" + jsonNumber(res.Expense.ID)

	rec := do(t, s, http.MethodPatch, path, `{"amount":12,"notes":"قهوة"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[api.Expense](t, rec)
	assert.Equal(t, 12.0, updated.Amount)
	assert.Equal(t, "قهوة", updated.Notes)
	assert.Equal(t, "طعام", updated.Category)

	got := decode[api.Expense](t, do(t, s, http.MethodGet, path, ""))
	assert.Equal(t, updated, got)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPatch, path, `{"amount":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPatch, "/api/expenses/abc", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPatch, "/api/expenses/1", `{"amount":3}`).Code)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, path, "").Code)
	assert.Empty(t, l.Recent(5))
}

func TestSummary(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/api/expenses/text", `{"text":"صرفت 4600 فواتير"}`)

	sum := decode[ledger.Summary](t, do(t, s, http.MethodGet, "/api/summary", ""))
	assert.Equal(t, 4600.0, sum.MonthTotal)
	assert.Equal(t, 5000.0, sum.Budget)
	assert.Equal(t, ledger.LevelExceeded, sum.Level)
	require.Len(t, sum.Breakdown, 1)
	assert.Equal(t, "فواتير", sum.Breakdown[0].Category)
}

func TestCategories(t *testing.T) {
	s, l := newTestServer(t)

	cats := decode[[]string](t, do(t, s, http.MethodGet, "/api/categories", ""))
	assert.Equal(t, ledger.DefaultCategories, cats)

	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/categories", `{"name":"هدايا"}`).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/categories", `{"name":"هدايا"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/categories", `{}`).Code)

	do(t, s, http.MethodPost, "/api/expenses", `{"amount":50,"category":"هدايا"}`)

	rec := do(t, s, http.MethodDelete, "/api/categories/"+url.PathEscape("هدايا")+"?cascade=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, 1.0, body["removedExpenses"])
	assert.NotContains(t, l.Categories(), "هدايا")
	assert.Empty(t, l.Recent(5))

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/categories/"+url.PathEscape("غير"), "").Code)
}

func TestSettings(t *testing.T) {
	s, _ := newTestServer(t)

	got := decode[api.Settings](t, do(t, s, http.MethodGet, "/api/settings", ""))
	assert.Equal(t, api.DefaultSettings(), got)

	rec := do(t, s, http.MethodPut, "/api/settings", `{"monthlyBudget":8000,"currency":"ر.س"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[api.Settings](t, rec)
	assert.Equal(t, 8000.0, got.MonthlyBudget)
	assert.Equal(t, "ر.س", got.Currency)
	assert.Equal(t, 80.0, got.BudgetWarning)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/api/settings", `{"budgetWarning":150}`).Code)
}

func TestExportImport(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/api/expenses", `{"amount":10,"category":"طعام"}`)

	rec := do(t, s, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "masrouf-2025-03-10.json")
	exported := rec.Body.String()

	other, otherLedger := newTestServer(t)
	rec = do(t, other, http.MethodPost, "/api/import", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "replace", body["mode"])
	assert.Equal(t, 1.0, body["added"])
	assert.Len(t, otherLedger.Recent(5), 1)

	rec = do(t, other, http.MethodPost, "/api/import", `[{"id":99,"amount":5,"category":"صحة"}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "merge", decode[map[string]any](t, rec)["mode"])
	assert.Len(t, otherLedger.Recent(5), 2)

	assert.Equal(t, http.StatusBadRequest, do(t, other, http.MethodPost, "/api/import", `"nope"`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, other, http.MethodPost, "/api/import?mode=upsert", `[]`).Code)
}

func TestReset(t *testing.T) {
	s, l := newTestServer(t)
	do(t, s, http.MethodPost, "/api/expenses", `{"amount":10,"category":"جديد"}`)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodPost, "/api/reset", "").Code)
	assert.Empty(t, l.Recent(5))
	assert.Equal(t, ledger.DefaultCategories, l.Categories())
}

func TestServe_Shutdown(t *testing.T) {
	s, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
