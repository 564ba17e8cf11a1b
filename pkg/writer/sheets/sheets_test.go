package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/logging"
)

// fakeSheets serves the handful of Sheets v4 endpoints the writer calls.
type fakeSheets struct {
	mu          sync.Mutex
	existing    map[string]bool
	created     int
	headers     int
	appends     [][][]any
	rateLimited int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		if f.rateLimited > 0 {
			f.rateLimited--
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"code":429,"message":"quota"}}`)
			return
		}
		var body struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.appends = append(f.appends, body.Values)
		_, _ = io.WriteString(w, `{}`)

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		f.headers++
		_, _ = io.WriteString(w, `{}`)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/v4/spreadsheets"):
		f.created++
		_, _ = io.WriteString(w, `{"spreadsheetId":"new-sheet","properties":{"title":"masrouf"}}`)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v4/spreadsheets/"):
		id := strings.TrimPrefix(path, "/v4/spreadsheets/")
		if !f.existing[id] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"spreadsheetId":"`+id+`","properties":{"title":"existing"}}`)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFake(t *testing.T, f *fakeSheets) string {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return server.URL + "/"
}

func TestNew_UsesExistingSpreadsheet(t *testing.T) {
	fake := &fakeSheets{existing: map[string]bool{"abc": true}}
	endpoint := newFake(t, fake)

	w, err := New(context.Background(), http.DefaultClient, Config{
		SheetID: "abc", SheetName: "مصاريف", Endpoint: endpoint,
	}, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, "abc", w.SpreadsheetID())
	assert.Zero(t, fake.created)
	assert.Zero(t, fake.headers)
}

func TestNew_CreatesSpreadsheetWithHeaders(t *testing.T) {
	fake := &fakeSheets{}
	endpoint := newFake(t, fake)

	w, err := New(context.Background(), http.DefaultClient, Config{
		SheetID: "missing", SheetTitle: "masrouf", SheetName: "مصاريف", Endpoint: endpoint,
	}, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, "new-sheet", w.SpreadsheetID())
	assert.Equal(t, 1, fake.created)
	assert.Equal(t, 1, fake.headers)
}

func TestNew_MissingSheetWithoutTitle(t *testing.T) {
	endpoint := newFake(t, &fakeSheets{})

	_, err := New(context.Background(), http.DefaultClient, Config{
		SheetID: "missing", SheetName: "مصاريف", Endpoint: endpoint,
	}, logging.Discard())
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), http.DefaultClient, Config{SheetID: "abc"}, logging.Discard())
	assert.ErrorContains(t, err, "sheet name")

	_, err = New(context.Background(), http.DefaultClient, Config{SheetName: "x"}, logging.Discard())
	assert.ErrorContains(t, err, "sheet id or sheet title")
}

func TestWriter_AppendsBatchWithRetry(t *testing.T) {
	fake := &fakeSheets{existing: map[string]bool{"abc": true}, rateLimited: 1}
	endpoint := newFake(t, fake)

	w, err := New(context.Background(), http.DefaultClient, Config{
		SheetID: "abc", SheetName: "مصاريف", BatchSize: 5,
		Endpoint: endpoint, RetryDelay: time.Millisecond,
	}, logging.Discard())
	require.NoError(t, err)

	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	in := make(chan *api.Expense, 2)
	in <- &api.Expense{ID: 1, Amount: 150, Category: "طعام", Date: date, Source: api.SourceChat}
	in <- &api.Expense{ID: 2, Amount: 40, Category: "مواصلات", Date: date, Source: api.SourceManual}
	close(in)

	require.NoError(t, w.Write(context.Background(), in))

	require.Len(t, fake.appends, 1)
	rows := fake.appends[0]
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-03-10", rows[0][1])
	assert.Equal(t, "طعام", rows[0][3])
	assert.Equal(t, "manual", rows[1][5])
	assert.Zero(t, w.BufferLen())
}
