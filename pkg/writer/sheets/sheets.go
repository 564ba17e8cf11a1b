// Package sheets mirrors ingested expenses into a Google Sheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/writer/buffered"
)

// Scope is the OAuth scope the writer needs.
const Scope = sheets.SpreadsheetsScope

// DefaultRetryDelay is the wait between rate-limited append attempts.
const DefaultRetryDelay = 60 * time.Second

// Headers is the first row of a freshly created sheet. The labels follow the
// language of the data.
var Headers = []any{"المعرف", "التاريخ", "المبلغ", "الفئة", "ملاحظات", "المصدر", "وقت التسجيل"}

// Config holds configuration for the Sheets writer.
type Config struct {
	// SheetTitle is the title for a new spreadsheet (if SheetID is empty).
	SheetTitle string `json:"sheetTitle"`
	// SheetID is the ID of an existing spreadsheet to use.
	SheetID string `json:"sheetId"`
	// SheetName is the tab within the spreadsheet.
	SheetName string `json:"sheetName"`
	BatchSize int    `json:"batchSize"`
	// FlushInterval is in seconds.
	FlushInterval int `json:"flushInterval"`

	// Endpoint overrides the API base URL.
	Endpoint   string        `json:"-"`
	RetryDelay time.Duration `json:"-"`
}

// Writer appends expenses to a Google Sheet with buffered batching.
type Writer struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	retryDelay    time.Duration
	logger        *slog.Logger
	buffered      *buffered.Writer
}

// New opens cfg.SheetID, or creates a spreadsheet titled cfg.SheetTitle when
// the ID is empty or unusable.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SheetName == "" {
		return nil, errors.New("sheet name is required")
	}
	if cfg.SheetID == "" && cfg.SheetTitle == "" {
		return nil, errors.New("either sheet id or sheet title is required")
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	w := &Writer{
		service:    service,
		sheetName:  cfg.SheetName,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
	if w.retryDelay <= 0 {
		w.retryDelay = DefaultRetryDelay
	}

	if w.spreadsheetID, err = w.initSpreadsheet(ctx, cfg); err != nil {
		return nil, fmt.Errorf("initializing spreadsheet: %w", err)
	}

	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}, logger.With("component", "sheets_buffer"))

	logger.Info("sheets writer initialized", "spreadsheet_id", w.spreadsheetID, "sheet", cfg.SheetName)
	return w, nil
}

func (w *Writer) initSpreadsheet(ctx context.Context, cfg Config) (string, error) {
	if cfg.SheetID != "" {
		spreadsheet, err := w.service.Spreadsheets.Get(cfg.SheetID).Context(ctx).Do()
		if err == nil {
			w.logger.Info("using existing spreadsheet", "title", spreadsheet.Properties.Title, "id", cfg.SheetID)
			return spreadsheet.SpreadsheetId, nil
		}
		if cfg.SheetTitle == "" {
			return "", fmt.Errorf("opening spreadsheet %s: %w", cfg.SheetID, err)
		}
		w.logger.Warn("failed to get spreadsheet, will create new one", "id", cfg.SheetID, "error", err)
	}

	spreadsheet, err := w.service.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: cfg.SheetTitle},
		Sheets: []*sheets.Sheet{{
			Properties: &sheets.SheetProperties{Title: cfg.SheetName, RightToLeft: true},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating spreadsheet: %w", err)
	}
	w.logger.Info("created new spreadsheet", "title", cfg.SheetTitle, "id", spreadsheet.SpreadsheetId)

	headerRange := fmt.Sprintf("%s!A1:G1", cfg.SheetName)
	_, err = w.service.Spreadsheets.Values.Update(spreadsheet.SpreadsheetId, headerRange, &sheets.ValueRange{
		Values: [][]any{Headers},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("writing headers: %w", err)
	}

	return spreadsheet.SpreadsheetId, nil
}

// Write consumes expenses until in is closed or ctx is cancelled.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Expense) error {
	w.logger.Info("sheets writer started")
	return w.buffered.Write(ctx, in)
}

// Row renders one expense as a sheet row.
func Row(e *api.Expense) []any {
	return []any{
		e.ID,
		e.Date.Format(time.DateOnly),
		e.Amount,
		e.Category,
		e.Notes,
		string(e.Source),
		e.CreatedAt.Format(time.RFC3339),
	}
}

// flushBatch appends the batch in a single API call, retrying on rate limits.
func (w *Writer) flushBatch(ctx context.Context, batch []*api.Expense) error {
	values := make([][]any, 0, len(batch))
	for _, e := range batch {
		values = append(values, Row(e))
	}
	writeRange := fmt.Sprintf("%s!A2:G2", w.sheetName)

	err := retry.Do(
		func() error {
			_, err := w.service.Spreadsheets.Values.Append(w.spreadsheetID, writeRange, &sheets.ValueRange{Values: values}).
				ValueInputOption("USER_ENTERED").
				InsertDataOption("INSERT_ROWS").
				Context(ctx).
				Do()
			return err
		},
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				w.logger.Warn("rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(w.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("appending batch to sheet: %w", err)
	}

	w.logger.Info("wrote expense batch", "count", len(batch), "first_id", batch[0].ID)
	return nil
}

// SpreadsheetID returns the ID of the spreadsheet being written to.
func (w *Writer) SpreadsheetID() string {
	return w.spreadsheetID
}

// BufferLen returns the number of expenses waiting for a flush.
func (w *Writer) BufferLen() int {
	if w.buffered == nil {
		return 0
	}
	return w.buffered.BufferLen()
}
