package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/masrouf/pkg/api"
	csvwriter "github.com/ArionMiles/masrouf/pkg/writer/csv"
	"github.com/ArionMiles/masrouf/pkg/writer/jsonl"
	sheetswriter "github.com/ArionMiles/masrouf/pkg/writer/sheets"
)

func batchProperties(extra map[string]any) map[string]any {
	props := map[string]any{
		"batchSize": map[string]any{
			"type":        "integer",
			"description": "Number of expenses to buffer before writing (default: 10)",
			"default":     10,
		},
		"flushInterval": map[string]any{
			"type":        "integer",
			"description": "Interval in seconds between automatic flushes (default: 30)",
			"default":     30,
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// CSVMirror appends expenses to a CSV file.
type CSVMirror struct{}

func (p *CSVMirror) Name() string             { return "csv" }
func (p *CSVMirror) Description() string      { return "Append new expenses to a CSV file" }
func (p *CSVMirror) RequiredScopes() []string { return nil }

func (p *CSVMirror) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": batchProperties(map[string]any{
			"filePath": map[string]any{"type": "string", "description": "Path to the CSV output file"},
		}),
		"required": []string{"filePath"},
	}
}

func (p *CSVMirror) NewWriter(_ context.Context, _ *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg csvwriter.Config
	if err := decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	return csvwriter.New(cfg, logger)
}

// JSONLMirror appends expenses to a JSON Lines file.
type JSONLMirror struct{}

func (p *JSONLMirror) Name() string             { return "jsonl" }
func (p *JSONLMirror) Description() string      { return "Append new expenses to a JSON Lines file" }
func (p *JSONLMirror) RequiredScopes() []string { return nil }

func (p *JSONLMirror) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": batchProperties(map[string]any{
			"filePath": map[string]any{"type": "string", "description": "Path to the JSON Lines output file"},
		}),
		"required": []string{"filePath"},
	}
}

func (p *JSONLMirror) NewWriter(_ context.Context, _ *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg jsonl.Config
	if err := decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	return jsonl.New(cfg, logger)
}

// SheetsMirror appends expenses to a Google Sheet.
type SheetsMirror struct{}

func (p *SheetsMirror) Name() string             { return "sheets" }
func (p *SheetsMirror) Description() string      { return "Append new expenses to Google Sheets" }
func (p *SheetsMirror) RequiredScopes() []string { return []string{sheetswriter.Scope} }

func (p *SheetsMirror) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": batchProperties(map[string]any{
			"sheetTitle": map[string]any{
				"type":        "string",
				"description": "Title for a new spreadsheet (used if sheetId is not provided)",
			},
			"sheetId": map[string]any{
				"type":        "string",
				"description": "ID of an existing spreadsheet to use",
			},
			"sheetName": map[string]any{
				"type":        "string",
				"description": "Name of the sheet/tab within the spreadsheet",
			},
		}),
		"required": []string{"sheetName"},
	}
}

func (p *SheetsMirror) NewWriter(ctx context.Context, httpClient *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	if httpClient == nil {
		return nil, errors.New("sheets mirror requires an authorized http client")
	}
	var cfg sheetswriter.Config
	if err := decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	return sheetswriter.New(ctx, httpClient, cfg, logger)
}
