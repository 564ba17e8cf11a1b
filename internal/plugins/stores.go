package plugins

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ArionMiles/masrouf/pkg/store/file"
	"github.com/ArionMiles/masrouf/pkg/store/memory"
	"github.com/ArionMiles/masrouf/pkg/store/postgres"
	"github.com/ArionMiles/masrouf/pkg/store/sqlite"
)

func pathSchema(desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": desc},
		},
		"required": []string{"path"},
	}
}

// FileStore keeps all state in a single JSON document.
type FileStore struct{}

func (p *FileStore) Name() string        { return "file" }
func (p *FileStore) Description() string { return "Store expenses in a local JSON file" }
func (p *FileStore) ConfigSchema() map[string]any {
	return pathSchema("Path to the JSON state file")
}

func (p *FileStore) NewStore(_ context.Context, raw json.RawMessage, logger *slog.Logger) (Store, error) {
	var cfg file.Config
	if err := decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	return file.New(cfg, logger)
}

// SQLiteStore keeps state in a SQLite database.
type SQLiteStore struct{}

func (p *SQLiteStore) Name() string        { return "sqlite" }
func (p *SQLiteStore) Description() string { return "Store expenses in a local SQLite database" }
func (p *SQLiteStore) ConfigSchema() map[string]any {
	return pathSchema("Path to the SQLite database file")
}

func (p *SQLiteStore) NewStore(_ context.Context, raw json.RawMessage, logger *slog.Logger) (Store, error) {
	var cfg sqlite.Config
	if err := decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	return sqlite.New(cfg, logger)
}

// PostgresStore keeps state in a PostgreSQL table.
type PostgresStore struct{}

func (p *PostgresStore) Name() string        { return "postgres" }
func (p *PostgresStore) Description() string { return "Store expenses in PostgreSQL" }

func (p *PostgresStore) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dsn":         map[string]any{"type": "string", "description": "Connection string; overrides the discrete fields"},
			"host":        map[string]any{"type": "string", "default": "localhost"},
			"port":        map[string]any{"type": "integer", "default": 5432},
			"database":    map[string]any{"type": "string"},
			"user":        map[string]any{"type": "string"},
			"password":    map[string]any{"type": "string"},
			"sslmode":     map[string]any{"type": "string", "default": "disable"},
			"maxPoolSize": map[string]any{"type": "integer", "default": 4},
		},
	}
}

func (p *PostgresStore) NewStore(_ context.Context, raw json.RawMessage, logger *slog.Logger) (Store, error) {
	var cfg postgres.Config
	if err := decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	return postgres.New(cfg, logger)
}

// MemoryStore keeps state in process memory only.
type MemoryStore struct{}

func (p *MemoryStore) Name() string        { return "memory" }
func (p *MemoryStore) Description() string { return "Keep expenses in memory (lost on exit)" }
func (p *MemoryStore) ConfigSchema() map[string]any {
	return map[string]any{"type": "object"}
}

func (p *MemoryStore) NewStore(context.Context, json.RawMessage, *slog.Logger) (Store, error) {
	return memory.New(), nil
}
