// Package config loads masrouf configuration from .env files, an optional
// JSON config file and the process environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kJson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/masrouf/pkg/api"
)

// ClientSecretFile is the default path to the Google OAuth credentials JSON file.
const ClientSecretFile = "data/client_secret.json"

// DefaultPollInterval is how often the chat transport is polled when
// TELEGRAM_POLL_INTERVAL is not set.
const DefaultPollInterval = 5 * time.Second

// Config holds the application configuration.
type Config struct {
	// StorePlugin is the name of the persistence backend (file, sqlite, postgres, memory).
	// Environment variable: MASROUF_STORE
	StorePlugin string `koanf:"MASROUF_STORE"`

	// StoreConfig is the raw JSON configuration for the store plugin.
	// Environment variable: MASROUF_STORE_CONFIG
	StoreConfig string `koanf:"MASROUF_STORE_CONFIG"`

	// DataDir holds the default file and sqlite stores and the OAuth token.
	// Environment variable: MASROUF_DATA_DIR
	DataDir string `koanf:"MASROUF_DATA_DIR"`

	// HTTPAddr enables the HTTP API when set (e.g. ":8080").
	// Environment variable: MASROUF_HTTP_ADDR
	HTTPAddr string `koanf:"MASROUF_HTTP_ADDR"`

	// CORSOrigins is a comma-separated list of browser origins allowed to call the HTTP API.
	// Environment variable: MASROUF_CORS_ORIGINS
	CORSOrigins string `koanf:"MASROUF_CORS_ORIGINS"`

	// MirrorPlugin is the optional writer that receives every new expense (csv, jsonl, sheets).
	// Environment variable: MASROUF_MIRROR
	MirrorPlugin string `koanf:"MASROUF_MIRROR"`

	// MirrorConfig is the raw JSON configuration for the mirror plugin.
	// Environment variable: MASROUF_MIRROR_CONFIG
	MirrorConfig string `koanf:"MASROUF_MIRROR_CONFIG"`

	// ClientSecretPath is the Google OAuth client secret used by the sheets mirror.
	// Environment variable: GOOGLE_CLIENT_SECRET
	ClientSecretPath string `koanf:"GOOGLE_CLIENT_SECRET"`

	Telegram TelegramConfig `koanf:",squash"`
	Budget   BudgetConfig   `koanf:",squash"`
	Postgres PostgresConfig `koanf:",squash"`
	Sheets   SheetsConfig   `koanf:",squash"`
}

// TelegramConfig configures the chat bot.
type TelegramConfig struct {
	Token        string        `koanf:"TELEGRAM_TOKEN"`
	ChatID       int64         `koanf:"TELEGRAM_CHAT_ID"`
	PollInterval time.Duration `koanf:"TELEGRAM_POLL_INTERVAL"`
}

// BudgetConfig seeds the settings record on first run. Saved settings take precedence.
type BudgetConfig struct {
	MonthlyBudget float64 `koanf:"MASROUF_BUDGET"`
	// Warning is the percentage of the budget at which warnings start.
	Warning       float64 `koanf:"MASROUF_BUDGET_WARNING"`
	Notifications bool    `koanf:"MASROUF_NOTIFICATIONS"`
	AutoProcess   bool    `koanf:"MASROUF_AUTO_PROCESS"`
	Currency      string  `koanf:"MASROUF_CURRENCY"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// SheetsConfig holds Google Sheets mirror configuration.
type SheetsConfig struct {
	Title string `koanf:"GSHEETS_TITLE"`
	ID    string `koanf:"GSHEETS_ID"`
	Name  string `koanf:"GSHEETS_NAME"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	s := api.DefaultSettings()
	return Config{
		StorePlugin:      "file",
		DataDir:          "data",
		ClientSecretPath: ClientSecretFile,
		Telegram: TelegramConfig{
			PollInterval: DefaultPollInterval,
		},
		Budget: BudgetConfig{
			MonthlyBudget: s.MonthlyBudget,
			Warning:       s.BudgetWarning,
			Notifications: s.Notifications,
			AutoProcess:   s.AutoProcess,
			Currency:      s.Currency,
		},
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
	}
}

// Options controls where Load looks for configuration.
type Options struct {
	// EnvFile is a dotenv file loaded into the environment first. Missing files are ignored.
	EnvFile string
	// ConfigFile is an optional JSON file with the same flat keys as the environment.
	ConfigFile string
}

// Load builds a Config from defaults, the optional JSON file and the
// environment, in increasing order of precedence.
func Load(opts Options) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading env file: %w", err)
		}
	}

	k := koanf.New(".")
	if opts.ConfigFile != "" {
		if err := k.Load(file.Provider(opts.ConfigFile), kJson.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Telegram.PollInterval <= 0 {
		cfg.Telegram.PollInterval = DefaultPollInterval
	}

	return cfg, nil
}

// Settings returns the settings record used when none has been saved.
func (c Config) Settings() api.Settings {
	s := api.DefaultSettings()
	s.MonthlyBudget = c.Budget.MonthlyBudget
	s.BudgetWarning = c.Budget.Warning
	s.Notifications = c.Budget.Notifications
	s.AutoProcess = c.Budget.AutoProcess
	if c.Budget.Currency != "" {
		s.Currency = c.Budget.Currency
	}
	return s
}

// AllowedOrigins splits CORSOrigins into trimmed, non-empty origins.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// TokenPath is where the Google OAuth token is cached.
func (c Config) TokenPath() string {
	return filepath.Join(c.DataDir, "token.json")
}

// StorePluginConfig returns MASROUF_STORE_CONFIG, or a default built from
// DataDir and the POSTGRES_* variables when it is unset.
func (c Config) StorePluginConfig() (json.RawMessage, error) {
	if c.StoreConfig != "" {
		return json.RawMessage(c.StoreConfig), nil
	}

	var cfg map[string]any
	switch c.StorePlugin {
	case "file":
		cfg = map[string]any{"path": filepath.Join(c.DataDir, "masrouf.json")}
	case "sqlite":
		cfg = map[string]any{"path": filepath.Join(c.DataDir, "masrouf.db")}
	case "postgres":
		cfg = map[string]any{
			"host":     c.Postgres.Host,
			"port":     c.Postgres.Port,
			"database": c.Postgres.Database,
			"user":     c.Postgres.User,
			"password": c.Postgres.Password,
			"sslmode":  c.Postgres.SSLMode,
		}
	default:
		cfg = map[string]any{}
	}

	return json.Marshal(cfg)
}

// MirrorPluginConfig returns MASROUF_MIRROR_CONFIG, or a default built from
// DataDir and the GSHEETS_* variables when it is unset.
func (c Config) MirrorPluginConfig() (json.RawMessage, error) {
	if c.MirrorConfig != "" {
		return json.RawMessage(c.MirrorConfig), nil
	}

	var cfg map[string]any
	switch c.MirrorPlugin {
	case "csv":
		cfg = map[string]any{"filePath": filepath.Join(c.DataDir, "expenses.csv")}
	case "jsonl":
		cfg = map[string]any{"filePath": filepath.Join(c.DataDir, "expenses.jsonl")}
	case "sheets":
		if c.Sheets.Name == "" {
			return nil, fmt.Errorf("GSHEETS_NAME is required")
		}
		if c.Sheets.ID == "" && c.Sheets.Title == "" {
			return nil, fmt.Errorf("either GSHEETS_ID or GSHEETS_TITLE is required")
		}
		cfg = map[string]any{
			"sheetName":     c.Sheets.Name,
			"batchSize":     10,
			"flushInterval": 30,
		}
		if c.Sheets.Title != "" {
			cfg["sheetTitle"] = c.Sheets.Title
		}
		if c.Sheets.ID != "" {
			cfg["sheetId"] = c.Sheets.ID
		}
	default:
		cfg = map[string]any{}
	}

	return json.Marshal(cfg)
}
