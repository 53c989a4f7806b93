// Package config loads txlens settings from the environment and optional
// .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/txlens/txlens/pkg/connection"
	"github.com/txlens/txlens/pkg/executor"
)

type BackendKind string

const (
	BackendDuckDB     BackendKind = "duckdb"
	BackendClickHouse BackendKind = "clickhouse"
)

type LLMProvider string

const (
	LLMNone      LLMProvider = "none"
	LLMAnthropic LLMProvider = "anthropic"
	LLMOllama    LLMProvider = "ollama"
)

const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOllamaModel    = "qwen2.5-coder:7b"
	DefaultHTTPAddr       = "0.0.0.0:8080"
	DefaultWorkers        = 8
	DefaultHintCacheTTL   = 10 * time.Minute
)

// Config holds everything needed to wire a pipeline.
type Config struct {
	Backend BackendKind

	// DuckDB
	DuckDBPath string
	// DuckDBCSV maps table references to CSV files loaded at startup.
	DuckDBCSV map[string]string
	// DuckDBAttach maps catalog names to database files attached read-only.
	DuckDBAttach map[string]string
	// DuckDBSetup statements run after opening, e.g. "LOAD httpfs".
	DuckDBSetup []string

	// ClickHouse
	ClickhouseAddr       string
	ClickhouseDatabase   string
	ClickhouseUsername   string
	ClickhousePassword   string
	ClickhouseDisableTLS bool

	// Table resolution: a mapping file, or one table for every schema type.
	TableMappingPath string
	Table            *connection.TableRef

	SchemaType string
	CatalogDir string
	Assets     []string

	// LLM
	LLM             LLMProvider
	AnthropicAPIKey string
	AnthropicModel  string
	OllamaURL       string
	OllamaModel     string
	HintCacheTTL    time.Duration

	// Execution and output
	MaxRetries            int
	AttemptTimeout        time.Duration
	MaxRows               int
	MaxDisplayRows        int
	DownloadLimit         int
	PercentScaleThreshold float64
	ShowSQL               bool
	ShowPerformance       bool

	// Server
	HTTPAddr   string
	Workers    int
	PendingTTL time.Duration
}

// LoadFromEnv loads envFiles that exist, then reads the environment. Variables
// already set take precedence over the files.
func LoadFromEnv(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	e := &reader{}
	cfg := &Config{
		Backend:              BackendKind(strings.ToLower(e.str("TXLENS_BACKEND", string(BackendDuckDB)))),
		DuckDBPath:           e.str("TXLENS_DUCKDB_PATH", ""),
		DuckDBCSV:            e.pairs("TXLENS_DUCKDB_CSV"),
		DuckDBAttach:         e.pairs("TXLENS_DUCKDB_ATTACH"),
		DuckDBSetup:          e.statements("TXLENS_DUCKDB_SETUP"),
		ClickhouseAddr:       e.str("CLICKHOUSE_ADDR", ""),
		ClickhouseDatabase:   e.str("CLICKHOUSE_DATABASE", "default"),
		ClickhouseUsername:   e.str("CLICKHOUSE_USERNAME", "default"),
		ClickhousePassword:   e.str("CLICKHOUSE_PASSWORD", ""),
		ClickhouseDisableTLS: e.bool("CLICKHOUSE_DISABLE_TLS", false),
		TableMappingPath:     e.str("TXLENS_TABLE_MAPPING", ""),
		SchemaType:           e.str("TXLENS_SCHEMA_TYPE", ""),
		CatalogDir:           e.str("TXLENS_CATALOG_DIR", ""),
		Assets:               e.list("TXLENS_ASSETS"),
		LLM:                  LLMProvider(strings.ToLower(e.str("TXLENS_LLM", ""))),
		AnthropicAPIKey:      e.str("ANTHROPIC_API_KEY", ""),
		AnthropicModel:       e.str("TXLENS_ANTHROPIC_MODEL", DefaultAnthropicModel),
		OllamaURL:            e.str("OLLAMA_URL", ""),
		OllamaModel:          e.str("TXLENS_OLLAMA_MODEL", DefaultOllamaModel),
		HintCacheTTL:         e.duration("TXLENS_HINT_CACHE_TTL", DefaultHintCacheTTL),
		MaxRetries:           e.int("TXLENS_MAX_RETRIES", executor.DefaultMaxRetries),
		AttemptTimeout:       e.duration("TXLENS_ATTEMPT_TIMEOUT", 0),
		MaxRows:              e.int("TXLENS_MAX_ROWS", 0),
		MaxDisplayRows:       e.int("TXLENS_MAX_DISPLAY_ROWS", 0),
		DownloadLimit:        e.int("TXLENS_DOWNLOAD_LIMIT", 0),
		ShowSQL:              e.bool("TXLENS_SHOW_SQL", false),
		ShowPerformance:      e.bool("TXLENS_SHOW_PERFORMANCE", false),
		HTTPAddr:             e.str("TXLENS_HTTP_ADDR", DefaultHTTPAddr),
		Workers:              e.int("TXLENS_WORKERS", DefaultWorkers),
		PendingTTL:           e.duration("TXLENS_PENDING_TTL", 0),
	}
	cfg.PercentScaleThreshold = e.float("TXLENS_PERCENT_SCALE_THRESHOLD", 0)
	if table := e.str("TXLENS_TABLE", ""); table != "" {
		ref, err := ParseTableRef(table)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("TXLENS_TABLE: %w", err))
		}
		cfg.Table = ref
	}
	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}
	if cfg.LLM == "" {
		cfg.LLM = defaultLLM(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultLLM(cfg *Config) LLMProvider {
	switch {
	case cfg.AnthropicAPIKey != "":
		return LLMAnthropic
	case cfg.OllamaURL != "":
		return LLMOllama
	}
	return LLMNone
}

func (cfg *Config) Validate() error {
	switch cfg.Backend {
	case BackendDuckDB:
	case BackendClickHouse:
		if cfg.ClickhouseAddr == "" {
			return errors.New("CLICKHOUSE_ADDR is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("TXLENS_BACKEND must be 'duckdb' or 'clickhouse', got: %s", cfg.Backend)
	}
	switch cfg.LLM {
	case LLMNone:
	case LLMAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case LLMOllama:
		if cfg.OllamaURL == "" {
			return errors.New("OLLAMA_URL is required for the ollama provider")
		}
	default:
		return fmt.Errorf("TXLENS_LLM must be 'none', 'anthropic' or 'ollama', got: %s", cfg.LLM)
	}
	if cfg.TableMappingPath == "" && cfg.Table == nil {
		return errors.New("TXLENS_TABLE or TXLENS_TABLE_MAPPING is required")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("TXLENS_MAX_RETRIES must not be negative")
	}
	if cfg.MaxDisplayRows < 0 || cfg.DownloadLimit < 0 {
		return errors.New("row limits must not be negative")
	}
	if cfg.Workers <= 0 {
		return errors.New("TXLENS_WORKERS must be positive")
	}
	return nil
}

// Tables builds the table resolution configured by TXLENS_TABLE_MAPPING or
// TXLENS_TABLE. A mapping file wins when both are set.
func (cfg *Config) Tables() (connection.Tables, error) {
	if cfg.TableMappingPath != "" {
		return connection.LoadMappingFile(cfg.TableMappingPath)
	}
	if cfg.Table == nil {
		return nil, connection.ErrMissingConnection
	}
	return connection.Static{Ref: cfg.Table}, nil
}

// ParseTableRef parses "project.dataset.table".
func ParseTableRef(s string) (*connection.TableRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("table %q must be project.dataset.table", s)
	}
	ref := &connection.TableRef{ProjectID: parts[0], DatasetID: parts[1], TableID: parts[2]}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return ref, nil
}

// reader collects parse errors so every bad variable is reported at once.
type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	var out []string
	for _, s := range strings.Split(r.str(key, ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// statements reads SQL statements separated by semicolons.
func (r *reader) statements(key string) []string {
	var out []string
	for _, s := range strings.Split(r.str(key, ""), ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// pairs reads "key=value,key=value".
func (r *reader) pairs(key string) map[string]string {
	items := r.list(key)
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			r.errs = append(r.errs, fmt.Errorf("%s: %q must be key=value", key, item))
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
