package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/txlens/txlens/pkg/connection"
	"github.com/txlens/txlens/pkg/executor"
)

var envVars = []string{
	"TXLENS_BACKEND", "TXLENS_DUCKDB_PATH", "TXLENS_DUCKDB_CSV", "TXLENS_DUCKDB_ATTACH", "TXLENS_DUCKDB_SETUP",
	"CLICKHOUSE_ADDR", "CLICKHOUSE_DATABASE", "CLICKHOUSE_USERNAME", "CLICKHOUSE_PASSWORD", "CLICKHOUSE_DISABLE_TLS",
	"TXLENS_TABLE_MAPPING", "TXLENS_TABLE", "TXLENS_SCHEMA_TYPE", "TXLENS_CATALOG_DIR", "TXLENS_ASSETS",
	"TXLENS_LLM", "ANTHROPIC_API_KEY", "TXLENS_ANTHROPIC_MODEL", "OLLAMA_URL", "TXLENS_OLLAMA_MODEL", "TXLENS_HINT_CACHE_TTL",
	"TXLENS_MAX_RETRIES", "TXLENS_ATTEMPT_TIMEOUT", "TXLENS_MAX_ROWS", "TXLENS_MAX_DISPLAY_ROWS", "TXLENS_DOWNLOAD_LIMIT",
	"TXLENS_PERCENT_SCALE_THRESHOLD", "TXLENS_SHOW_SQL", "TXLENS_SHOW_PERFORMANCE",
	"TXLENS_HTTP_ADDR", "TXLENS_WORKERS", "TXLENS_PENDING_TTL",
}

// clearEnv unsets every variable the loader reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		errContains string
		check       func(*testing.T, *Config)
	}{
		{
			name: "defaults with a static table",
			env:  map[string]string{"TXLENS_TABLE": "ledger.main.transactions"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, BackendDuckDB, cfg.Backend)
				require.Equal(t, LLMNone, cfg.LLM)
				require.Equal(t, &connection.TableRef{ProjectID: "ledger", DatasetID: "main", TableID: "transactions"}, cfg.Table)
				require.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
				require.Equal(t, DefaultWorkers, cfg.Workers)
				require.Equal(t, DefaultHintCacheTTL, cfg.HintCacheTTL)
				require.Equal(t, "default", cfg.ClickhouseDatabase)
				require.Equal(t, executor.DefaultMaxRetries, cfg.MaxRetries)

				tables, err := cfg.Tables()
				require.NoError(t, err)
				require.Equal(t, connection.Static{Ref: cfg.Table}, tables)
			},
		},
		{
			name: "clickhouse with anthropic",
			env: map[string]string{
				"TXLENS_BACKEND":         "ClickHouse",
				"CLICKHOUSE_ADDR":        "https://ch.example.com:9440",
				"CLICKHOUSE_DISABLE_TLS": "true",
				"ANTHROPIC_API_KEY":      "sk-test",
				"TXLENS_TABLE":           "p.ledger.tx",
				"TXLENS_MAX_RETRIES":     "3",
				"TXLENS_ATTEMPT_TIMEOUT": "30s",
				"TXLENS_ASSETS":          "BTC, ETH,,SOL",
			},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, BackendClickHouse, cfg.Backend)
				require.True(t, cfg.ClickhouseDisableTLS)
				require.Equal(t, LLMAnthropic, cfg.LLM)
				require.Equal(t, DefaultAnthropicModel, cfg.AnthropicModel)
				require.Equal(t, 3, cfg.MaxRetries)
				require.Equal(t, 30*time.Second, cfg.AttemptTimeout)
				require.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.Assets)
			},
		},
		{
			name: "retries disabled",
			env:  map[string]string{"TXLENS_TABLE": "p.d.t", "TXLENS_MAX_RETRIES": "0"},
			check: func(t *testing.T, cfg *Config) {
				require.Zero(t, cfg.MaxRetries)
			},
		},
		{
			name: "ollama picked from url",
			env:  map[string]string{"OLLAMA_URL": "http://localhost:11434", "TXLENS_TABLE": "p.d.t"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, LLMOllama, cfg.LLM)
				require.Equal(t, DefaultOllamaModel, cfg.OllamaModel)
			},
		},
		{
			name: "negative percent threshold",
			env:  map[string]string{"TXLENS_TABLE": "p.d.t", "TXLENS_PERCENT_SCALE_THRESHOLD": "-1"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, -1.0, cfg.PercentScaleThreshold)
			},
		},
		{
			name: "duckdb csv pairs",
			env:  map[string]string{"TXLENS_TABLE": "memory.ledger.tx", "TXLENS_DUCKDB_CSV": "memory.ledger.tx=./tx.csv"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, map[string]string{"memory.ledger.tx": "./tx.csv"}, cfg.DuckDBCSV)
			},
		},
		{
			name: "duckdb attach and setup",
			env: map[string]string{
				"TXLENS_TABLE":         "ledger.main.tx",
				"TXLENS_DUCKDB_ATTACH": "ledger=./ledger.duckdb, archive=/data/archive.duckdb",
				"TXLENS_DUCKDB_SETUP":  "INSTALL httpfs; LOAD httpfs;",
			},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, map[string]string{"ledger": "./ledger.duckdb", "archive": "/data/archive.duckdb"}, cfg.DuckDBAttach)
				require.Equal(t, []string{"INSTALL httpfs", "LOAD httpfs"}, cfg.DuckDBSetup)
			},
		},
		{
			name:        "missing table",
			env:         map[string]string{},
			errContains: "TXLENS_TABLE or TXLENS_TABLE_MAPPING is required",
		},
		{
			name:        "clickhouse without addr",
			env:         map[string]string{"TXLENS_BACKEND": "clickhouse", "TXLENS_TABLE": "p.d.t"},
			errContains: "CLICKHOUSE_ADDR is required",
		},
		{
			name:        "unknown backend",
			env:         map[string]string{"TXLENS_BACKEND": "bigquery", "TXLENS_TABLE": "p.d.t"},
			errContains: "TXLENS_BACKEND must be",
		},
		{
			name:        "anthropic without key",
			env:         map[string]string{"TXLENS_LLM": "anthropic", "TXLENS_TABLE": "p.d.t"},
			errContains: "ANTHROPIC_API_KEY is required",
		},
		{
			name:        "bad table",
			env:         map[string]string{"TXLENS_TABLE": "main.transactions"},
			errContains: "must be project.dataset.table",
		},
		{
			name:        "every bad value is reported",
			env:         map[string]string{"TXLENS_TABLE": "p.d.t", "TXLENS_MAX_RETRIES": "two", "TXLENS_PENDING_TTL": "soon"},
			errContains: "TXLENS_MAX_RETRIES: invalid integer \"two\"\nTXLENS_PENDING_TTL: invalid duration \"soon\"",
		},
		{
			name:        "bad csv pair",
			env:         map[string]string{"TXLENS_TABLE": "p.d.t", "TXLENS_DUCKDB_CSV": "tx.csv"},
			errContains: "must be key=value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadFromEnv()
			if tt.errContains != "" {
				require.ErrorContains(t, err, tt.errContains)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfig_LoadFromEnvFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TXLENS_TABLE=ledger.main.transactions\nTXLENS_WORKERS=2\nTXLENS_SHOW_SQL=true\n"), 0o600))
	t.Setenv("TXLENS_WORKERS", "4")

	cfg, err := LoadFromEnv(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "transactions", cfg.Table.TableID)
	require.Equal(t, 4, cfg.Workers)
	require.True(t, cfg.ShowSQL)
}

func TestConfig_TablesFromMappingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default: crypto_transaction\ntables:\n  crypto_transaction: {project_id: ledger, dataset_id: main, table_id: transactions}\n"), 0o600))

	cfg := &Config{TableMappingPath: path}
	tables, err := cfg.Tables()
	require.NoError(t, err)
	ref, err := tables.For("crypto_transaction").Resolve(t.Context())
	require.NoError(t, err)
	require.Equal(t, "transactions", ref.TableID)

	_, err = (&Config{}).Tables()
	require.ErrorIs(t, err, connection.ErrMissingConnection)
}
