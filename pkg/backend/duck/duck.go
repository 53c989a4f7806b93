// Package duck runs queries against DuckDB through database/sql.
package duck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/duckdb/duckdb-go/v2"

	"github.com/txlens/txlens/pkg/connection"
	"github.com/txlens/txlens/pkg/executor"
)

type Config struct {
	Logger *slog.Logger

	// Path is the database file; empty opens an in-memory database.
	Path string

	// Attach maps catalog names to database files attached read-only, so
	// table references can name them as "catalog"."schema"."table".
	Attach map[string]string

	// Setup statements run once after opening, e.g. loading extensions.
	Setup []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	for name, path := range cfg.Attach {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(path) == "" {
			return errors.New("attached databases need a name and a path")
		}
	}
	return nil
}

type Backend struct {
	log *slog.Logger
	db  *sql.DB
}

// New opens DuckDB and runs the configured attachments and setup.
func New(ctx context.Context, cfg *Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for name, path := range cfg.Attach {
		stmt := fmt.Sprintf("ATTACH %s AS %s (READ_ONLY)", quoteLiteral(path), connection.QuoteIdent(name))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to attach %s: %w", name, err)
		}
	}
	for _, stmt := range cfg.Setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run setup statement: %w", err)
		}
	}
	cfg.Logger.Info("duck: database opened", "path", cfg.Path, "attached", len(cfg.Attach))
	return &Backend{log: cfg.Logger, db: db}, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(log *slog.Logger, db *sql.DB) *Backend {
	return &Backend{log: log, db: db}
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// Dialect renders table references for DuckDB.
func (b *Backend) Dialect() connection.Dialect {
	return connection.ANSI{}
}

// LoadCSV creates or replaces the referenced table from a CSV file. It is
// meant for local datasets and demos; the schema is created when missing.
func (b *Backend) LoadCSV(ctx context.Context, ref connection.TableRef, path string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	schema := connection.QuoteIdent(ref.ProjectID) + "." + connection.QuoteIdent(ref.DatasetID)
	if _, err := b.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s)", connection.ANSI{}.QualifyTable(ref), quoteLiteral(path))
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	b.log.Info("duck: loaded table", "table", ref.String(), "path", path)
	return nil
}

// Query binds params by name; @name placeholders are rewritten to DuckDB's
// $name.
func (b *Backend) Query(ctx context.Context, query string, params map[string]any) (*executor.BackendResult, error) {
	query, args := bind(query, params)

	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	b.log.Debug("duck: query finished", "rows", len(out))
	return &executor.BackendResult{Columns: columns, Rows: out}, nil
}

func bind(query string, params map[string]any) (string, []any) {
	seen := map[string]bool{}
	var args []any
	rewritten := executor.RewritePlaceholders(query, func(name string) string {
		if v, ok := params[name]; ok && !seen[name] {
			seen[name] = true
			args = append(args, sql.Named(name, v))
		}
		return "$" + name
	})
	return rewritten, args
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case duckdb.Decimal:
		return x.Float64()
	}
	return v
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// queryError carries the executor class decided from DuckDB's error type.
type queryError struct {
	err   error
	class executor.Class
}

func (e *queryError) Error() string         { return e.err.Error() }
func (e *queryError) Unwrap() error         { return e.err }
func (e *queryError) Class() executor.Class { return e.class }

// classify maps DuckDB error types to executor classes. An interrupt joined
// with a deadline is a timed-out attempt and can be retried; any other
// interrupt is a cancellation.
func classify(err error) error {
	var derr *duckdb.Error
	if !errors.As(err, &derr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return &queryError{err: err, class: executor.ClassRecoverable}
	}
	switch derr.Type {
	case duckdb.ErrorTypeCatalog, duckdb.ErrorTypePermission, duckdb.ErrorTypeInterrupt:
		return &queryError{err: err, class: executor.ClassFatal}
	case duckdb.ErrorTypeParser, duckdb.ErrorTypeBinder, duckdb.ErrorTypeConversion:
		return &queryError{err: err, class: executor.ClassRecoverable}
	}
	return err
}
