// Package clickhouse runs queries against ClickHouse over the native protocol.
package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/txlens/txlens/pkg/connection"
	"github.com/txlens/txlens/pkg/executor"
)

const DefaultMaxExecutionTime = 60 * time.Second

// Conn is the part of a ClickHouse connection the backend uses.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Close() error
}

type Config struct {
	Logger   *slog.Logger
	Addr     string
	Database string
	Username string
	Password string

	// DisableTLS is for local development only.
	DisableTLS bool

	MaxExecutionTime time.Duration
	DialTimeout      time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = DefaultMaxExecutionTime
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return nil
}

func (cfg *Config) options() *clickhouse.Options {
	addr := strings.TrimPrefix(strings.TrimPrefix(cfg.Addr, "https://"), "http://")
	opts := &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.MaxExecutionTime.Seconds()),
		},
		DialTimeout: cfg.DialTimeout,
	}
	if !cfg.DisableTLS {
		opts.TLS = &tls.Config{}
	}
	return opts
}

type Backend struct {
	log  *slog.Logger
	conn Conn
}

func New(ctx context.Context, cfg *Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	conn, err := clickhouse.Open(cfg.options())
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	cfg.Logger.Info("clickhouse: client initialized", "addr", cfg.Addr, "database", cfg.Database)
	return &Backend{log: cfg.Logger, conn: conn}, nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(log *slog.Logger, conn Conn) *Backend {
	return &Backend{log: log, conn: conn}
}

func (b *Backend) Close() error {
	return b.conn.Close()
}

// Dialect renders table references for ClickHouse.
func (b *Backend) Dialect() connection.Dialect {
	return Dialect{}
}

// Dialect renders "dataset"."table"; ClickHouse has no project level.
type Dialect struct{}

func (Dialect) Name() string { return "clickhouse" }

func (Dialect) QualifyTable(ref connection.TableRef) string {
	return connection.QuoteIdent(ref.DatasetID) + "." + connection.QuoteIdent(ref.TableID)
}

// Query binds params with clickhouse.Named, which uses the same @name
// placeholders. Bytes read are taken from the server's progress packets.
func (b *Backend) Query(ctx context.Context, query string, params map[string]any) (*executor.BackendResult, error) {
	var args []any
	for _, name := range executor.Placeholders(query) {
		if v, ok := params[name]; ok {
			args = append(args, clickhouse.Named(name, v))
		}
	}

	var bytesRead atomic.Int64
	ctx = clickhouse.Context(ctx, clickhouse.WithProgress(progress(&bytesRead)))

	rows, err := b.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	columns := rows.Columns()
	types := rows.ColumnTypes()
	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = deref(dest[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	res := &executor.BackendResult{Columns: columns, Rows: out}
	if n := bytesRead.Load(); n > 0 {
		res.BytesProcessed = &n
	}
	b.log.Debug("clickhouse: query finished", "rows", len(out), "bytes", bytesRead.Load())
	return res, nil
}

func progress(total *atomic.Int64) func(*clickhouse.Progress) {
	return func(p *clickhouse.Progress) {
		total.Add(int64(p.Bytes))
	}
}

// deref unwraps the pointer allocated for scanning. Nullable columns scan
// into a pointer to a pointer; a nil inner pointer is NULL.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

// Server exception codes, from ClickHouse's ErrorCodes.
var (
	fatalCodes = map[int32]bool{
		60:  true, // UNKNOWN_TABLE
		81:  true, // UNKNOWN_DATABASE
		164: true, // READONLY
		291: true, // DATABASE_ACCESS_DENIED
		394: true, // QUERY_WAS_CANCELLED
		497: true, // ACCESS_DENIED
		516: true, // AUTHENTICATION_FAILED
	}
	recoverableCodes = map[int32]bool{
		6:   true, // CANNOT_PARSE_TEXT
		16:  true, // NO_SUCH_COLUMN_IN_TABLE
		43:  true, // ILLEGAL_TYPE_OF_ARGUMENT
		46:  true, // UNKNOWN_FUNCTION
		47:  true, // UNKNOWN_IDENTIFIER
		53:  true, // TYPE_MISMATCH
		62:  true, // SYNTAX_ERROR
		159: true, // TIMEOUT_EXCEEDED
		215: true, // NOT_AN_AGGREGATE
		386: true, // NO_COMMON_TYPE
	}
)

type queryError struct {
	err   error
	class executor.Class
}

func (e *queryError) Error() string         { return e.err.Error() }
func (e *queryError) Unwrap() error         { return e.err }
func (e *queryError) Class() executor.Class { return e.class }

func classify(err error) error {
	var ex *clickhouse.Exception
	if !errors.As(err, &ex) {
		return err
	}
	switch {
	case fatalCodes[ex.Code]:
		return &queryError{err: err, class: executor.ClassFatal}
	case recoverableCodes[ex.Code]:
		return &queryError{err: err, class: executor.ClassRecoverable}
	}
	return err
}
