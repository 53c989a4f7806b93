// Package executor runs read-only queries against a backend, rewriting and
// retrying the ones that fail for recoverable reasons.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"

	"github.com/txlens/txlens/pkg/llm"
	"github.com/txlens/txlens/pkg/metrics"
)

const (
	DefaultMaxRetries     = 2
	DefaultAttemptTimeout = 60 * time.Second

	maxMessageLength = 500
)

// BackendResult is what a backend returns for one successful query.
// BytesProcessed is nil when the backend does not report it.
type BackendResult struct {
	Columns        []string
	Rows           []map[string]any
	BytesProcessed *int64
}

// Backend runs one query with named parameters referenced as @name.
type Backend interface {
	Query(ctx context.Context, sql string, params map[string]any) (*BackendResult, error)
}

type ExecutionError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Class   Class  `json:"class"`
}

type Metadata struct {
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	BytesProcessed  *int64   `json:"bytesProcessed,omitempty"`
	RetryCount      int      `json:"retryCount"`
	SQL             string   `json:"sql,omitempty"`
	Rewrites        []string `json:"rewrites,omitempty"`
}

// Result is the outcome of Execute. Exactly one of Data and Error is
// meaningful, according to Success.
type Result struct {
	Success  bool             `json:"success"`
	Columns  []string         `json:"columns,omitempty"`
	Data     []map[string]any `json:"data,omitempty"`
	Error    *ExecutionError  `json:"error,omitempty"`
	Metadata Metadata         `json:"metadata"`
}

type Config struct {
	Logger  *slog.Logger
	Backend Backend

	// Rewriters are asked in order for a correction after a recoverable
	// failure. The first that answers wins.
	Rewriters []Rewriter

	// MaxRetries counts attempts after the first; zero disables retries.
	MaxRetries     int
	AttemptTimeout time.Duration

	// NewBackOff returns the delay policy for one execution.
	NewBackOff func() backoff.BackOff

	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.Rewriters == nil {
		cfg.Rewriters = DefaultRewriters()
	}
	if cfg.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Executor struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute runs sql with params. It never returns an error: failures, including
// panics in the backend, come back as a Result with Success false.
func (e *Executor) Execute(ctx context.Context, sql string, params map[string]any) (result Result) {
	start := e.cfg.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("executor: panic during execution", "panic", r)
			result = Result{Error: &ExecutionError{Message: "internal error while running the query", Details: fmt.Sprint(r), Class: ClassFatal}}
		}
		result.Metadata.ExecutionTimeMs = e.cfg.Clock.Since(start).Milliseconds()
		metrics.RecordQuery(e.cfg.Clock.Since(start), result.Success)
	}()

	sql = llm.CleanSQL(sql)
	if params == nil {
		params = map[string]any{}
	}
	if err := CheckReadOnly(sql); err != nil {
		return failure(err, ClassValidation, 0, sql, nil)
	}
	if err := CheckParams(sql, params); err != nil {
		return failure(err, ClassValidation, 0, sql, nil)
	}

	current, currentParams := sql, params
	var (
		attempts int
		lastErr  error
		rewrites []string
	)
	res, err := backoff.Retry(ctx, func() (*BackendResult, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()

		r, err := e.cfg.Backend.Query(actx, current, currentParams)
		if err == nil {
			metrics.QueryAttemptsTotal.WithLabelValues("success").Inc()
			return r, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			metrics.QueryAttemptsTotal.WithLabelValues(string(ClassFatal)).Inc()
			return nil, backoff.Permanent(err)
		}
		class := Classify(err)
		metrics.QueryAttemptsTotal.WithLabelValues(string(class)).Inc()
		if class != ClassRecoverable {
			e.log.Info("executor: query failed", "attempt", attempts, "class", class, "error", err)
			return nil, backoff.Permanent(err)
		}
		if attempts > e.cfg.MaxRetries {
			return nil, err
		}

		if rw, ok := e.rewrite(ctx, current, currentParams, err); ok {
			current, currentParams = rw.SQL, rw.Params
			rewrites = append(rewrites, rw.Description)
		}
		metrics.QueryRetriesTotal.Inc()
		e.log.Warn("executor: query failed, retrying", "attempt", attempts, "max_retries", e.cfg.MaxRetries, "error", err, "rewrites", len(rewrites))
		return nil, err
	}, backoff.WithBackOff(e.cfg.NewBackOff()), backoff.WithMaxTries(uint(e.cfg.MaxRetries+1)))

	retries := max(attempts-1, 0)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		class := Classify(lastErr)
		if ctx.Err() != nil {
			class = ClassFatal
		}
		e.log.Info("executor: giving up", "attempts", attempts, "class", class, "error", lastErr)
		return failure(lastErr, class, retries, current, rewrites)
	}

	if retries > 0 {
		e.log.Info("executor: query succeeded after retries", "attempts", attempts, "rewrites", rewrites)
	}
	return Result{
		Success: true,
		Columns: res.Columns,
		Data:    res.Rows,
		Metadata: Metadata{
			BytesProcessed: res.BytesProcessed,
			RetryCount:     retries,
			SQL:            current,
			Rewrites:       rewrites,
		},
	}
}

// rewrite asks each rewriter in turn and keeps the first correction that
// still honours the parameter contract.
func (e *Executor) rewrite(ctx context.Context, sql string, params map[string]any, cause error) (Rewrite, bool) {
	for _, rw := range e.cfg.Rewriters {
		next, ok := rw.Rewrite(ctx, sql, params, cause)
		if !ok {
			continue
		}
		if err := CheckReadOnly(next.SQL); err != nil {
			e.log.Warn("executor: discarding rewrite", "error", err)
			continue
		}
		if err := CheckParams(next.SQL, next.Params); err != nil {
			e.log.Warn("executor: discarding rewrite", "error", err)
			continue
		}
		e.log.Debug("executor: rewrote query", "rewrite", next.Description)
		return next, true
	}
	return Rewrite{}, false
}

func failure(err error, class Class, retries int, sql string, rewrites []string) Result {
	msg := truncate(firstLine(err.Error()), maxMessageLength)
	details := fmt.Sprintf("%s failure", class)
	if retries > 0 {
		details += fmt.Sprintf(" after %d retries", retries)
	}
	if len(rewrites) > 0 {
		details += "; tried: " + strings.Join(rewrites, "; ")
	}
	return Result{
		Error: &ExecutionError{Message: msg, Details: details, Class: class},
		Metadata: Metadata{
			RetryCount: retries,
			SQL:        sql,
			Rewrites:   rewrites,
		},
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
