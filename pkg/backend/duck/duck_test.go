package duck

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cenkalti/backoff/v5"
	"github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/require"

	"github.com/txlens/txlens/pkg/connection"
	"github.com/txlens/txlens/pkg/executor"
	"github.com/txlens/txlens/pkg/logger"
)

func TestDuck_Bind(t *testing.T) {
	t.Parallel()

	query, args := bind("SELECT * FROM t WHERE walletId = @walletId AND memo <> '@walletId' AND d >= @start AND w2 = @walletId",
		map[string]any{"walletId": "w1", "start": "2024-01-01"})
	require.Equal(t, "SELECT * FROM t WHERE walletId = $walletId AND memo <> '@walletId' AND d >= $start AND w2 = $walletId", query)
	require.Equal(t, []any{sql.Named("walletId", "w1"), sql.Named("start", "2024-01-01")}, args)
}

func TestDuck_QueryWithMock(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT assetTicker, quantity FROM "memory"."main"."tx" WHERE walletId = $p1`).
		WithArgs(sql.Named("p1", "w1")).
		WillReturnRows(sqlmock.NewRows([]string{"assetTicker", "quantity"}).
			AddRow([]byte("BTC"), 1.5).
			AddRow("ETH", nil))

	b := NewWithDB(logger.Discard(), db)
	res, err := b.Query(context.Background(), `SELECT assetTicker, quantity FROM "memory"."main"."tx" WHERE walletId = @p1`, map[string]any{"p1": "w1"})
	require.NoError(t, err)
	require.Equal(t, []string{"assetTicker", "quantity"}, res.Columns)
	require.Equal(t, []map[string]any{
		{"assetTicker": "BTC", "quantity": 1.5},
		{"assetTicker": "ETH", "quantity": nil},
	}, res.Rows)
	require.Nil(t, res.BytesProcessed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuck_QueryErrorPassesThrough(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("Parser Error: syntax error at or near \"FORM\""))

	_, err = NewWithDB(logger.Discard(), db).Query(context.Background(), "SELECT 1 FORM t", nil)
	require.Error(t, err)
	require.Equal(t, executor.ClassRecoverable, executor.Classify(err))
}

func TestDuck_Classify(t *testing.T) {
	t.Parallel()

	err := classify(&duckdb.Error{Type: duckdb.ErrorTypeCatalog, Msg: "Catalog Error: Table with name tx does not exist!"})
	require.Equal(t, executor.ClassFatal, executor.Classify(err))

	err = classify(&duckdb.Error{Type: duckdb.ErrorTypeBinder, Msg: `Binder Error: Referenced column "foo" not found`})
	require.Equal(t, executor.ClassRecoverable, executor.Classify(err))
	var derr *duckdb.Error
	require.ErrorAs(t, err, &derr)

	plain := errors.New("boom")
	require.Equal(t, plain, classify(plain))
}

func TestDuck_ClassifyInterrupt(t *testing.T) {
	t.Parallel()

	interrupt := &duckdb.Error{Type: duckdb.ErrorTypeInterrupt, Msg: "INTERRUPT Error: Interrupted!"}
	tests := []struct {
		name string
		err  error
		want executor.Class
	}{
		{name: "attempt deadline", err: errors.Join(context.DeadlineExceeded, interrupt), want: executor.ClassRecoverable},
		{name: "cancelled", err: errors.Join(context.Canceled, interrupt), want: executor.ClassFatal},
		{name: "bare interrupt", err: interrupt, want: executor.ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, executor.Classify(classify(tt.err)))
		})
	}
}

func TestDuck_AttemptTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	b, err := New(context.Background(), &Config{Logger: logger.Discard()})
	require.NoError(t, err)
	defer b.Close()

	exec, err := executor.New(&executor.Config{
		Logger:         logger.Discard(),
		Backend:        b,
		MaxRetries:     2,
		AttemptTimeout: 50 * time.Millisecond,
		NewBackOff:     func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	require.NoError(t, err)

	res := exec.Execute(context.Background(), "SELECT count(*) FROM range(100000000000)", nil)
	require.False(t, res.Success)
	require.Equal(t, 2, res.Metadata.RetryCount)
	require.Equal(t, executor.ClassRecoverable, res.Error.Class)
}

func TestDuck_Config_Validate(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, (&Config{}).Validate(), "logger is required")
	require.ErrorContains(t, (&Config{Logger: logger.Discard(), Attach: map[string]string{"ledger": ""}}).Validate(), "need a name and a path")
}

func TestDuck_InMemoryEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, err := New(ctx, &Config{Logger: logger.Discard()})
	require.NoError(t, err)
	defer b.Close()

	csv := filepath.Join(t.TempDir(), "tx.csv")
	require.NoError(t, os.WriteFile(csv, []byte("walletId,assetTicker,quantity\nw1,BTC,1.5\nw1,ETH,2\nw2,BTC,4\n"), 0o644))

	ref := connection.TableRef{ProjectID: "memory", DatasetID: "ledger", TableID: "transactions"}
	require.NoError(t, b.LoadCSV(ctx, ref, csv))

	table, err := connection.Qualified(ctx, connection.Static{Ref: &ref}, b.Dialect())
	require.NoError(t, err)

	res, err := b.Query(ctx, "SELECT assetTicker, SUM(quantity) AS total FROM "+table+" WHERE walletId = @walletId GROUP BY assetTicker ORDER BY assetTicker",
		map[string]any{"walletId": "w1"})
	require.NoError(t, err)
	require.Equal(t, []string{"assetTicker", "total"}, res.Columns)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "BTC", res.Rows[0]["assetTicker"])
	require.InDelta(t, 1.5, res.Rows[0]["total"], 1e-9)

	_, err = b.Query(ctx, `SELECT * FROM "memory"."ledger"."missing"`, nil)
	require.Error(t, err)
	require.Equal(t, executor.ClassFatal, executor.Classify(err))
}

func TestDuck_AttachAndSetup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.duckdb")
	src, err := New(ctx, &Config{
		Logger: logger.Discard(),
		Path:   path,
		Setup:  []string{"CREATE TABLE transactions AS SELECT 'w1' AS walletId, 42 AS quantity"},
	})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	b, err := New(ctx, &Config{Logger: logger.Discard(), Attach: map[string]string{"ledger": path}})
	require.NoError(t, err)
	defer b.Close()

	res, err := b.Query(ctx, `SELECT quantity FROM "ledger"."main"."transactions" WHERE walletId = @walletId`, map[string]any{"walletId": "w1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 42, res.Rows[0]["quantity"])

	_, err = b.db.ExecContext(ctx, `INSERT INTO "ledger"."main"."transactions" VALUES ('w2', 1)`)
	require.Error(t, err)

	_, err = New(ctx, &Config{Logger: logger.Discard(), Setup: []string{"SELEC 1"}})
	require.ErrorContains(t, err, "failed to run setup statement")
}
