package format

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/txlens/txlens/pkg/executor"
	"github.com/txlens/txlens/pkg/logger"
	"github.com/txlens/txlens/pkg/reports"
	"github.com/txlens/txlens/pkg/translator"
)

func newTestFormatter(t *testing.T, mutate func(*Config)) *Formatter {
	t.Helper()
	cfg := &Config{Logger: logger.Discard()}
	if mutate != nil {
		mutate(cfg)
	}
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

func rowsOf(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"assetTicker": "BTC", "quantity": float64(i)}
	}
	return rows
}

func TestFormat_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(&Config{Logger: logger.Discard(), MaxDisplayRows: -1})
	require.ErrorContains(t, err, "must not be negative")

	cfg := &Config{Logger: logger.Discard()}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultMaxDisplayRows, cfg.MaxDisplayRows)
	require.Equal(t, DefaultDownloadLimit, cfg.DownloadLimit)
	require.Equal(t, float64(DefaultPercentScaleThreshold), cfg.PercentScaleThreshold)
}

func TestFormat_RowLimits(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, nil)

	out := f.Format(executor.Result{Success: true, Data: rowsOf(150)}, nil)
	require.Equal(t, 100, out.RawData.DisplayRows)
	require.True(t, out.RawData.Truncated)
	require.False(t, out.RawData.ExceedsDownloadLimit)
	require.Len(t, out.RawData.Rows, 150)
	require.Equal(t, 100, out.Metadata.RowCount)
	require.Equal(t, 150, out.Metadata.TotalRows)
	require.Contains(t, out.Text(), "Showing the first 100 of 150 rows.")

	out = f.Format(executor.Result{Success: true, Data: rowsOf(6000)}, nil)
	require.Equal(t, 100, out.RawData.DisplayRows)
	require.True(t, out.RawData.Truncated)
	require.True(t, out.RawData.ExceedsDownloadLimit)
	require.Contains(t, out.Text(), "6,000 rows, more than the 5,000-row download limit")

	out = f.Format(executor.Result{Success: true, Data: rowsOf(100)}, nil)
	require.Equal(t, 100, out.RawData.DisplayRows)
	require.False(t, out.RawData.Truncated)
}

func TestFormat_TableOnlyHoldsDisplayRows(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, func(c *Config) { c.MaxDisplayRows = 3 })
	out := f.Format(executor.Result{Success: true, Columns: []string{"assetTicker", "quantity"}, Data: rowsOf(5)}, nil)

	var table string
	for _, b := range out.Content {
		if b.Kind == BlockTable {
			table = b.Text
		}
	}
	require.NotEmpty(t, table)
	lines := strings.Split(table, "\n")
	// header, separator, three rows
	require.Len(t, lines, 5)
	require.Contains(t, lines[0], "assetTicker")
	require.True(t, strings.HasPrefix(lines[1], "|--"))
	require.Contains(t, lines[4], "| BTC")
}

func TestFormat_Headers(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{{"b": 1, "a": 2, "c": 3}}
	require.Equal(t, []string{"a", "b", "c"}, Headers(nil, rows))
	require.Equal(t, []string{"c", "a"}, Headers([]string{"c", "a"}, rows))
	require.Nil(t, Headers(nil, nil))
}

func TestFormat_Cells(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, nil)
	ts := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)

	tests := []struct {
		header string
		value  any
		want   string
	}{
		{"value", 1234.5, "$1,234.50"},
		{"totalValue", "98765.432", "$98,765.43"},
		{"fee", -3.1, "-$3.10"},
		{"realizedGains", int64(0), "$0.00"},
		{"value", "n/a", "n/a"},
		{"feePercent", 0.125, "12.50%"},
		{"winRate", 45.0, "45.00%"},
		{"ratio", "0.5", "50.00%"},
		{"operation", "buy", "buy"},
		{"timestamp", ts, "Mar 5, 2024, 2:07 PM"},
		{"date", "2024-01-01", "Jan 1, 2024, 12:00 AM"},
		{"createdAt", "2024-03-05T14:07:00Z", "Mar 5, 2024, 2:07 PM"},
		{"year", int64(2023), "2023"},
		{"quantity", 1234567.0, "1,234,567"},
		{"quantity", 0.25, "0.25"},
		{"isInternal", true, "true"},
		{"memo", []byte("hello"), "hello"},
		{"memo", nil, ""},
		{"tags", []string{"a", "b"}, "[a b]"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.header, tt.value), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, f.cell(headerKind(tt.header), tt.value))
		})
	}
}

func TestFormat_PercentScalingConfigurable(t *testing.T) {
	t.Parallel()

	off := newTestFormatter(t, func(c *Config) { c.PercentScaleThreshold = -1 })
	require.Equal(t, "0.50%", off.cell(kindPercent, 0.5))

	low := newTestFormatter(t, func(c *Config) { c.PercentScaleThreshold = 1 })
	require.Equal(t, "50.00%", low.cell(kindPercent, 0.5))
	require.Equal(t, "5.00%", low.cell(kindPercent, 5.0))
}

type panicky struct{}

func (panicky) String() string { panic("boom") }

func TestFormat_MalformedValuesDegrade(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, nil)
	require.Contains(t, f.cell(kindOther, panicky{}), "PANIC=String method: boom")

	out := f.Format(executor.Result{Success: true, Columns: []string{"memo", "missing"}, Data: []map[string]any{{"memo": panicky{}}}}, nil)
	require.NotNil(t, out.RawData)
	require.Equal(t, 1, out.Metadata.TotalRows)
}

func TestFormat_VisualizationHint(t *testing.T) {
	t.Parallel()

	series := func(n int, mk func(i int) map[string]any) []map[string]any {
		rows := make([]map[string]any, n)
		for i := range rows {
			rows[i] = mk(i)
		}
		return rows
	}

	tests := []struct {
		name    string
		headers []string
		rows    []map[string]any
		prefix  string
	}{
		{
			name:    "time and numeric",
			headers: []string{"date", "revenue"},
			rows: series(5, func(i int) map[string]any {
				return map[string]any{"date": fmt.Sprintf("2024-01-0%d", i+1), "revenue": float64(i * 10)}
			}),
			prefix: "Line chart",
		},
		{
			name:    "time values under a plain name",
			headers: []string{"bucket", "n"},
			rows: series(3, func(i int) map[string]any {
				return map[string]any{"bucket": time.Date(2024, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC), "n": i}
			}),
			prefix: "Line chart of n over bucket",
		},
		{
			name:    "category and count, many rows",
			headers: []string{"category", "count"},
			rows: series(15, func(i int) map[string]any {
				return map[string]any{"category": fmt.Sprintf("c%d", i), "count": i}
			}),
			prefix: "Bar chart",
		},
		{
			name:    "category and count, few rows",
			headers: []string{"category", "count"},
			rows: series(4, func(i int) map[string]any {
				return map[string]any{"category": fmt.Sprintf("c%d", i), "count": i}
			}),
			prefix: "Column chart of count by category",
		},
		{
			name:    "several measures",
			headers: []string{"assetTicker", "quantity", "value"},
			rows: series(4, func(i int) map[string]any {
				return map[string]any{"assetTicker": "BTC", "quantity": i, "value": i * 2}
			}),
			prefix: "Multi-series bar chart of quantity, value by assetTicker",
		},
		{
			name:    "single measure, many rows",
			headers: []string{"quantity"},
			rows:    series(25, func(i int) map[string]any { return map[string]any{"quantity": i} }),
			prefix:  "Histogram of quantity",
		},
		{
			name:    "two measures",
			headers: []string{"quantity", "value"},
			rows: series(8, func(i int) map[string]any {
				return map[string]any{"quantity": i, "value": i * 3}
			}),
			prefix: "Scatter plot of value against quantity",
		},
		{
			name:    "single category, many distinct",
			headers: []string{"counterparty"},
			rows: series(12, func(i int) map[string]any {
				return map[string]any{"counterparty": fmt.Sprintf("p%d", i)}
			}),
			prefix: "Treemap or pie chart of counterparty",
		},
		{
			name:    "single category, few distinct",
			headers: []string{"counterparty"},
			rows:    series(12, func(i int) map[string]any { return map[string]any{"counterparty": "p"} }),
			prefix:  TableView,
		},
		{
			name:    "no rows",
			headers: []string{"date", "revenue"},
			prefix:  TableView,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := VisualizationHint(tt.headers, tt.rows)
			require.True(t, strings.HasPrefix(got, tt.prefix), "got %q", got)
		})
	}
}

func TestFormat_Failure(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, nil)
	out := f.Format(executor.Result{
		Error:    &executor.ExecutionError{Message: "syntax error at or near LIMT", Details: "recoverable failure after 2 retries", Class: executor.ClassRecoverable},
		Metadata: executor.Metadata{RetryCount: 2, ExecutionTimeMs: 40},
	}, nil)

	require.Nil(t, out.RawData)
	require.Len(t, out.Content, 1)
	require.Equal(t, BlockError, out.Content[0].Kind)
	text := out.Content[0].Text
	require.Contains(t, text, "Error: syntax error at or near LIMT")
	require.Contains(t, text, "Details: recoverable failure after 2 retries")
	require.Contains(t, text, "Retried 2 times with corrections.")
	require.Contains(t, text, "Suggestions:\n- Rephrase")
	require.Equal(t, 2, out.Metadata.RetryCount)

	out = f.Format(executor.Result{Error: &executor.ExecutionError{Message: "permission denied"}}, nil)
	require.NotContains(t, out.Content[0].Text, "Retried")
	require.NotContains(t, out.Content[0].Text, "Details:")
}

func TestFormat_ZeroRows(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, nil)
	out := f.Format(executor.Result{Success: true, Columns: []string{"value"}}, &translator.TranslationResult{InterpretedQuery: "Show transactions over $1,000,000"})

	require.Equal(t, TableView, out.Metadata.VisualizationHint)
	require.Equal(t, 0, out.RawData.DisplayRows)
	require.Equal(t, "Results for: Show transactions over $1,000,000", out.Content[0].Text)
	require.Equal(t, BlockNote, out.Content[1].Kind)
	require.Contains(t, out.Content[1].Text, "No rows matched")
}

func TestFormat_PerformanceMetrics(t *testing.T) {
	t.Parallel()

	bytes := int64(3 * 1024 * 1024 / 2)
	res := executor.Result{Success: true, Data: rowsOf(150), Metadata: executor.Metadata{ExecutionTimeMs: 1234, BytesProcessed: &bytes}}

	out := newTestFormatter(t, nil).Format(res, nil)
	for _, b := range out.Content {
		require.NotEqual(t, BlockPerformance, b.Kind)
	}

	out = newTestFormatter(t, func(c *Config) { c.ShowPerformanceMetrics = true }).Format(res, nil)
	last := out.Content[len(out.Content)-1]
	require.Equal(t, BlockPerformance, last.Kind)
	require.Equal(t, "Rows: 100 of 150 | Time: 1.23s | Processed: 1.50 MB", last.Text)

	res.Metadata.BytesProcessed = nil
	out = newTestFormatter(t, func(c *Config) { c.ShowPerformanceMetrics = true }).Format(res, nil)
	require.Equal(t, "Rows: 100 of 150 | Time: 1.23s", out.Content[len(out.Content)-1].Text)
}

func TestFormat_WithSummary(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, nil)
	out := f.WithSummary(Result{}, "Monthly activity", reports.Summary{
		Records:    1200,
		Dimensions: []string{"assetTicker"},
		Distinct:   map[string]int{"assetTicker": 3},
		Measures:   []string{"totalValue"},
		Totals:     map[string]float64{"totalValue": 1500.25},
	})
	require.Len(t, out.Content, 1)
	require.Equal(t, BlockSummary, out.Content[0].Kind)
	require.Equal(t, "Monthly activity\n- 1,200 records\n- 3 distinct assetTicker\n- total totalValue: 1,500.25", out.Content[0].Text)
}
