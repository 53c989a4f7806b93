// Package format turns execution results into text blocks, a display table
// and a visualization hint.
package format

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/txlens/txlens/pkg/executor"
	"github.com/txlens/txlens/pkg/reports"
	"github.com/txlens/txlens/pkg/translator"
)

const (
	DefaultMaxDisplayRows        = 100
	DefaultDownloadLimit         = 5000
	DefaultPercentScaleThreshold = 10
)

// DefaultSuggestions are offered with every failure.
var DefaultSuggestions = []string{
	"Rephrase the question with the exact column or asset names you are interested in.",
	"Simplify the question, for example by asking for a shorter time range or fewer filters.",
	"Check that the column names you mentioned exist in this dataset.",
}

var emptySuggestions = []string{
	"Widen the time range or remove a filter.",
	"Check the spelling of asset tickers, wallet ids and statuses.",
}

type BlockKind string

const (
	BlockText        BlockKind = "text"
	BlockTable       BlockKind = "table"
	BlockNote        BlockKind = "note"
	BlockError       BlockKind = "error"
	BlockSummary     BlockKind = "summary"
	BlockPerformance BlockKind = "performance"
)

type TextBlock struct {
	Kind BlockKind `json:"kind"`
	Text string    `json:"text"`
}

// RawData keeps the unformatted rows for download alongside what is shown.
type RawData struct {
	Headers              []string         `json:"headers"`
	Rows                 []map[string]any `json:"rows"`
	DisplayRows          int              `json:"displayRows"`
	Truncated            bool             `json:"truncated"`
	ExceedsDownloadLimit bool             `json:"exceedsDownloadLimit"`
}

type Metadata struct {
	RowCount          int    `json:"rowCount"`
	TotalRows         int    `json:"totalRows"`
	ExecutionTimeMs   int64  `json:"executionTimeMs"`
	BytesProcessed    *int64 `json:"bytesProcessed,omitempty"`
	RetryCount        int    `json:"retryCount"`
	VisualizationHint string `json:"visualizationHint,omitempty"`
}

type Result struct {
	Content  []TextBlock `json:"content"`
	RawData  *RawData    `json:"rawData,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// Text joins the blocks with blank lines.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n\n")
}

type Config struct {
	Logger *slog.Logger

	MaxDisplayRows int
	DownloadLimit  int

	// PercentScaleThreshold: percentage values with a magnitude below it are
	// taken as fractions and multiplied by 100. Negative disables scaling;
	// zero means the default.
	PercentScaleThreshold float64

	ShowPerformanceMetrics bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.MaxDisplayRows < 0 || cfg.DownloadLimit < 0 {
		return errors.New("row limits must not be negative")
	}
	if cfg.MaxDisplayRows == 0 {
		cfg.MaxDisplayRows = DefaultMaxDisplayRows
	}
	if cfg.DownloadLimit == 0 {
		cfg.DownloadLimit = DefaultDownloadLimit
	}
	if cfg.PercentScaleThreshold == 0 {
		cfg.PercentScaleThreshold = DefaultPercentScaleThreshold
	}
	return nil
}

type Formatter struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Formatter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Formatter{log: cfg.Logger, cfg: cfg}, nil
}

// Format renders an execution result. tr may be nil, for report runs.
func (f *Formatter) Format(res executor.Result, tr *translator.TranslationResult) Result {
	meta := Metadata{
		ExecutionTimeMs: res.Metadata.ExecutionTimeMs,
		BytesProcessed:  res.Metadata.BytesProcessed,
		RetryCount:      res.Metadata.RetryCount,
	}
	if !res.Success {
		return Result{Content: []TextBlock{f.errorBlock(res)}, Metadata: meta}
	}

	var content []TextBlock
	if tr != nil && tr.InterpretedQuery != "" {
		content = append(content, TextBlock{Kind: BlockText, Text: "Results for: " + tr.InterpretedQuery})
	}

	total := len(res.Data)
	headers := Headers(res.Columns, res.Data)
	display := min(total, f.cfg.MaxDisplayRows)
	raw := &RawData{
		Headers:              headers,
		Rows:                 res.Data,
		DisplayRows:          display,
		Truncated:            total > f.cfg.MaxDisplayRows,
		ExceedsDownloadLimit: total > f.cfg.DownloadLimit,
	}
	meta.RowCount = display
	meta.TotalRows = total

	if total == 0 {
		content = append(content, TextBlock{Kind: BlockNote, Text: "No rows matched your question.\n\nSuggestions:\n" + bullets(emptySuggestions)})
		meta.VisualizationHint = TableView
	} else {
		content = append(content, TextBlock{Kind: BlockTable, Text: f.table(headers, res.Data[:display])})
		if raw.Truncated {
			content = append(content, TextBlock{Kind: BlockNote, Text: fmt.Sprintf("Showing the first %s of %s rows.", humanize.Comma(int64(display)), humanize.Comma(int64(total)))})
		}
		if raw.ExceedsDownloadLimit {
			content = append(content, TextBlock{Kind: BlockNote, Text: fmt.Sprintf("The full result has %s rows, more than the %s-row download limit. Add filters to narrow it down.", humanize.Comma(int64(total)), humanize.Comma(int64(f.cfg.DownloadLimit)))})
		}
		meta.VisualizationHint = VisualizationHint(headers, res.Data)
		content = append(content, TextBlock{Kind: BlockText, Text: "Suggested visualization: " + meta.VisualizationHint})
	}

	if f.cfg.ShowPerformanceMetrics {
		content = append(content, TextBlock{Kind: BlockPerformance, Text: performance(meta)})
	}
	f.log.Debug("format: formatted result", "rows", total, "display_rows", display, "hint", meta.VisualizationHint)
	return Result{Content: content, RawData: raw, Metadata: meta}
}

// WithSummary appends a report summary block.
func (f *Formatter) WithSummary(r Result, title string, s reports.Summary) Result {
	text := bullets(s.Lines())
	if title != "" {
		text = title + "\n" + text
	}
	r.Content = append(r.Content, TextBlock{Kind: BlockSummary, Text: text})
	return r
}

// Headers uses the backend's column order when it is known and the first
// row's keys, sorted, otherwise.
func Headers(columns []string, rows []map[string]any) []string {
	if len(columns) > 0 {
		return columns
	}
	if len(rows) == 0 {
		return nil
	}
	headers := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}

func (f *Formatter) table(headers []string, rows []map[string]any) string {
	kinds := make([]columnKind, len(headers))
	for i, h := range headers {
		kinds[i] = headerKind(h)
	}
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	for _, row := range rows {
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = f.cell(kinds[i], row[h])
		}
		table.Append(cells)
	}
	table.Render()
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) errorBlock(res executor.Result) TextBlock {
	var sb strings.Builder
	sb.WriteString("The query could not be completed.\n\n")
	msg := "unknown error"
	if res.Error != nil {
		msg = res.Error.Message
	}
	fmt.Fprintf(&sb, "Error: %s\n", msg)
	if res.Error != nil && res.Error.Details != "" {
		fmt.Fprintf(&sb, "Details: %s\n", res.Error.Details)
	}
	if n := res.Metadata.RetryCount; n > 0 {
		fmt.Fprintf(&sb, "Retried %d %s with corrections.\n", n, plural(n, "time", "times"))
	}
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString(bullets(DefaultSuggestions))
	f.log.Debug("format: formatted failure", "message", msg, "retries", res.Metadata.RetryCount)
	return TextBlock{Kind: BlockError, Text: sb.String()}
}

func performance(meta Metadata) string {
	parts := []string{
		fmt.Sprintf("Rows: %s of %s", humanize.Comma(int64(meta.RowCount)), humanize.Comma(int64(meta.TotalRows))),
		fmt.Sprintf("Time: %.2fs", float64(meta.ExecutionTimeMs)/1000),
	}
	if meta.BytesProcessed != nil {
		parts = append(parts, fmt.Sprintf("Processed: %.2f MB", float64(*meta.BytesProcessed)/(1024*1024)))
	}
	return strings.Join(parts, " | ")
}

func bullets(lines []string) string {
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- " + l)
	}
	return sb.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
