// Package confirm renders translations, failures and column choices as the
// text a user confirms or answers before anything runs.
package confirm

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/txlens/txlens/pkg/translator"
)

type Kind string

const (
	KindConfirmation    Kind = "confirmation"
	KindError           Kind = "error"
	KindColumnSelection Kind = "column_selection"
)

// Response is what the user sees for one turn.
type Response struct {
	Kind              Kind     `json:"kind"`
	Text              string   `json:"text"`
	NeedsConfirmation bool     `json:"needsConfirmation"`
	Query             string   `json:"query,omitempty"`
	SQL               string   `json:"sql,omitempty"`
	Confidence        float64  `json:"confidence,omitempty"`
	ConfidenceLevel   string   `json:"confidenceLevel,omitempty"`
	Options           []Option `json:"options,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
}

// Option is one numbered column in a column-selection prompt.
type Option struct {
	Number int    `json:"number"`
	Column string `json:"column"`
	Bucket string `json:"bucket"`
}

// DefaultSuggestions close every error response.
var DefaultSuggestions = []string{
	"Try rephrasing the question with more specific terms",
	"Simplify the request, for example by removing a filter or grouping",
	"Check that the columns you mention exist for this data source",
}

const footer = `What would you like to do?
1. Reply "confirm" to run this query
2. Reply "modify: <your changes>" to adjust it
3. Ask a different question to replace it`

type Config struct {
	Logger  *slog.Logger
	ShowSQL bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

type Formatter struct {
	log     *slog.Logger
	showSQL bool
}

func New(cfg *Config) (*Formatter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Formatter{log: cfg.Logger, showSQL: cfg.ShowSQL}, nil
}

// ConfidenceLevel maps a score onto its label. Boundary scores take the
// higher label.
func ConfidenceLevel(score float64) string {
	switch {
	case score >= 0.90:
		return "Very High"
	case score >= 0.75:
		return "High"
	case score >= 0.50:
		return "Moderate"
	case score >= 0.25:
		return "Low"
	}
	return "Very Low"
}

// Confirmation presents a translation for the user to confirm.
func (f *Formatter) Confirmation(tr *translator.TranslationResult) Response {
	level := ConfidenceLevel(tr.Confidence)

	var sb strings.Builder
	sb.WriteString("I understood your question as:\n")
	sb.WriteString(tr.InterpretedQuery)
	sb.WriteString("\n\n")

	sb.WriteString("Identify data where:\n")
	filter := strings.TrimSpace(tr.Components.Filter)
	if filter == "" {
		sb.WriteString("- all transactions")
	} else {
		sb.WriteString(bulleted(filter))
	}
	sb.WriteString("\n")

	var calc []string
	for _, s := range []string{tr.Components.Aggregation, tr.Components.GroupBy, tr.Components.OrderBy, tr.Components.Limit} {
		if s = strings.TrimSpace(s); s != "" {
			calc = append(calc, s)
		}
	}
	if len(calc) > 0 {
		sb.WriteString("\nCalculate and show:\n")
		sb.WriteString(bulleted(strings.Join(calc, "\n")))
		sb.WriteString("\n")
	}

	if f.showSQL && tr.SQL != "" {
		sb.WriteString("\nSQL:\n```sql\n")
		sb.WriteString(tr.SQL)
		sb.WriteString("\n```\n")
	}

	fmt.Fprintf(&sb, "\nConfidence: %s (%.0f%%)\n", level, tr.Confidence*100)

	if len(tr.Alternatives) > 0 {
		sb.WriteString("\nOther possible interpretations:\n")
		for i, alt := range tr.Alternatives {
			fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, alt.Description, ConfidenceLevel(alt.Confidence))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(footer)

	f.log.Debug("confirm: confirmation", "confidence", tr.Confidence, "level", level, "alternatives", len(tr.Alternatives))
	return Response{
		Kind:              KindConfirmation,
		Text:              sb.String(),
		NeedsConfirmation: true,
		Query:             tr.OriginalQuery,
		SQL:               tr.SQL,
		Confidence:        tr.Confidence,
		ConfidenceLevel:   level,
	}
}

// Error explains a failure. sql may be empty.
func (f *Formatter) Error(query, message, sql string) Response {
	var sb strings.Builder
	sb.WriteString("I couldn't answer your question.\n\n")
	if query != "" {
		fmt.Fprintf(&sb, "Question: %s\n", query)
	}
	fmt.Fprintf(&sb, "Problem: %s\n", message)
	if sql != "" {
		sb.WriteString("\nQuery that was attempted:\n```sql\n")
		sb.WriteString(sql)
		sb.WriteString("\n```\n")
	}
	sb.WriteString("\nSuggestions:\n")
	for _, s := range DefaultSuggestions {
		sb.WriteString("- " + s + "\n")
	}

	f.log.Debug("confirm: error", "query", query, "message", message)
	return Response{
		Kind:        KindError,
		Text:        strings.TrimRight(sb.String(), "\n"),
		Query:       query,
		SQL:         sql,
		Suggestions: DefaultSuggestions,
	}
}

// ColumnSelection asks the user to pick one of columns, grouped by kind and
// numbered across the groups that have any.
func (f *Formatter) ColumnSelection(columns []string, query, message string) Response {
	if message == "" {
		message = "I couldn't tell which column your question refers to."
	}
	var sb strings.Builder
	sb.WriteString(message)
	if query != "" {
		fmt.Fprintf(&sb, "\nQuestion: %s", query)
	}
	sb.WriteString("\n")

	var options []Option
	for _, group := range Group(columns) {
		fmt.Fprintf(&sb, "\n%s:\n", group.Bucket)
		for _, col := range group.Columns {
			n := len(options) + 1
			options = append(options, Option{Number: n, Column: col, Bucket: group.Bucket})
			fmt.Fprintf(&sb, "%d. %s\n", n, col)
		}
	}
	sb.WriteString("\nReply with the number of the column to use.")

	f.log.Debug("confirm: column selection", "query", query, "columns", len(options))
	return Response{
		Kind:              KindColumnSelection,
		Text:              sb.String(),
		NeedsConfirmation: true,
		Query:             query,
		Options:           options,
	}
}

var clauseWords = map[string]string{
	"filter":      "a filter",
	"groupBy":     "grouping",
	"aggregation": "the calculation",
	"orderBy":     "sorting",
	"time range":  "the time range",
}

// Ambiguity prompts for a column when tr could not map one of its clauses.
func (f *Formatter) Ambiguity(tr *translator.TranslationResult) Response {
	amb := tr.Ambiguity
	if amb == nil {
		return f.Confirmation(tr)
	}
	if len(amb.Candidates) == 0 {
		return f.Error(tr.OriginalQuery, fmt.Sprintf("%q has no matching column for this data source", amb.Term), "")
	}
	clause, ok := clauseWords[amb.Clause]
	if !ok {
		clause = amb.Clause
	}
	msg := fmt.Sprintf("I couldn't match %q to a column for %s.", amb.Term, clause)
	return f.ColumnSelection(amb.Candidates, tr.OriginalQuery, msg)
}

// bulleted prefixes each line with "- " unless the text is already a list.
func bulleted(text string) string {
	lines := strings.Split(text, "\n")
	formatted := true
	for _, line := range lines {
		if strings.TrimSpace(line) != "" && !isListItem(line) {
			formatted = false
			break
		}
	}
	if formatted {
		return text
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !isListItem(line) {
			line = "- " + line
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// isListItem checks if a line is a bullet or numbered list item.
func isListItem(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) > 1 && (trimmed[0] == '-' || trimmed[0] == '*') {
		return trimmed[1] == ' ' || trimmed[1] == '\t'
	}
	if len(trimmed) > 0 && trimmed[0] >= '0' && trimmed[0] <= '9' {
		for i := 1; i < len(trimmed) && i < 10; i++ {
			if trimmed[i] == '.' || trimmed[i] == ')' {
				return i+1 < len(trimmed) && (trimmed[i+1] == ' ' || trimmed[i+1] == '\t')
			}
			if trimmed[i] < '0' || trimmed[i] > '9' {
				break
			}
		}
	}
	return false
}
