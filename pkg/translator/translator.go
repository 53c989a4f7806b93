package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/txlens/txlens/pkg/catalog"
	"github.com/txlens/txlens/pkg/connection"
	"github.com/txlens/txlens/pkg/metrics"
)

const (
	DefaultMaxRows     = 10000
	DefaultHintTimeout = 15 * time.Second

	localConfidence = 0.8
)

var (
	ErrEmptyQuestion     = errors.New("question is empty")
	ErrTranslatorTimeout = errors.New("translator timed out")
)

type Config struct {
	Logger  *slog.Logger
	Tables  connection.Tables
	Dialect connection.Dialect

	// Hinter is optional. Without it questions are read with local rules only.
	Hinter      Hinter
	HintTimeout time.Duration

	Clock   clockwork.Clock
	Assets  []string
	MaxRows int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Tables == nil {
		return errors.New("tables are required")
	}
	if cfg.Dialect == nil {
		cfg.Dialect = connection.ANSI{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = DefaultAssets
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.HintTimeout <= 0 {
		cfg.HintTimeout = DefaultHintTimeout
	}
	return nil
}

type Translator struct {
	log     *slog.Logger
	cfg     *Config
	tickers map[string]bool
}

func New(cfg *Config) (*Translator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	tickers := make(map[string]bool, len(cfg.Assets))
	for _, a := range cfg.Assets {
		tickers[strings.ToUpper(a)] = true
	}
	return &Translator{log: cfg.Logger, cfg: cfg, tickers: tickers}, nil
}

// Translate turns a question into parameterized SQL over the table that holds
// cat's schema type. When a clause cannot be mapped to any column the result
// carries an Ambiguity and no SQL.
func (t *Translator) Translate(ctx context.Context, question string, cat *catalog.Catalog, history []Turn) (*TranslationResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if cat == nil {
		return nil, errors.New("catalog is required")
	}

	var hints *Hints
	base := localConfidence
	source := "local"
	if t.cfg.Hinter != nil {
		hctx, cancel := context.WithTimeout(ctx, t.cfg.HintTimeout)
		h, err := t.cfg.Hinter.Hints(hctx, question, cat, history)
		cancel()
		if err != nil {
			metrics.TranslationsTotal.WithLabelValues("hints", "error").Inc()
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrTranslatorTimeout, t.cfg.HintTimeout)
			}
			return nil, fmt.Errorf("failed to get hints: %w", err)
		}
		hints = h
		source = "hints"
		if h.Confidence > 0 {
			base = h.Confidence
		}
	}

	a := newAnalyzer(cat, t.cfg.Clock.Now(), t.tickers, question).analyze(question, hints)
	p := a.parse
	confidence := score(base, a)

	result := &TranslationResult{
		OriginalQuery:    question,
		InterpretedQuery: interpret(p),
		SchemaType:       cat.SchemaType,
		Confidence:       confidence,
		Components:       describe(p),
		Parse:            p,
	}
	metrics.TranslationConfidence.Observe(confidence)

	if a.ambiguity != nil {
		result.Ambiguity = a.ambiguity
		metrics.TranslationsTotal.WithLabelValues(source, "ambiguous").Inc()
		t.log.Debug("translator: ambiguous question", "question", question, "clause", a.ambiguity.Clause, "term", a.ambiguity.Term)
		return result, nil
	}

	table, err := connection.Qualified(ctx, t.cfg.Tables.For(cat.SchemaType), t.cfg.Dialect)
	if err != nil {
		metrics.TranslationsTotal.WithLabelValues(source, "error").Inc()
		return nil, err
	}
	sql, params, err := buildSQL(p, cat, table, t.cfg.MaxRows)
	if err != nil {
		metrics.TranslationsTotal.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	result.SQL = sql
	result.Params = params
	result.Alternatives = t.alternatives(a, cat, table, confidence)

	metrics.TranslationsTotal.WithLabelValues(source, "sql").Inc()
	t.log.Debug("translator: translated question", "question", question, "intent", p.Intent, "confidence", confidence, "alternatives", len(result.Alternatives))
	return result, nil
}

// score adjusts the base confidence for how cleanly terms mapped to columns.
func score(base float64, a *analysis) float64 {
	c := base
	c += math.Min(0.05*float64(a.exactMatches()), 0.15)
	c -= 0.15 * float64(len(a.ambiguous()))
	c -= 0.1 * float64(a.substringMatches())
	c -= 0.2 * float64(len(a.unresolved))
	return clamp(c)
}

func clamp(c float64) float64 {
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*100) / 100
}

// alternatives builds one reading per extra candidate of each ambiguous term,
// best first.
func (t *Translator) alternatives(a *analysis, cat *catalog.Catalog, table string, primary float64) []Alternative {
	var out []Alternative
	for _, m := range a.ambiguous() {
		for rank, cand := range m.Candidates {
			if cand == m.Column {
				continue
			}
			alt := cloneParse(a.parse)
			substitute(alt, m.Column, cand)
			sql, params, err := buildSQL(alt, cat, table, t.cfg.MaxRows)
			if err != nil {
				t.log.Debug("translator: skipping alternative", "column", cand, "error", err)
				continue
			}
			out = append(out, Alternative{
				Description: fmt.Sprintf("Reading %q as %s instead of %s: %s", m.Term, catalog.Humanize(cand), catalog.Humanize(m.Column), interpret(alt)),
				SQL:         sql,
				Params:      params,
				Confidence:  clamp(primary - 0.05*float64(rank)),
				Parse:       alt,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func cloneParse(p *QueryParseResult) *QueryParseResult {
	c := *p
	if p.TimeRange != nil {
		tr := *p.TimeRange
		c.TimeRange = &tr
	}
	c.Assets = append([]string(nil), p.Assets...)
	c.Filters = append([]FilterCondition(nil), p.Filters...)
	c.Aggregations = append([]Aggregation(nil), p.Aggregations...)
	c.GroupBy = append([]GroupByClause(nil), p.GroupBy...)
	c.OrderBy = append([]OrderByClause(nil), p.OrderBy...)
	c.Columns = append([]ColumnMapping(nil), p.Columns...)
	c.Metadata = make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// substitute replaces column from with to in every clause of p, renaming
// aggregate aliases that change with it.
func substitute(p *QueryParseResult, from, to string) {
	renamed := map[string]string{}
	for i, agg := range p.Aggregations {
		if agg.Column != from {
			continue
		}
		old := agg.Alias
		agg.Column = to
		agg.Alias = aggAlias(agg)
		renamed[old] = agg.Alias
		p.Aggregations[i] = agg
	}
	for i := range p.Filters {
		if p.Filters[i].Column == from {
			p.Filters[i].Column = to
		}
	}
	for i := range p.GroupBy {
		if p.GroupBy[i].Column == from {
			p.GroupBy[i].Column = to
		}
	}
	for i := range p.OrderBy {
		switch col := p.OrderBy[i].Column; {
		case col == from:
			p.OrderBy[i].Column = to
		case renamed[col] != "":
			p.OrderBy[i].Column = renamed[col]
		}
	}
	for i := range p.Columns {
		if p.Columns[i].Column == from {
			p.Columns[i].Column = to
		}
	}
	if p.TimeRange != nil && p.TimeRange.Column == from {
		p.TimeRange.Column = to
	}
}
