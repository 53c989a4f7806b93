package reports

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/txlens/txlens/pkg/connection"
)

// Generator builds and post-processes one kind of report.
type Generator interface {
	// Validate checks params against the report's declared parameters
	// without touching the backend.
	Validate(params Params) error
	// BuildQuery resolves the target table and renders the statement.
	BuildQuery(ctx context.Context, params Params, filters Filters) (Query, error)
	Transform(rows []map[string]any) []Record
	Summarize(records []Record) Summary
}

// Env binds a generator to the backend table it reads from.
type Env struct {
	Resolver connection.Resolver
	Dialect  connection.Dialect
}

// Record is a typed report row: categorical dimensions as strings and
// measures as floats.
type Record struct {
	Dimensions map[string]string
	Measures   map[string]float64
}

// Summary holds distinct counts per dimension and totals per measure.
type Summary struct {
	Records    int
	Dimensions []string
	Distinct   map[string]int
	Measures   []string
	Totals     map[string]float64
}

// Lines renders the summary in column order.
func (s Summary) Lines() []string {
	lines := []string{fmt.Sprintf("%s records", humanize.Comma(int64(s.Records)))}
	for _, d := range s.Dimensions {
		lines = append(lines, fmt.Sprintf("%d distinct %s", s.Distinct[d], d))
	}
	for _, m := range s.Measures {
		lines = append(lines, fmt.Sprintf("total %s: %s", m, humanize.CommafWithDigits(s.Totals[m], 2)))
	}
	return lines
}

// shape lists which result columns are dimensions and which are measures.
type shape struct {
	dimensions []string
	measures   []string
}

// base carries what every report kind shares.
type base struct {
	meta    Metadata
	env     Env
	shape   shape
	filters filterColumns
}

func newBase(meta Metadata, env Env, s shape, f filterColumns) (base, error) {
	if env.Resolver == nil {
		return base{}, fmt.Errorf("%w: no resolver configured", connection.ErrMissingConnection)
	}
	return base{meta: meta, env: env, shape: s, filters: f}, nil
}

func (b base) Validate(params Params) error {
	_, err := coerce(b.meta.Parameters, params)
	return err
}

// prepare validates params, resolves the table and starts a builder with the
// optional filters applied last.
func (b base) prepare(ctx context.Context, params Params) (*builder, map[string]any, error) {
	values, err := coerce(b.meta.Parameters, params)
	if err != nil {
		return nil, nil, err
	}
	table, err := connection.Qualified(ctx, b.env.Resolver, b.env.Dialect)
	if err != nil {
		return nil, nil, err
	}
	return newBuilder(table), values, nil
}

func (b base) finish(qb *builder, filters Filters) (Query, error) {
	if err := applyFilters(qb, filters, b.filters); err != nil {
		return Query{}, err
	}
	return qb.build(), nil
}

func (b base) Transform(rows []map[string]any) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			Dimensions: make(map[string]string, len(b.shape.dimensions)),
			Measures:   make(map[string]float64, len(b.shape.measures)),
		}
		for _, d := range b.shape.dimensions {
			rec.Dimensions[d] = dimensionString(row[d])
		}
		for _, m := range b.shape.measures {
			rec.Measures[m] = parseNumber(row[m])
		}
		out = append(out, rec)
	}
	return out
}

func (b base) Summarize(records []Record) Summary {
	s := Summary{
		Records:    len(records),
		Dimensions: b.shape.dimensions,
		Distinct:   make(map[string]int, len(b.shape.dimensions)),
		Measures:   b.shape.measures,
		Totals:     make(map[string]float64, len(b.shape.measures)),
	}
	for _, d := range b.shape.dimensions {
		seen := map[string]struct{}{}
		for _, r := range records {
			seen[r.Dimensions[d]] = struct{}{}
		}
		s.Distinct[d] = len(seen)
	}
	for _, m := range b.shape.measures {
		var total float64
		for _, r := range records {
			total += r.Measures[m]
		}
		s.Totals[m] = total
	}
	return s
}

// parseNumber coerces a backend value to float64, returning 0 for anything
// that does not parse.
func parseNumber(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		if err != nil {
			return 0
		}
		return f
	case fmt.Stringer:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func dimensionString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.UTC().Format(dateLayout)
		}
		return x.UTC().Format(time.RFC3339)
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

// Metadata describes a registered report.
type Metadata struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Description           string      `json:"description"`
	Keywords              []string    `json:"keywords"`
	Parameters            []Parameter `json:"parameters"`
	CompatibleSchemaTypes []string    `json:"compatibleSchemaTypes,omitempty"`
}

// CompatibleWith reports whether the report can run against schemaType. A
// report without declared types runs against any schema.
func (m Metadata) CompatibleWith(schemaType string) bool {
	if len(m.CompatibleSchemaTypes) == 0 {
		return true
	}
	for _, t := range m.CompatibleSchemaTypes {
		if strings.EqualFold(t, schemaType) {
			return true
		}
	}
	return false
}

// Required returns the names of the required parameters, sorted.
func (m Metadata) Required() []string {
	var names []string
	for _, p := range m.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}
