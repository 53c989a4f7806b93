package reports

import (
	"fmt"
	"strings"
)

// DefaultRowLimit caps report queries that do not ask for a limit.
const DefaultRowLimit = 5000

// Filters are optional user-supplied IN-list restrictions.
type Filters struct {
	Assets         []string `json:"assets,omitempty"`
	Operations     []string `json:"operations,omitempty"`
	Counterparties []string `json:"counterparties,omitempty"`
	Statuses       []string `json:"statuses,omitempty"`
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return len(f.Assets) == 0 && len(f.Operations) == 0 && len(f.Counterparties) == 0 && len(f.Statuses) == 0
}

// Query is a generated statement. Params holds the values of the @name
// placeholders in SQL.
type Query struct {
	SQL    string
	Params map[string]any
}

// builder assembles the clauses of a report statement in a fixed order so
// the same inputs always produce byte-identical SQL.
type builder struct {
	selects []string
	from    string
	where   []string
	groupBy []string
	orderBy []string
	limit   int
	params  map[string]any
}

func newBuilder(from string) *builder {
	return &builder{from: from, params: map[string]any{}}
}

func (b *builder) selectCols(cols ...string) *builder {
	b.selects = append(b.selects, cols...)
	return b
}

// bind adds a mandatory predicate bound to a named parameter.
func (b *builder) bind(predicate, name string, value any) *builder {
	b.where = append(b.where, predicate)
	b.params[name] = value
	return b
}

// in adds "column IN ('a', 'b')" when values is non-empty. Each value is
// checked against tokenPattern and quoted.
func (b *builder) in(field, column string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	quoted := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !tokenPattern.MatchString(v) {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("value %q contains unsupported characters", v)}
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		quoted = append(quoted, quoteLiteral(v))
	}
	b.where = append(b.where, fmt.Sprintf("%s IN (%s)", column, strings.Join(quoted, ", ")))
	return nil
}

// cond adds a fixed predicate with no bound values.
func (b *builder) cond(predicate string) *builder {
	b.where = append(b.where, predicate)
	return b
}

func (b *builder) group(cols ...string) *builder {
	b.groupBy = append(b.groupBy, cols...)
	return b
}

func (b *builder) order(cols ...string) *builder {
	b.orderBy = append(b.orderBy, cols...)
	return b
}

func (b *builder) withLimit(params map[string]any) *builder {
	b.limit = DefaultRowLimit
	if v, ok := params["limit"].(float64); ok && v > 0 {
		b.limit = int(v)
	}
	return b
}

func (b *builder) build() Query {
	var sb strings.Builder
	sb.WriteString("SELECT\n  ")
	sb.WriteString(strings.Join(b.selects, ",\n  "))
	sb.WriteString("\nFROM ")
	sb.WriteString(b.from)
	if len(b.where) > 0 {
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(b.where, "\n  AND "))
	}
	if len(b.groupBy) > 0 {
		sb.WriteString("\nGROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		sb.WriteString("\nORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, "\nLIMIT %d", b.limit)
	}
	return Query{SQL: sb.String(), Params: b.params}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// applyFilters adds the optional IN-lists in a fixed order. Columns that the
// report does not carry are passed as empty strings and their filters are
// rejected.
func applyFilters(b *builder, f Filters, cols filterColumns) error {
	if f.Empty() {
		return nil
	}
	pairs := []struct {
		field  string
		column string
		values []string
	}{
		{"assets", cols.asset, f.Assets},
		{"operations", cols.operation, f.Operations},
		{"counterparties", cols.counterparty, f.Counterparties},
		{"statuses", cols.status, f.Statuses},
	}
	for _, p := range pairs {
		if len(p.values) == 0 {
			continue
		}
		if p.column == "" {
			return &ValidationError{Field: p.field, Reason: "filter is not supported by this report"}
		}
		if err := b.in(p.field, p.column, p.values); err != nil {
			return err
		}
	}
	return nil
}

type filterColumns struct {
	asset        string
	operation    string
	counterparty string
	status       string
}
