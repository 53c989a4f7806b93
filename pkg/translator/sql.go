package translator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/txlens/txlens/pkg/catalog"
)

// ErrUnknownColumn is returned when an interpretation references a column the
// catalog does not define.
var ErrUnknownColumn = errors.New("unknown column")

var bucketUnits = map[string]bool{"day": true, "week": true, "month": true, "quarter": true, "year": true}

type sqlBuilder struct {
	cat    *catalog.Catalog
	params map[string]any
	n      int
}

// bind registers v as the next positional-named parameter and returns its
// placeholder.
func (b *sqlBuilder) bind(v any) string {
	b.n++
	name := fmt.Sprintf("p%d", b.n)
	b.params[name] = v
	return "@" + name
}

func (b *sqlBuilder) column(name string) (string, error) {
	if _, ok := b.cat.Field(name); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	return name, nil
}

// buildSQL renders p against table. Every user-supplied value is bound as a
// named parameter and every column is checked against the catalog.
func buildSQL(p *QueryParseResult, cat *catalog.Catalog, table string, maxRows int) (string, map[string]any, error) {
	b := &sqlBuilder{cat: cat, params: map[string]any{}}

	selects, groupBy, err := b.projection(p)
	if err != nil {
		return "", nil, err
	}
	where, err := b.where(p)
	if err != nil {
		return "", nil, err
	}
	orderBy, err := b.orderBy(p)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT\n  ")
	sb.WriteString(strings.Join(selects, ",\n  "))
	sb.WriteString("\nFROM ")
	sb.WriteString(table)
	if where != "" {
		sb.WriteString("\nWHERE ")
		sb.WriteString(where)
	}
	if len(groupBy) > 0 {
		sb.WriteString("\nGROUP BY ")
		sb.WriteString(strings.Join(groupBy, ", "))
	}
	if len(orderBy) > 0 {
		sb.WriteString("\nORDER BY ")
		sb.WriteString(strings.Join(orderBy, ", "))
	}
	limit := maxRows
	if p.Limit > 0 && (maxRows <= 0 || p.Limit < maxRows) {
		limit = p.Limit
	}
	if limit > 0 {
		fmt.Fprintf(&sb, "\nLIMIT %d", limit)
	}
	return sb.String(), b.params, nil
}

func (b *sqlBuilder) projection(p *QueryParseResult) ([]string, []string, error) {
	if len(p.Aggregations) == 0 && len(p.GroupBy) == 0 {
		var cols []string
		seen := map[string]bool{}
		for _, m := range p.Columns {
			if seen[m.Column] {
				continue
			}
			col, err := b.column(m.Column)
			if err != nil {
				return nil, nil, err
			}
			seen[col] = true
			cols = append(cols, col)
		}
		if len(cols) == 0 {
			cols = []string{"*"}
		}
		return cols, nil, nil
	}

	var selects, groupBy []string
	for _, g := range p.GroupBy {
		col, err := b.column(g.Column)
		if err != nil {
			return nil, nil, err
		}
		if g.Bucket != "" {
			if !bucketUnits[g.Bucket] {
				return nil, nil, fmt.Errorf("unsupported time bucket %q", g.Bucket)
			}
			selects = append(selects, fmt.Sprintf("date_trunc('%s', %s) AS %s", g.Bucket, col, g.Bucket))
			groupBy = append(groupBy, g.Bucket)
			continue
		}
		selects = append(selects, col)
		groupBy = append(groupBy, col)
	}
	for _, agg := range p.Aggregations {
		expr, err := b.aggregate(agg)
		if err != nil {
			return nil, nil, err
		}
		selects = append(selects, expr)
	}
	return selects, groupBy, nil
}

func (b *sqlBuilder) aggregate(agg Aggregation) (string, error) {
	if !agg.Function.Valid() {
		return "", fmt.Errorf("unsupported aggregation %q", agg.Function)
	}
	alias := agg.Alias
	if alias == "" {
		alias = aggAlias(agg)
	}
	if agg.Column == "" {
		if agg.Function != AggCount {
			return "", fmt.Errorf("%s requires a column", agg.Function)
		}
		return "COUNT(*) AS " + alias, nil
	}
	col, err := b.column(agg.Column)
	if err != nil {
		return "", err
	}
	if agg.Signed && agg.Function == AggSum {
		if op, outflows := b.outflows(); op != "" {
			return fmt.Sprintf("SUM(CASE WHEN %s IN (%s) THEN -%s ELSE %s END) AS %s", op, outflows, col, col, alias), nil
		}
	}
	return fmt.Sprintf("%s(%s) AS %s", agg.Function, col, alias), nil
}

// outflows returns the operation column and the quoted list of its outflow
// values. Values come from the catalog, never from the question.
func (b *sqlBuilder) outflows() (string, string) {
	for _, f := range b.cat.ByCategory(catalog.CategoryTransactionType) {
		var vals []string
		for _, v := range f.Values {
			if outflowValues[strings.ToLower(v)] {
				vals = append(vals, "'"+strings.ReplaceAll(v, "'", "''")+"'")
			}
		}
		if len(vals) > 0 {
			return f.Column, strings.Join(vals, ", ")
		}
	}
	return "", ""
}

func (b *sqlBuilder) where(p *QueryParseResult) (string, error) {
	var parts []string
	if tr := p.TimeRange; tr != nil {
		col, err := b.column(tr.Column)
		if err != nil {
			return "", err
		}
		if !tr.Start.IsZero() {
			parts = append(parts, col+" >= "+b.bind(tr.Start))
		}
		if !tr.End.IsZero() {
			parts = append(parts, col+" < "+b.bind(tr.End))
		}
	}

	var conds []string
	hasOr := false
	for i, f := range p.Filters {
		expr, err := b.condition(f)
		if err != nil {
			return "", err
		}
		if i > 0 && strings.EqualFold(f.LogicalOperator, "OR") {
			hasOr = true
			conds = append(conds, "OR", expr)
			continue
		}
		if i > 0 {
			conds = append(conds, "AND")
		}
		conds = append(conds, expr)
	}
	switch {
	case hasOr:
		parts = append(parts, "("+strings.Join(conds, " ")+")")
	default:
		for _, c := range conds {
			if c != "AND" {
				parts = append(parts, c)
			}
		}
	}
	return strings.Join(parts, "\n  AND "), nil
}

func (b *sqlBuilder) condition(f FilterCondition) (string, error) {
	col, err := b.column(f.Column)
	if err != nil {
		return "", err
	}
	if !f.Operator.Valid() {
		return "", fmt.Errorf("unsupported operator %q", f.Operator)
	}

	var expr string
	switch f.Operator {
	case OpIsNull, OpIsNotNull:
		expr = fmt.Sprintf("%s %s", col, f.Operator)
	case OpIn, OpNotIn:
		vals, ok := f.Value.([]any)
		if !ok || len(vals) == 0 {
			return "", fmt.Errorf("%s on %s needs a list of values", f.Operator, col)
		}
		ph := make([]string, len(vals))
		for i, v := range vals {
			ph[i] = b.bind(v)
		}
		expr = fmt.Sprintf("%s %s (%s)", col, f.Operator, strings.Join(ph, ", "))
	case OpBetween:
		vals, ok := f.Value.([]any)
		if !ok || len(vals) != 2 {
			return "", fmt.Errorf("BETWEEN on %s needs two values", col)
		}
		expr = fmt.Sprintf("%s BETWEEN %s AND %s", col, b.bind(vals[0]), b.bind(vals[1]))
	default:
		if f.Value == nil {
			return "", fmt.Errorf("%s on %s needs a value", f.Operator, col)
		}
		expr = fmt.Sprintf("%s %s %s", col, f.Operator, b.bind(f.Value))
	}
	if f.Not {
		expr = "NOT (" + expr + ")"
	}
	return expr, nil
}

func (b *sqlBuilder) orderBy(p *QueryParseResult) ([]string, error) {
	aliases := map[string]bool{}
	for _, agg := range p.Aggregations {
		alias := agg.Alias
		if alias == "" {
			alias = aggAlias(agg)
		}
		aliases[alias] = true
	}
	for _, g := range p.GroupBy {
		aliases[g.Name()] = true
	}
	var out []string
	for _, o := range p.OrderBy {
		name := o.Column
		if !aliases[name] {
			col, err := b.column(name)
			if err != nil {
				return nil, err
			}
			name = col
		}
		if o.Descending {
			name += " DESC"
		}
		out = append(out, name)
	}
	return out, nil
}
