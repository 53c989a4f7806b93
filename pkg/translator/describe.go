package translator

import (
	"fmt"
	"strings"
	"time"

	"github.com/txlens/txlens/pkg/catalog"
)

var operatorWords = map[Operator]string{
	OpEq:                "is",
	OpNe:                "is not",
	OpNeAlt:             "is not",
	OpGt:                "is greater than",
	OpLt:                "is less than",
	OpGte:               "is at least",
	OpLte:               "is at most",
	OpIn:                "is one of",
	OpNotIn:             "is not one of",
	OpLike:              "matches",
	OpNotLike:           "does not match",
	OpBetween:           "is between",
	OpIsNull:            "is empty",
	OpIsNotNull:         "is present",
	OpIsDistinctFrom:    "is distinct from",
	OpIsNotDistinctFrom: "is not distinct from",
}

var aggWords = map[AggFunc]string{
	AggCount: "count",
	AggSum:   "total",
	AggAvg:   "average",
	AggMin:   "minimum",
	AggMax:   "maximum",
}

func describeValue(v any) string {
	switch x := v.(type) {
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = describeValue(e)
		}
		return strings.Join(parts, ", ")
	case time.Time:
		return x.Format("Jan 2, 2006")
	case float64:
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprint(v)
}

func describeCondition(f FilterCondition) string {
	name := catalog.Humanize(f.Column)
	var s string
	switch f.Operator {
	case OpIsNull, OpIsNotNull:
		s = fmt.Sprintf("%s %s", name, operatorWords[f.Operator])
	case OpBetween:
		if vals, ok := f.Value.([]any); ok && len(vals) == 2 {
			s = fmt.Sprintf("%s is between %s and %s", name, describeValue(vals[0]), describeValue(vals[1]))
			break
		}
		fallthrough
	default:
		s = fmt.Sprintf("%s %s %s", name, operatorWords[f.Operator], describeValue(f.Value))
	}
	if f.Not {
		s = "not (" + s + ")"
	}
	return s
}

func describeAggregation(agg Aggregation) string {
	if agg.Column == "" {
		return "number of transactions"
	}
	name := catalog.Humanize(agg.Column)
	if agg.Signed {
		return "net " + name
	}
	return aggWords[agg.Function] + " " + name
}

func describeGroup(g GroupByClause) string {
	if g.Bucket != "" {
		return g.Bucket
	}
	return catalog.Humanize(g.Column)
}

// describe renders each clause of p as a short human-readable block.
func describe(p *QueryParseResult) Components {
	var c Components

	var filters []string
	if p.TimeRange != nil {
		filters = append(filters, "- "+catalog.Humanize(p.TimeRange.Column)+" "+p.TimeRange.Describe())
	}
	for i, f := range p.Filters {
		line := describeCondition(f)
		if i > 0 && strings.EqualFold(f.LogicalOperator, "OR") {
			line = "or " + line
		}
		filters = append(filters, "- "+line)
	}
	c.Filter = strings.Join(filters, "\n")

	if len(p.Aggregations) > 0 {
		parts := make([]string, len(p.Aggregations))
		for i, agg := range p.Aggregations {
			parts[i] = describeAggregation(agg)
		}
		c.Aggregation = "Calculate " + joinWords(parts)
	}
	if len(p.GroupBy) > 0 {
		parts := make([]string, len(p.GroupBy))
		for i, g := range p.GroupBy {
			parts[i] = describeGroup(g)
		}
		c.GroupBy = "Grouped by " + joinWords(parts)
	}
	if len(p.OrderBy) > 0 {
		parts := make([]string, len(p.OrderBy))
		for i, o := range p.OrderBy {
			name := orderName(p, o.Column)
			if o.Descending {
				parts[i] = name + " (highest or newest first)"
			} else {
				parts[i] = name + " (lowest or oldest first)"
			}
		}
		c.OrderBy = "Sorted by " + joinWords(parts)
	}
	if p.Limit > 0 {
		c.Limit = fmt.Sprintf("Limited to %d rows", p.Limit)
	}
	return c
}

func orderName(p *QueryParseResult, column string) string {
	for _, agg := range p.Aggregations {
		if agg.Alias == column {
			return describeAggregation(agg)
		}
	}
	for _, g := range p.GroupBy {
		if g.Name() == column {
			return describeGroup(g)
		}
	}
	return catalog.Humanize(column)
}

func joinWords(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

// interpret renders p as one sentence.
func interpret(p *QueryParseResult) string {
	var aggs []string
	for _, agg := range p.Aggregations {
		aggs = append(aggs, describeAggregation(agg))
	}
	var groups []string
	for _, g := range p.GroupBy {
		groups = append(groups, describeGroup(g))
	}

	var sb strings.Builder
	switch p.Intent {
	case IntentBalance:
		sb.WriteString("Show the " + joinWords(aggs))
		if len(groups) > 0 {
			sb.WriteString(" held per " + joinWords(groups))
		}
	case IntentTrend:
		sb.WriteString("Show how the " + joinWords(aggs) + " changes")
		if len(groups) > 0 {
			sb.WriteString(" by " + joinWords(groups))
		}
	case IntentComparison:
		sb.WriteString("Compare the " + joinWords(aggs))
		if len(groups) > 0 {
			sb.WriteString(" across " + joinWords(groups))
		}
	case IntentAggregation:
		sb.WriteString("Calculate the " + joinWords(aggs))
		if len(groups) > 0 {
			sb.WriteString(" per " + joinWords(groups))
		}
	case IntentFilter:
		sb.WriteString("Find transactions")
	default:
		sb.WriteString("List transactions")
	}

	if len(p.Assets) > 0 {
		sb.WriteString(" for " + joinWords(p.Assets))
	}
	var conds []string
	for _, f := range p.Filters {
		if len(p.Assets) > 0 && f.Column != "" && assetFilter(f, p.Assets) {
			continue
		}
		conds = append(conds, describeCondition(f))
	}
	if len(conds) > 0 {
		sb.WriteString(" where " + joinWords(conds))
	}
	if p.TimeRange != nil {
		sb.WriteString(" " + p.TimeRange.Describe())
	}
	if p.Limit > 0 {
		fmt.Fprintf(&sb, ", limited to %d rows", p.Limit)
	}
	sb.WriteString(".")
	return sb.String()
}

func assetFilter(f FilterCondition, assets []string) bool {
	switch v := f.Value.(type) {
	case string:
		return len(assets) == 1 && v == assets[0]
	case []any:
		if len(v) != len(assets) {
			return false
		}
		for i := range v {
			if v[i] != assets[i] {
				return false
			}
		}
		return true
	}
	return false
}
