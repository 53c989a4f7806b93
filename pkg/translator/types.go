package translator

import (
	"time"

	"github.com/txlens/txlens/pkg/catalog"
)

type Intent string

const (
	IntentList        Intent = "list"
	IntentFilter      Intent = "filter"
	IntentAggregation Intent = "aggregation"
	IntentComparison  Intent = "comparison"
	IntentTrend       Intent = "trend"
	IntentBalance     Intent = "balance"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentList, IntentFilter, IntentAggregation, IntentComparison, IntentTrend, IntentBalance:
		return true
	}
	return false
}

type Operator string

const (
	OpEq                Operator = "="
	OpNe                Operator = "!="
	OpNeAlt             Operator = "<>"
	OpGt                Operator = ">"
	OpLt                Operator = "<"
	OpGte               Operator = ">="
	OpLte               Operator = "<="
	OpIn                Operator = "IN"
	OpNotIn             Operator = "NOT IN"
	OpLike              Operator = "LIKE"
	OpNotLike           Operator = "NOT LIKE"
	OpBetween           Operator = "BETWEEN"
	OpIsNull            Operator = "IS NULL"
	OpIsNotNull         Operator = "IS NOT NULL"
	OpIsDistinctFrom    Operator = "IS DISTINCT FROM"
	OpIsNotDistinctFrom Operator = "IS NOT DISTINCT FROM"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpNeAlt, OpGt, OpLt, OpGte, OpLte, OpIn, OpNotIn, OpLike, OpNotLike,
		OpBetween, OpIsNull, OpIsNotNull, OpIsDistinctFrom, OpIsNotDistinctFrom:
		return true
	}
	return false
}

// FilterCondition is one predicate. LogicalOperator joins it to the previous
// condition and defaults to AND. IN and NOT IN take a []any value, BETWEEN a
// two-element []any, and the NULL checks no value.
type FilterCondition struct {
	Column          string   `json:"column"`
	Operator        Operator `json:"operator"`
	Value           any      `json:"value,omitempty"`
	LogicalOperator string   `json:"logicalOperator,omitempty"`
	Not             bool     `json:"not,omitempty"`
}

// TimeRange is a half-open interval [Start, End) on Column. A zero bound is
// open.
type TimeRange struct {
	Column string    `json:"column"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Phrase string    `json:"phrase"`
}

type AggFunc string

const (
	AggCount AggFunc = "COUNT"
	AggSum   AggFunc = "SUM"
	AggAvg   AggFunc = "AVG"
	AggMin   AggFunc = "MIN"
	AggMax   AggFunc = "MAX"
)

func (f AggFunc) Valid() bool {
	switch f {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// Aggregation is an aggregate expression. An empty Column with COUNT counts
// rows. Signed sums negate outflow operations.
type Aggregation struct {
	Function AggFunc `json:"function"`
	Column   string  `json:"column,omitempty"`
	Alias    string  `json:"alias"`
	Signed   bool    `json:"signed,omitempty"`
}

// GroupByClause groups by a column, or by a calendar bucket of a time column.
type GroupByClause struct {
	Column string `json:"column"`
	Bucket string `json:"bucket,omitempty"`
}

// Name is the result column the clause produces.
func (g GroupByClause) Name() string {
	if g.Bucket != "" {
		return g.Bucket
	}
	return g.Column
}

// OrderByClause sorts by a column or by an aggregate alias.
type OrderByClause struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

// ColumnMapping records how a user term was mapped to a column. Candidates
// lists every column the term matched equally well.
type ColumnMapping struct {
	Term       string            `json:"term,omitempty"`
	Column     string            `json:"column"`
	Match      catalog.MatchKind `json:"match"`
	Candidates []string          `json:"candidates,omitempty"`
}

// QueryParseResult is the structured intent of one question.
type QueryParseResult struct {
	Intent       Intent            `json:"intent"`
	Assets       []string          `json:"assets,omitempty"`
	TimeRange    *TimeRange        `json:"timeRange,omitempty"`
	Filters      []FilterCondition `json:"filters,omitempty"`
	Aggregations []Aggregation     `json:"aggregations,omitempty"`
	GroupBy      []GroupByClause   `json:"groupBy,omitempty"`
	OrderBy      []OrderByClause   `json:"orderBy,omitempty"`
	Columns      []ColumnMapping   `json:"columns,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// Components are the human-readable descriptions of each clause.
type Components struct {
	Filter      string `json:"filter,omitempty"`
	Aggregation string `json:"aggregation,omitempty"`
	GroupBy     string `json:"groupBy,omitempty"`
	OrderBy     string `json:"orderBy,omitempty"`
	Limit       string `json:"limit,omitempty"`
}

// Alternative is another plausible reading of the question.
type Alternative struct {
	Description string            `json:"description"`
	SQL         string            `json:"sql"`
	Params      map[string]any    `json:"params,omitempty"`
	Confidence  float64           `json:"confidence"`
	Parse       *QueryParseResult `json:"-"`
}

// Ambiguity reports a clause that could not be mapped to any column.
type Ambiguity struct {
	Clause     string   `json:"clause"`
	Term       string   `json:"term"`
	Candidates []string `json:"candidates"`
}

type TranslationResult struct {
	OriginalQuery    string            `json:"originalQuery"`
	InterpretedQuery string            `json:"interpretedQuery"`
	SchemaType       string            `json:"schemaType"`
	SQL              string            `json:"sql"`
	Params           map[string]any    `json:"params,omitempty"`
	Confidence       float64           `json:"confidence"`
	Components       Components        `json:"components"`
	Alternatives     []Alternative     `json:"alternatives,omitempty"`
	Parse            *QueryParseResult `json:"parse,omitempty"`
	Ambiguity        *Ambiguity        `json:"ambiguity,omitempty"`
}

// Choose returns the translation read as its n-th alternative, numbered from
// one as they are listed to the user. The reading it replaces becomes the
// first alternative of the result.
func (r *TranslationResult) Choose(n int) (*TranslationResult, bool) {
	if n < 1 || n > len(r.Alternatives) {
		return nil, false
	}
	alt := r.Alternatives[n-1]
	out := *r
	out.SQL, out.Params, out.Confidence = alt.SQL, alt.Params, alt.Confidence
	out.InterpretedQuery = alt.Description
	if alt.Parse != nil {
		out.Parse = alt.Parse
		out.InterpretedQuery = interpret(alt.Parse)
		out.Components = describe(alt.Parse)
	}
	out.Alternatives = []Alternative{{
		Description: "Original reading: " + r.InterpretedQuery,
		SQL:         r.SQL,
		Params:      r.Params,
		Confidence:  r.Confidence,
		Parse:       r.Parse,
	}}
	for i, other := range r.Alternatives {
		if i != n-1 {
			out.Alternatives = append(out.Alternatives, other)
		}
	}
	return &out, true
}

// Turn is one earlier message in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
