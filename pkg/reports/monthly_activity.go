package reports

import (
	"context"
	"time"
)

var monthlyActivityMeta = Metadata{
	ID:          "monthly-activity",
	Name:        "Monthly Activity",
	Description: "Transaction counts, quantities and values per month, asset and operation for one wallet.",
	Keywords:    []string{"monthly", "activity", "trend", "volume", "per month"},
	Parameters: []Parameter{
		{Name: "walletId", Type: ParamString, Description: "Wallet to report on", Required: true},
		{Name: "startDate", Type: ParamDate, Description: "First day included (YYYY-MM-DD)", Required: true},
		{Name: "endDate", Type: ParamDate, Description: "Last day included (YYYY-MM-DD)"},
		{Name: "limit", Type: ParamNumber, Description: "Maximum rows returned", Default: float64(DefaultRowLimit)},
	},
}

type monthlyActivity struct {
	base
}

func newMonthlyActivity(env Env) (Generator, error) {
	b, err := newBase(monthlyActivityMeta, env,
		shape{
			dimensions: []string{"month", "assetTicker", "operation"},
			measures:   []string{"transactionCount", "totalQuantity", "totalValue"},
		},
		filterColumns{asset: "assetTicker", operation: "operation", counterparty: "counterparty", status: "status"},
	)
	if err != nil {
		return nil, err
	}
	return &monthlyActivity{base: b}, nil
}

func (g *monthlyActivity) BuildQuery(ctx context.Context, params Params, filters Filters) (Query, error) {
	qb, p, err := g.prepare(ctx, params)
	if err != nil {
		return Query{}, err
	}
	qb.selectCols(
		"date_trunc('month', timestamp) AS month",
		"assetTicker",
		"operation",
		"COUNT(*) AS transactionCount",
		"SUM(quantity) AS totalQuantity",
		"SUM(value) AS totalValue",
	)
	qb.bind("walletId = @walletId", "walletId", p["walletId"])
	qb.bind("timestamp >= @startDate", "startDate", p["startDate"])
	bindEndDate(qb, p)
	qb.group("month", "assetTicker", "operation").
		order("month", "assetTicker", "operation").
		withLimit(p)
	return g.finish(qb, filters)
}

// bindEndDate adds an exclusive upper bound one day after endDate so the end
// day is included.
func bindEndDate(qb *builder, p map[string]any) {
	if end, ok := p["endDate"].(time.Time); ok {
		qb.bind("timestamp < @endDate", "endDate", end.AddDate(0, 0, 1))
	}
}
