package reports

import (
	"context"
	"time"
)

var assetBalanceMeta = Metadata{
	ID:          "asset-balance",
	Name:        "Asset Balance",
	Description: "Net quantity and value held per asset for one wallet, optionally as of a date.",
	Keywords:    []string{"balance", "holdings", "position", "portfolio"},
	Parameters: []Parameter{
		{Name: "walletId", Type: ParamString, Description: "Wallet to report on", Required: true},
		{Name: "asOfDate", Type: ParamDate, Description: "Balance at the end of this day (YYYY-MM-DD)"},
	},
}

type assetBalance struct {
	base
}

func newAssetBalance(env Env) (Generator, error) {
	b, err := newBase(assetBalanceMeta, env,
		shape{
			dimensions: []string{"assetTicker"},
			measures:   []string{"netQuantity", "netValue", "transactionCount"},
		},
		filterColumns{asset: "assetTicker", status: "status"},
	)
	if err != nil {
		return nil, err
	}
	return &assetBalance{base: b}, nil
}

// outflows lists operations that reduce a holding.
const outflows = "('sell', 'send', 'withdrawal', 'fee')"

func (g *assetBalance) BuildQuery(ctx context.Context, params Params, filters Filters) (Query, error) {
	qb, p, err := g.prepare(ctx, params)
	if err != nil {
		return Query{}, err
	}
	qb.selectCols(
		"assetTicker",
		"SUM(CASE WHEN operation IN "+outflows+" THEN -quantity ELSE quantity END) AS netQuantity",
		"SUM(CASE WHEN operation IN "+outflows+" THEN -value ELSE value END) AS netValue",
		"COUNT(*) AS transactionCount",
	)
	qb.bind("walletId = @walletId", "walletId", p["walletId"])
	if asOf, ok := p["asOfDate"].(time.Time); ok {
		qb.bind("timestamp < @asOfDate", "asOfDate", asOf.AddDate(0, 0, 1))
	}
	qb.group("assetTicker").order("assetTicker").withLimit(p)
	return g.finish(qb, filters)
}
