package reports

import "context"

var feeSummaryMeta = Metadata{
	ID:          "fee-summary",
	Name:        "Fee Summary",
	Description: "Fees paid per asset and network since a date, for all wallets or one wallet.",
	Keywords:    []string{"fees", "gas", "costs", "network"},
	Parameters: []Parameter{
		{Name: "startDate", Type: ParamDate, Description: "First day included (YYYY-MM-DD)", Required: true},
		{Name: "walletId", Type: ParamString, Description: "Restrict to one wallet"},
	},
}

type feeSummary struct {
	base
}

func newFeeSummary(env Env) (Generator, error) {
	b, err := newBase(feeSummaryMeta, env,
		shape{
			dimensions: []string{"feeAsset", "network"},
			measures:   []string{"transactionCount", "totalFee"},
		},
		filterColumns{asset: "feeAsset", operation: "operation", status: "status"},
	)
	if err != nil {
		return nil, err
	}
	return &feeSummary{base: b}, nil
}

func (g *feeSummary) BuildQuery(ctx context.Context, params Params, filters Filters) (Query, error) {
	qb, p, err := g.prepare(ctx, params)
	if err != nil {
		return Query{}, err
	}
	qb.selectCols(
		"feeAsset",
		"network",
		"COUNT(*) AS transactionCount",
		"SUM(fee) AS totalFee",
	)
	qb.bind("timestamp >= @startDate", "startDate", p["startDate"])
	if w, ok := p["walletId"]; ok {
		qb.bind("walletId = @walletId", "walletId", w)
	}
	qb.cond("fee > 0")
	qb.group("feeAsset", "network").order("totalFee DESC", "feeAsset", "network").withLimit(p)
	return g.finish(qb, filters)
}
