package reports

import "context"

var transactionLedgerMeta = Metadata{
	ID:          "transaction-ledger",
	Name:        "Transaction Ledger",
	Description: "Every transaction of one wallet in a date range, newest first.",
	Keywords:    []string{"ledger", "history", "transactions", "list", "statement"},
	Parameters: []Parameter{
		{Name: "walletId", Type: ParamString, Description: "Wallet to report on", Required: true},
		{Name: "startDate", Type: ParamDate, Description: "First day included (YYYY-MM-DD)", Required: true},
		{Name: "endDate", Type: ParamDate, Description: "Last day included (YYYY-MM-DD)"},
	},
	CompatibleSchemaTypes: []string{"crypto_transaction"},
}

type transactionLedger struct {
	base
}

func newTransactionLedger(env Env) (Generator, error) {
	b, err := newBase(transactionLedgerMeta, env,
		shape{
			dimensions: []string{"timestamp", "transactionId", "assetTicker", "operation", "counterparty", "status"},
			measures:   []string{"quantity", "price", "value", "fee"},
		},
		filterColumns{asset: "assetTicker", operation: "operation", counterparty: "counterparty", status: "status"},
	)
	if err != nil {
		return nil, err
	}
	return &transactionLedger{base: b}, nil
}

func (g *transactionLedger) BuildQuery(ctx context.Context, params Params, filters Filters) (Query, error) {
	qb, p, err := g.prepare(ctx, params)
	if err != nil {
		return Query{}, err
	}
	qb.selectCols(
		"timestamp",
		"transactionId",
		"assetTicker",
		"operation",
		"quantity",
		"price",
		"value",
		"fee",
		"counterparty",
		"status",
	)
	qb.bind("walletId = @walletId", "walletId", p["walletId"])
	qb.bind("timestamp >= @startDate", "startDate", p["startDate"])
	bindEndDate(qb, p)
	qb.order("timestamp DESC", "transactionId").withLimit(p)
	return g.finish(qb, filters)
}
