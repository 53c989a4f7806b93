package reports

import "context"

var cantonPartyActivityMeta = Metadata{
	ID:          "canton-party-activity",
	Name:        "Canton Party Activity",
	Description: "Transfer counts and amounts per template and choice for one Canton party.",
	Keywords:    []string{"canton", "party", "template", "choice", "transfers"},
	Parameters: []Parameter{
		{Name: "partyId", Type: ParamString, Description: "Canton party identifier", Required: true},
		{Name: "startDate", Type: ParamDate, Description: "First day included (YYYY-MM-DD)", Required: true},
	},
	CompatibleSchemaTypes: []string{"canton_transaction"},
}

type cantonPartyActivity struct {
	base
}

func newCantonPartyActivity(env Env) (Generator, error) {
	b, err := newBase(cantonPartyActivityMeta, env,
		shape{
			dimensions: []string{"templateId", "choice"},
			measures:   []string{"updateCount", "totalAmount", "totalTrafficFee"},
		},
		filterColumns{asset: "instrumentId", operation: "choice", counterparty: "counterpartyId", status: "status"},
	)
	if err != nil {
		return nil, err
	}
	return &cantonPartyActivity{base: b}, nil
}

func (g *cantonPartyActivity) BuildQuery(ctx context.Context, params Params, filters Filters) (Query, error) {
	qb, p, err := g.prepare(ctx, params)
	if err != nil {
		return Query{}, err
	}
	qb.selectCols(
		"templateId",
		"choice",
		"COUNT(*) AS updateCount",
		"SUM(amount) AS totalAmount",
		"SUM(trafficFee) AS totalTrafficFee",
	)
	qb.bind("partyId = @partyId", "partyId", p["partyId"])
	qb.bind("recordTime >= @startDate", "startDate", p["startDate"])
	qb.group("templateId", "choice").
		order("updateCount DESC", "templateId", "choice").
		withLimit(p)
	return g.finish(qb, filters)
}
