package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/txlens/txlens/pkg/connection"
)

func testEnv() Env {
	return Env{
		Resolver: connection.Static{Ref: &connection.TableRef{ProjectID: "ledger", DatasetID: "main", TableID: "transactions"}},
		Dialect:  connection.ANSI{},
	}
}

func ids(ms []Metadata) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestReports_RegistryGetReturnsRegisteredID(t *testing.T) {
	t.Parallel()

	reg := Default()
	for _, m := range reg.ListForSchemaType("") {
		report, err := reg.Get(m.ID, testEnv())
		require.NoError(t, err, m.ID)
		require.Equal(t, m.ID, report.Metadata.ID)
		require.NotNil(t, report.Generator)
	}
}

func TestReports_RegistryRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(monthlyActivityMeta, newMonthlyActivity))
	err := reg.Register(monthlyActivityMeta, newMonthlyActivity)
	require.ErrorIs(t, err, ErrDuplicateReport)
	require.Len(t, reg.ListForSchemaType(""), 1)
}

func TestReports_RegistryGetUnknown(t *testing.T) {
	t.Parallel()

	_, err := Default().Get("nope", testEnv())
	require.ErrorIs(t, err, ErrReportNotFound)
}

func TestReports_RegistryRecoversFactoryFailures(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(Metadata{ID: "broken"}, func(Env) (Generator, error) {
		return nil, errors.New("boom")
	}))
	require.NoError(t, reg.Register(Metadata{ID: "panics"}, func(Env) (Generator, error) {
		panic("kaboom")
	}))

	_, err := reg.Get("broken", testEnv())
	require.ErrorContains(t, err, "boom")

	require.NotPanics(t, func() {
		_, err = reg.Get("panics", testEnv())
	})
	require.ErrorContains(t, err, "kaboom")

	_, err = Default().Get("monthly-activity", Env{})
	require.ErrorIs(t, err, connection.ErrMissingConnection)
}

func TestReports_ListForSchemaType(t *testing.T) {
	t.Parallel()

	reg := Default()
	all := reg.ListForSchemaType("")
	require.Equal(t, []string{
		"monthly-activity", "asset-balance", "transaction-ledger", "canton-party-activity", "fee-summary",
	}, ids(all))

	canton := reg.ListForSchemaType("canton_transaction")
	require.Equal(t, []string{"monthly-activity", "asset-balance", "canton-party-activity", "fee-summary"}, ids(canton))
	for _, m := range canton {
		require.True(t, m.CompatibleSchemaTypes == nil || contains(m.CompatibleSchemaTypes, "canton_transaction"), m.ID)
	}

	crypto := reg.ListForSchemaType("crypto_transaction")
	require.NotContains(t, ids(crypto), "canton-party-activity")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestReports_SearchIsCaseInsensitiveUnion(t *testing.T) {
	t.Parallel()

	reg := Default()
	require.Equal(t, []string{"fee-summary"}, ids(reg.Search("GAS")))
	require.Equal(t, []string{"canton-party-activity"}, ids(reg.Search("canton")))
	// "wallet" appears in descriptions; "ledger" only in name and keywords.
	require.Contains(t, ids(reg.Search("wallet")), "monthly-activity")
	require.Equal(t, []string{"transaction-ledger"}, ids(reg.Search("Ledger")))
	require.Empty(t, reg.Search("no such report"))
}

func TestReports_MonthlyActivityFilters(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("monthly-activity", testEnv())
	require.NoError(t, err)

	q, err := report.Generator.BuildQuery(context.Background(),
		Params{"walletId": "w1", "startDate": "2024-01-01"},
		Filters{Assets: []string{"BTC", "ETH"}, Operations: []string{"buy"}},
	)
	require.NoError(t, err)

	require.Equal(t, 1, strings.Count(q.SQL, "assetTicker IN ('BTC', 'ETH')"))
	require.Equal(t, 1, strings.Count(q.SQL, "operation IN ('buy')"))
	require.Contains(t, q.SQL, "walletId = @walletId")
	require.Contains(t, q.SQL, `FROM "ledger"."main"."transactions"`)
	require.Contains(t, q.SQL, "GROUP BY month, assetTicker, operation")
	require.True(t, strings.HasSuffix(q.SQL, "LIMIT 5000"))
	require.NotContains(t, q.SQL, "w1")

	require.Equal(t, "w1", q.Params["walletId"])
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), q.Params["startDate"])
	require.NotContains(t, q.Params, "endDate")
}

func TestReports_BuildIsDeterministic(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("monthly-activity", testEnv())
	require.NoError(t, err)
	params := Params{"walletId": "w1", "startDate": "2024-01-01", "endDate": "2024-03-31", "limit": 10}
	filters := Filters{Assets: []string{"BTC"}, Statuses: []string{"confirmed"}}

	a, err := report.Generator.BuildQuery(context.Background(), params, filters)
	require.NoError(t, err)
	b, err := report.Generator.BuildQuery(context.Background(), params, filters)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, strings.HasSuffix(a.SQL, "LIMIT 10"))
	require.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), a.Params["endDate"])
}

func TestReports_MissingWalletIDIsValidationError(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("monthly-activity", testEnv())
	require.NoError(t, err)

	err = report.Generator.Validate(Params{"startDate": "2024-01-01"})
	require.True(t, IsValidationError(err))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "walletId", verr.Field)
	require.Contains(t, err.Error(), "walletId")

	_, err = report.Generator.BuildQuery(context.Background(), Params{"startDate": "2024-01-01"}, Filters{})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "walletId", verr.Field)
}

func TestReports_InvalidParameterValues(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("monthly-activity", testEnv())
	require.NoError(t, err)

	tests := []struct {
		name   string
		params Params
		field  string
	}{
		{"bad date", Params{"walletId": "w1", "startDate": "01/02/2024"}, "startDate"},
		{"quote in id", Params{"walletId": "w1' OR 1=1 --", "startDate": "2024-01-01"}, "walletId"},
		{"bad limit", Params{"walletId": "w1", "startDate": "2024-01-01", "limit": "lots"}, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var verr *ValidationError
			require.ErrorAs(t, report.Generator.Validate(tt.params), &verr)
			require.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestReports_FilterValuesAreRejectedOrQuoted(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("transaction-ledger", testEnv())
	require.NoError(t, err)
	params := Params{"walletId": "w1", "startDate": "2024-01-01"}

	_, err = report.Generator.BuildQuery(context.Background(), params, Filters{Assets: []string{"BTC'); DROP TABLE x; --"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "assets", verr.Field)

	q, err := report.Generator.BuildQuery(context.Background(), params, Filters{Counterparties: []string{"Kraken", "Kraken", "Coinbase Pro"}})
	require.NoError(t, err)
	require.Contains(t, q.SQL, "counterparty IN ('Kraken', 'Coinbase Pro')")
}

func TestReports_UnsupportedFilterIsRejected(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("asset-balance", testEnv())
	require.NoError(t, err)

	_, err = report.Generator.BuildQuery(context.Background(), Params{"walletId": "w1"}, Filters{Operations: []string{"buy"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "operations", verr.Field)
}

func TestReports_FiltersEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{"zero", Filters{}, true},
		{"empty lists", Filters{Operations: []string{}, Statuses: []string{}}, true},
		{"asset", Filters{Assets: []string{"BTC"}}, false},
		{"status", Filters{Statuses: []string{"confirmed"}}, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.filters.Empty(), tt.name)
	}

	// Empty lists on columns the report lacks are not a rejected filter.
	report, err := Default().Get("asset-balance", testEnv())
	require.NoError(t, err)
	_, err = report.Generator.BuildQuery(context.Background(), Params{"walletId": "w1"}, Filters{Operations: []string{}})
	require.NoError(t, err)
}

func TestReports_MissingConnectionPart(t *testing.T) {
	t.Parallel()

	env := Env{Resolver: connection.Static{Ref: &connection.TableRef{ProjectID: "ledger", TableID: "transactions"}}}
	report, err := Default().Get("fee-summary", env)
	require.NoError(t, err)

	_, err = report.Generator.BuildQuery(context.Background(), Params{"startDate": "2024-01-01"}, Filters{})
	require.ErrorIs(t, err, connection.ErrMissingConnection)
	require.Contains(t, err.Error(), "datasetId")
}

func TestReports_CantonPartyActivity(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("canton-party-activity", testEnv())
	require.NoError(t, err)

	q, err := report.Generator.BuildQuery(context.Background(),
		Params{"partyId": "alice::1220abcd", "startDate": "2024-06-01"},
		Filters{Operations: []string{"Transfer"}},
	)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "partyId = @partyId")
	require.Contains(t, q.SQL, "recordTime >= @startDate")
	require.Contains(t, q.SQL, "choice IN ('Transfer')")
	require.Equal(t, "alice::1220abcd", q.Params["partyId"])
}

func TestReports_FeeSummaryOptionalWallet(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("fee-summary", testEnv())
	require.NoError(t, err)

	q, err := report.Generator.BuildQuery(context.Background(), Params{"startDate": "2024-01-01"}, Filters{})
	require.NoError(t, err)
	require.NotContains(t, q.SQL, "@walletId")
	require.NotContains(t, q.Params, "walletId")

	q, err = report.Generator.BuildQuery(context.Background(), Params{"startDate": "2024-01-01", "walletId": "w9"}, Filters{})
	require.NoError(t, err)
	require.Contains(t, q.SQL, "walletId = @walletId")
	require.Equal(t, "w9", q.Params["walletId"])
}

func TestReports_TransformAndSummarize(t *testing.T) {
	t.Parallel()

	report, err := Default().Get("monthly-activity", testEnv())
	require.NoError(t, err)

	month := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []map[string]any{
		{"month": month, "assetTicker": "BTC", "operation": "buy", "transactionCount": int64(2), "totalQuantity": "1.5", "totalValue": 60000.0},
		{"month": month, "assetTicker": "ETH", "operation": "buy", "transactionCount": int64(1), "totalQuantity": "not a number", "totalValue": nil},
		{"month": month.AddDate(0, 1, 0), "assetTicker": "BTC", "operation": "sell", "transactionCount": 3, "totalQuantity": []byte("0.5"), "totalValue": float32(100)},
	}

	records := report.Generator.Transform(rows)
	require.Len(t, records, 3)
	require.Equal(t, "2024-01-01", records[0].Dimensions["month"])
	require.Equal(t, 1.5, records[0].Measures["totalQuantity"])
	require.Zero(t, records[1].Measures["totalQuantity"])
	require.Zero(t, records[1].Measures["totalValue"])
	want := Record{
		Dimensions: map[string]string{"month": "2024-02-01", "assetTicker": "BTC", "operation": "sell"},
		Measures:   map[string]float64{"transactionCount": 3, "totalQuantity": 0.5, "totalValue": 100},
	}
	if diff := cmp.Diff(want, records[2]); diff != "" {
		t.Errorf("Transform() mismatch (-want +got):\n%s", diff)
	}

	s := report.Generator.Summarize(records)
	require.Equal(t, 3, s.Records)
	require.Equal(t, 2, s.Distinct["month"])
	require.Equal(t, 2, s.Distinct["assetTicker"])
	require.Equal(t, 2, s.Distinct["operation"])
	require.Equal(t, 6.0, s.Totals["transactionCount"])
	require.Equal(t, 2.0, s.Totals["totalQuantity"])
	require.Equal(t, 60100.0, s.Totals["totalValue"])
	require.Equal(t, "3 records", s.Lines()[0])
	require.Contains(t, s.Lines(), "total totalValue: 60,100")
}

func TestReports_ParameterContractJSON(t *testing.T) {
	t.Parallel()

	m, ok := Default().Metadata("monthly-activity")
	require.True(t, ok)
	require.Equal(t, []string{"startDate", "walletId"}, m.Required())
	require.Equal(t, ParamDate, m.Parameters[1].Type)
}
