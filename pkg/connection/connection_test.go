package connection

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnection_QualifiedRequiresEveryPart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := Qualified(ctx, Static{}, ANSI{})
	require.ErrorIs(t, err, ErrMissingConnection)

	_, err = Qualified(ctx, Static{Ref: &TableRef{ProjectID: "p", TableID: "t"}}, ANSI{})
	require.ErrorIs(t, err, ErrMissingConnection)
	require.Contains(t, err.Error(), "datasetId")

	got, err := Qualified(ctx, Static{Ref: &TableRef{ProjectID: "p", DatasetID: "d", TableID: "t"}}, ANSI{})
	require.NoError(t, err)
	require.Equal(t, `"p"."d"."t"`, got)
}

func TestConnection_QuoteIdentEscapesQuotes(t *testing.T) {
	t.Parallel()
	require.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func TestConnection_Mapping(t *testing.T) {
	t.Parallel()

	doc := `
default: crypto_transaction
tables:
  crypto_transaction: {project_id: ledger, dataset_id: main, table_id: transactions}
  canton_transaction: {project_id: ledger, dataset_id: canton, table_id: updates}
`
	m, err := LoadMapping(strings.NewReader(doc))
	require.NoError(t, err)

	ref, err := m.For("canton_transaction").Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ledger.canton.updates", ref.String())

	ref, err = m.For("").Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "transactions", ref.TableID)

	ref, err = m.For("unknown").Resolve(context.Background())
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestConnection_MappingRejectsDanglingDefault(t *testing.T) {
	t.Parallel()

	_, err := LoadMapping(strings.NewReader("default: nope\ntables: {}\n"))
	require.Error(t, err)
}
