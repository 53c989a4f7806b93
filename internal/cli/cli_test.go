package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/txlens/txlens/pkg/catalog"
	"github.com/txlens/txlens/pkg/confirm"
	"github.com/txlens/txlens/pkg/pipeline"
	"github.com/txlens/txlens/pkg/reports"
)

type mockConversation struct {
	AskFunc   func(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error)
	ReplyFunc func(ctx context.Context, conversationID, text string) (*pipeline.Answer, error)

	mu      sync.Mutex
	replies []string
}

func (m *mockConversation) Ask(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error) {
	return m.AskFunc(ctx, req)
}

func (m *mockConversation) Reply(ctx context.Context, conversationID, text string) (*pipeline.Answer, error) {
	m.mu.Lock()
	m.replies = append(m.replies, text)
	m.mu.Unlock()
	return m.ReplyFunc(ctx, conversationID, text)
}

func awaiting(id, text string) *pipeline.Answer {
	return &pipeline.Answer{
		ConversationID: id,
		Status:         pipeline.StatusAwaitingConfirmation,
		Confirmation:   &confirm.Response{Kind: confirm.KindConfirmation, Text: text},
	}
}

func answered(id, text string) *pipeline.Answer {
	return &pipeline.Answer{
		ConversationID: id,
		Status:         pipeline.StatusAnswered,
		Confirmation:   &confirm.Response{Text: text},
	}
}

func TestCLI_ConverseInteractive(t *testing.T) {
	t.Parallel()

	conv := &mockConversation{
		AskFunc: func(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error) {
			require.Equal(t, "total value by asset", req.Question)
			return awaiting("c1", "Confirm total value by asset?"), nil
		},
		ReplyFunc: func(ctx context.Context, conversationID, text string) (*pipeline.Answer, error) {
			require.Equal(t, "c1", conversationID)
			if strings.HasPrefix(text, "modify:") {
				return awaiting("c1", "Confirm total value by asset for BTC?"), nil
			}
			return answered("c1", "BTC | $1,200.50"), nil
		},
	}

	var out bytes.Buffer
	err := converse(context.Background(), conv, "total value by asset", false, strings.NewReader("\nmodify: only BTC\nconfirm\n"), &out)
	require.NoError(t, err)
	require.Equal(t, []string{"modify: only BTC", "confirm"}, conv.replies)
	require.Contains(t, out.String(), "Confirm total value by asset for BTC?")
	require.True(t, strings.HasSuffix(out.String(), "BTC | $1,200.50\n"), out.String())
}

func TestCLI_ConverseAutoConfirm(t *testing.T) {
	t.Parallel()

	conv := &mockConversation{
		AskFunc: func(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error) {
			return awaiting("c1", "Confirm?"), nil
		},
		ReplyFunc: func(ctx context.Context, conversationID, text string) (*pipeline.Answer, error) {
			return answered("c1", "done"), nil
		},
	}
	var out bytes.Buffer
	require.NoError(t, converse(context.Background(), conv, "q", true, strings.NewReader(""), &out))
	require.Equal(t, []string{"confirm"}, conv.replies)
}

func TestCLI_ConverseStopsAtEndOfInput(t *testing.T) {
	t.Parallel()

	conv := &mockConversation{
		AskFunc: func(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error) {
			return &pipeline.Answer{
				ConversationID: "c1",
				Status:         pipeline.StatusAwaitingColumn,
				Confirmation:   &confirm.Response{Kind: confirm.KindColumnSelection, Text: "1. operation"},
			}, nil
		},
	}
	var out bytes.Buffer
	require.NoError(t, converse(context.Background(), conv, "count by kind", true, strings.NewReader(""), &out))
	require.Empty(t, conv.replies)
	require.Contains(t, out.String(), "1. operation")
}

func TestCLI_ConverseAskError(t *testing.T) {
	t.Parallel()

	conv := &mockConversation{AskFunc: func(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error) {
		return nil, pipeline.ErrEmptyQuestion
	}}
	err := converse(context.Background(), conv, " ", false, strings.NewReader(""), &bytes.Buffer{})
	require.ErrorIs(t, err, pipeline.ErrEmptyQuestion)
}

func TestCLI_ReadQuestions(t *testing.T) {
	t.Parallel()

	qs, err := readQuestions(strings.NewReader("# monthly checks\ntotal value by asset\n\n  fees last month  \n"))
	require.NoError(t, err)
	require.Equal(t, []string{"total value by asset", "fees last month"}, qs)
}

func TestCLI_RunBatchKeepsOrder(t *testing.T) {
	t.Parallel()

	conv := &mockConversation{
		AskFunc: func(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error) {
			if req.Question == "broken" {
				return nil, errors.New("backend down")
			}
			return awaiting(req.Question, "confirm "+req.Question), nil
		},
		ReplyFunc: func(ctx context.Context, conversationID, text string) (*pipeline.Answer, error) {
			return answered(conversationID, "answer to "+conversationID), nil
		},
	}

	questions := []string{"q1", "broken", "q3", "q4", "q5"}
	outputs, err := runBatch(context.Background(), conv, questions, 2)
	require.NoError(t, err)
	require.Len(t, outputs, 5)
	require.Equal(t, "Error: backend down", outputs[1])
	for _, i := range []int{0, 2, 3, 4} {
		require.True(t, strings.HasSuffix(outputs[i], "answer to "+questions[i]), outputs[i])
	}
}

func TestCLI_PrintReports(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printReports(&out, reports.Default().ListForSchemaType("crypto_transaction"))
	text := out.String()
	require.Contains(t, text, "monthly-activity")
	require.Contains(t, text, "startDate, walletId")
	require.NotContains(t, text, "canton-party-activity")
}

func TestCLI_LoadCatalogs(t *testing.T) {
	t.Parallel()

	set, err := loadCatalogs("")
	require.NoError(t, err)
	require.Equal(t, []string{"canton_transaction", "crypto_transaction"}, set.SchemaTypes())

	builtin, err := catalog.Default()
	require.NoError(t, err)
	cat, _ := builtin.Get("crypto_transaction")
	require.Contains(t, cat.Describe(), "- assetTicker (string): Ticker symbol of the asset")
}

func TestCLI_FiltersFromFlags(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.StringSlice("asset", nil, "")
	flags.StringSlice("operation", nil, "")
	flags.StringSlice("counterparty", nil, "")
	flags.StringSlice("status", nil, "")
	flags.StringToString("param", nil, "")
	require.NoError(t, flags.Parse([]string{"--asset", "BTC,ETH", "--status=Completed", "--param", "walletId=w1"}))

	filters := filtersFromFlags(flags)
	require.Equal(t, []string{"BTC", "ETH"}, filters.Assets)
	require.Equal(t, []string{"Completed"}, filters.Statuses)
	require.Nil(t, filters.Operations)
	require.Nil(t, filters.Counterparties)
}
