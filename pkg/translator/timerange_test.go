package translator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTranslator_ParseTimeRange(t *testing.T) {
	t.Parallel()

	// Saturday afternoon.
	now := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		text      string
		start     time.Time
		end       time.Time
		remaining string
	}{
		{name: "last n days includes today", text: "show btc trades in the last 30 days", start: day(2024, 5, 17), end: day(2024, 6, 16), remaining: "show btc trades"},
		{name: "past n weeks", text: "sells over the past 2 weeks", start: day(2024, 6, 2), end: day(2024, 6, 16), remaining: "sells"},
		{name: "last n months", text: "buys last 3 months", start: day(2024, 3, 16), end: day(2024, 6, 16), remaining: "buys"},
		{name: "yesterday", text: "deposits yesterday", start: day(2024, 6, 14), end: day(2024, 6, 15), remaining: "deposits"},
		{name: "today", text: "today", start: day(2024, 6, 15), end: day(2024, 6, 16), remaining: ""},
		{name: "this month", text: "fees this month", start: day(2024, 6, 1), end: day(2024, 6, 16), remaining: "fees"},
		{name: "last month", text: "fees last month", start: day(2024, 5, 1), end: day(2024, 6, 1), remaining: "fees"},
		{name: "last week starts monday", text: "last week", start: day(2024, 6, 3), end: day(2024, 6, 10), remaining: ""},
		{name: "this quarter", text: "this quarter", start: day(2024, 4, 1), end: day(2024, 6, 16), remaining: ""},
		{name: "year to date", text: "gains year to date", start: day(2024, 1, 1), end: day(2024, 6, 16), remaining: "gains"},
		{name: "named month this year", text: "sells in march", start: day(2024, 3, 1), end: day(2024, 4, 1), remaining: "sells"},
		{name: "future month means last year", text: "sells in december", start: day(2023, 12, 1), end: day(2024, 1, 1), remaining: "sells"},
		{name: "named month with year", text: "in february 2023", start: day(2023, 2, 1), end: day(2023, 3, 1), remaining: ""},
		{name: "calendar year", text: "total value in 2023", start: day(2023, 1, 1), end: day(2024, 1, 1), remaining: "total value"},
		{name: "explicit range is inclusive", text: "from 2024-01-01 to 2024-01-31", start: day(2024, 1, 1), end: day(2024, 2, 1), remaining: ""},
		{name: "since", text: "since 2024-03-01", start: day(2024, 3, 1), remaining: ""},
		{name: "before", text: "before 2024-03-01", end: day(2024, 3, 1), remaining: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr, remaining := parseTimeRange(tt.text, now)
			require.NotNil(t, tr)
			require.True(t, tt.start.Equal(tr.Start), "start %s", tr.Start)
			require.True(t, tt.end.Equal(tr.End), "end %s", tr.End)
			require.Equal(t, tt.remaining, remaining)
		})
	}
}

func TestTranslator_ParseTimeRange_None(t *testing.T) {
	t.Parallel()

	tr, remaining := parseTimeRange("total value by asset", time.Now())
	require.Nil(t, tr)
	require.Equal(t, "total value by asset", remaining)

	// An inverted explicit range is not a range.
	tr, _ = parseTimeRange("from 2024-02-01 to 2024-01-01", time.Now())
	require.Nil(t, tr)
}

func TestTranslator_TimeRangeDescribe(t *testing.T) {
	t.Parallel()

	require.Equal(t, "from Jan 1, 2024 to Jan 31, 2024", TimeRange{Start: day(2024, 1, 1), End: day(2024, 2, 1)}.Describe())
	require.Equal(t, "on Jun 14, 2024", TimeRange{Start: day(2024, 6, 14), End: day(2024, 6, 15)}.Describe())
	require.Equal(t, "on or after Mar 1, 2024", TimeRange{Start: day(2024, 3, 1)}.Describe())
	require.Equal(t, "before Mar 1, 2024", TimeRange{End: day(2024, 3, 1)}.Describe())
}
