package translator

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var (
	rangeBetweenRE  = regexp.MustCompile(`\b(?:from|between)\s+(\d{4}-\d{2}-\d{2})\s+(?:to|and|until|through)\s+(\d{4}-\d{2}-\d{2})\b`)
	rangeSinceRE    = regexp.MustCompile(`\b(since|after|before|until)\s+(\d{4}-\d{2}-\d{2})\b`)
	rangeLastNRE    = regexp.MustCompile(`\b(?:in\s+the\s+|over\s+the\s+|during\s+the\s+)?(?:last|past|previous)\s+(\d+)\s+(day|week|month|quarter|year)s?\b`)
	rangeDayRE      = regexp.MustCompile(`\b(today|yesterday)\b`)
	rangePeriodRE   = regexp.MustCompile(`\b(this|last|previous)\s+(week|month|quarter|year)\b`)
	rangeYTDRE      = regexp.MustCompile(`\b(?:ytd|year\s+to\s+date)\b`)
	rangeMonthRE    = regexp.MustCompile(`\b(?:in|during)\s+(january|february|march|april|may|june|july|august|september|october|november|december)(?:\s+(\d{4}))?\b`)
	rangeYearRE     = regexp.MustCompile(`\b(?:in|during)\s+(\d{4})\b`)
	monthsByName    = map[string]time.Month{}
	unitMonthCounts = map[string]int{"month": 1, "quarter": 3, "year": 12}
)

func init() {
	for m := time.January; m <= time.December; m++ {
		monthsByName[strings.ToLower(m.String())] = m
	}
}

// parseTimeRange extracts the first temporal phrase from text, which must be
// lower case, and returns the text with the phrase removed. Relative phrases
// resolve against now; "last 30 days" includes today.
func parseTimeRange(text string, now time.Time) (*TimeRange, string) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)

	cut := func(loc []int) string {
		return strings.Join(strings.Fields(text[:loc[0]]+" "+text[loc[1]:]), " ")
	}

	if m := rangeBetweenRE.FindStringSubmatchIndex(text); m != nil {
		start, err1 := time.Parse(isoDate, text[m[2]:m[3]])
		end, err2 := time.Parse(isoDate, text[m[4]:m[5]])
		if err1 == nil && err2 == nil && !end.Before(start) {
			return &TimeRange{Start: start, End: end.AddDate(0, 0, 1), Phrase: text[m[0]:m[1]]}, cut(m)
		}
	}
	if m := rangeSinceRE.FindStringSubmatchIndex(text); m != nil {
		if d, err := time.Parse(isoDate, text[m[4]:m[5]]); err == nil {
			tr := &TimeRange{Phrase: text[m[0]:m[1]]}
			switch text[m[2]:m[3]] {
			case "since":
				tr.Start = d
			case "after":
				tr.Start = d.AddDate(0, 0, 1)
			case "before":
				tr.End = d
			case "until":
				tr.End = d.AddDate(0, 0, 1)
			}
			return tr, cut(m)
		}
	}
	if m := rangeLastNRE.FindStringSubmatchIndex(text); m != nil {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err == nil && n > 0 {
			unit := text[m[4]:m[5]]
			var start time.Time
			switch unit {
			case "day":
				start = tomorrow.AddDate(0, 0, -n)
			case "week":
				start = tomorrow.AddDate(0, 0, -7*n)
			default:
				start = tomorrow.AddDate(0, -n*unitMonthCounts[unit], 0)
			}
			return &TimeRange{Start: start, End: tomorrow, Phrase: text[m[0]:m[1]]}, cut(m)
		}
	}
	if m := rangeDayRE.FindStringSubmatchIndex(text); m != nil {
		tr := &TimeRange{Start: today, End: tomorrow, Phrase: text[m[0]:m[1]]}
		if text[m[2]:m[3]] == "yesterday" {
			tr.Start, tr.End = today.AddDate(0, 0, -1), today
		}
		return tr, cut(m)
	}
	if m := rangeYTDRE.FindStringIndex(text); m != nil {
		return &TimeRange{Start: time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC), End: tomorrow, Phrase: text[m[0]:m[1]]}, cut(m)
	}
	if m := rangePeriodRE.FindStringSubmatchIndex(text); m != nil {
		start := periodStart(today, text[m[4]:m[5]])
		tr := &TimeRange{Start: start, End: tomorrow, Phrase: text[m[0]:m[1]]}
		if text[m[2]:m[3]] != "this" {
			tr.Start, tr.End = previousPeriod(start, text[m[4]:m[5]]), start
		}
		return tr, cut(m)
	}
	if m := rangeMonthRE.FindStringSubmatchIndex(text); m != nil {
		month := monthsByName[text[m[2]:m[3]]]
		year := today.Year()
		if m[4] >= 0 {
			year, _ = strconv.Atoi(text[m[4]:m[5]])
		} else if month > today.Month() {
			year--
		}
		start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		return &TimeRange{Start: start, End: start.AddDate(0, 1, 0), Phrase: text[m[0]:m[1]]}, cut(m)
	}
	if m := rangeYearRE.FindStringSubmatchIndex(text); m != nil {
		year, _ := strconv.Atoi(text[m[2]:m[3]])
		if year >= 1970 && year <= 2100 {
			start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
			return &TimeRange{Start: start, End: start.AddDate(1, 0, 0), Phrase: text[m[0]:m[1]]}, cut(m)
		}
	}
	return nil, text
}

// periodStart returns the first day of the calendar period containing day.
// Weeks start on Monday.
func periodStart(day time.Time, unit string) time.Time {
	switch unit {
	case "week":
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case "month":
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "quarter":
		q := (int(day.Month()) - 1) / 3
		return time.Date(day.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(day.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
}

func previousPeriod(start time.Time, unit string) time.Time {
	if unit == "week" {
		return start.AddDate(0, 0, -7)
	}
	return start.AddDate(0, -unitMonthCounts[unit], 0)
}

// Describe renders the range for confirmation text, with the exclusive end
// shown as the last included day.
func (r TimeRange) Describe() string {
	const layout = "Jan 2, 2006"
	switch {
	case !r.Start.IsZero() && !r.End.IsZero():
		last := r.End.AddDate(0, 0, -1)
		if last.Equal(r.Start) {
			return "on " + r.Start.Format(layout)
		}
		return "from " + r.Start.Format(layout) + " to " + last.Format(layout)
	case !r.Start.IsZero():
		return "on or after " + r.Start.Format(layout)
	case !r.End.IsZero():
		return "before " + r.End.Format(layout)
	}
	return "at any time"
}
