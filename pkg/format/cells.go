package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/txlens/txlens/pkg/catalog"
)

// DateLayout is how date-like cells are rendered, always in UTC.
const DateLayout = "Jan 2, 2006, 3:04 PM"

var (
	currencyWords = []string{"value", "price", "cost", "fee", "gain", "loss"}
	percentWords  = []string{"percent", "percentage", "pct", "rate", "ratio"}
	dateWords     = []string{"date", "time", "timestamp", "datetime", "month", "week", "day", "year", "period", "quarter"}

	dateLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006-01",
	}
)

type columnKind int

const (
	kindOther columnKind = iota
	kindCurrency
	kindPercent
	kindDate
)

// headerKind looks at the words of a column name, so "operation" is not a
// ratio and "createdAt" is a date.
func headerKind(header string) columnKind {
	words := catalog.SplitWords(header)
	switch {
	case hasWord(words, percentWords):
		return kindPercent
	case hasWord(words, currencyWords):
		return kindCurrency
	case hasWord(words, dateWords), len(words) > 1 && words[len(words)-1] == "at":
		return kindDate
	}
	return kindOther
}

func hasWord(words, keywords []string) bool {
	for _, w := range words {
		for _, k := range keywords {
			if w == k || w == k+"s" || w == k+"es" {
				return true
			}
		}
	}
	return false
}

// number reports v as a float64 when it is numeric or a numeric string.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		return f, err == nil
	}
	return 0, false
}

// timeValue reports v as a time when it is one or parses as one.
func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func currency(f float64) string {
	s := "$" + humanize.FormatFloat("#,###.##", math.Abs(f))
	if f < 0 && s != "$0.00" {
		return "-" + s
	}
	return s
}

func plainNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return humanize.Comma(int64(f))
	}
	return humanize.CommafWithDigits(f, 4)
}

// cell renders one value for display. Values of unexpected shapes fall back
// to fmt.Sprint.
func (f *Formatter) cell(kind columnKind, v any) string {
	if v == nil {
		return ""
	}
	switch kind {
	case kindCurrency:
		if n, ok := number(v); ok {
			return currency(n)
		}
	case kindPercent:
		if n, ok := number(v); ok {
			if f.cfg.PercentScaleThreshold > 0 && math.Abs(n) < f.cfg.PercentScaleThreshold {
				n *= 100
			}
			return strconv.FormatFloat(n, 'f', 2, 64) + "%"
		}
	case kindDate:
		if t, ok := timeValue(v); ok {
			return t.UTC().Format(DateLayout)
		}
		if n, ok := number(v); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(DateLayout)
	}
	if n, ok := number(v); ok {
		return plainNumber(n)
	}
	return fmt.Sprint(v)
}
