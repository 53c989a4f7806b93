package confirm

import (
	"github.com/txlens/txlens/pkg/catalog"
)

// buckets are checked in order; a column lands in the first bucket with a
// keyword equal to one of its words (or that word's plural).
var buckets = []struct {
	name     string
	keywords []string
}{
	{"Time", []string{"time", "timestamp", "date", "datetime", "created", "updated", "period", "day", "month", "year"}},
	{"Asset", []string{"asset", "ticker", "token", "coin", "symbol", "instrument"}},
	{"Quantity", []string{"quantity", "qty", "amount", "volume", "units", "size", "balance"}},
	{"Transaction", []string{"transaction", "tx", "operation", "type", "choice", "template", "hash", "update", "trade"}},
	{"Identifier", []string{"identifier", "uuid", "guid", "key", "reference", "contract"}},
	{"Wallet", []string{"wallet", "party", "owner", "holder"}},
	{"Pricing", []string{"price", "fee", "rate", "commission", "gas"}},
	{"Status", []string{"status", "state"}},
	{"Valuation", []string{"value", "worth", "cost", "basis", "gain", "loss", "pnl", "profit"}},
	{"Address", []string{"address", "sender", "recipient"}},
	{"Tagging", []string{"tag", "label", "category"}},
	{"Metadata", []string{"memo", "note", "description", "comment", "metadata"}},
	{"Error", []string{"error", "failure", "reason"}},
	{"Inventory", []string{"inventory", "lot", "holding", "position"}},
	{"Entity", []string{"counterparty", "entity", "exchange", "venue", "protocol", "network", "domain"}},
	{"Currency", []string{"currency", "fiat", "usd"}},
	{"Account", []string{"account"}},
}

const otherBucket = "Other"

// ColumnGroup is one non-empty bucket of columns.
type ColumnGroup struct {
	Bucket  string
	Columns []string
}

// Bucket names the bucket column belongs to.
func Bucket(column string) string {
	words := catalog.SplitWords(column)
	for _, b := range buckets {
		for _, kw := range b.keywords {
			for _, w := range words {
				if w == kw || w == kw+"s" {
					return b.name
				}
			}
		}
	}
	return otherBucket
}

// Group sorts columns into buckets in bucket order, keeping the input order
// within a bucket and dropping empty buckets.
func Group(columns []string) []ColumnGroup {
	byBucket := map[string][]string{}
	for _, col := range columns {
		b := Bucket(col)
		byBucket[b] = append(byBucket[b], col)
	}
	var out []ColumnGroup
	for _, b := range buckets {
		if cols := byBucket[b.name]; len(cols) > 0 {
			out = append(out, ColumnGroup{Bucket: b.name, Columns: cols})
		}
	}
	if cols := byBucket[otherBucket]; len(cols) > 0 {
		out = append(out, ColumnGroup{Bucket: otherBucket, Columns: cols})
	}
	return out
}
