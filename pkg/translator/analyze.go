package translator

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/txlens/txlens/pkg/catalog"
)

// DefaultAssets are the tickers recognized without configuration.
var DefaultAssets = []string{
	"BTC", "ETH", "SOL", "USDC", "USDT", "DAI", "ADA", "DOT", "XRP", "DOGE", "AVAX",
	"MATIC", "LINK", "LTC", "BCH", "ATOM", "NEAR", "ARB", "OP", "BNB", "TRX", "CC",
}

var assetNames = map[string]string{
	"bitcoin":   "BTC",
	"ethereum":  "ETH",
	"ether":     "ETH",
	"solana":    "SOL",
	"cardano":   "ADA",
	"polkadot":  "DOT",
	"ripple":    "XRP",
	"dogecoin":  "DOGE",
	"tether":    "USDT",
	"litecoin":  "LTC",
	"avalanche": "AVAX",
	"chainlink": "LINK",
	"cosmos":    "ATOM",
	"polygon":   "MATIC",
}

// Tickers that are also English words only match when written in upper case.
var wordTickers = map[string]bool{"LINK": true, "DOT": true, "NEAR": true, "OP": true, "ARB": true, "CC": true, "ONE": true}

// valueSynonyms maps inflections onto stored categorical values.
var valueSynonyms = map[string][]string{
	"buy":        {"bought", "buying", "purchase", "purchases", "purchased"},
	"sell":       {"sold", "selling", "sale", "sales"},
	"deposit":    {"deposited", "deposits"},
	"withdrawal": {"withdraw", "withdrew", "withdrawn", "withdrawals"},
	"transfer":   {"transferred", "transfers"},
	"staking":    {"stake", "staked", "stakes"},
	"reward":     {"rewards", "rewarded"},
	"swap":       {"swapped", "swaps"},
	"burn":       {"burned", "burns"},
	"mint":       {"minted", "mints"},
}

// outflowValues are operation values that reduce a holding.
var outflowValues = map[string]bool{"sell": true, "withdrawal": true, "send": true, "fee": true}

var (
	walletIDRE  = regexp.MustCompile(`(?i)\b(wallet|party)(?:\s+id)?\s+(?:'([^']+)'|"([^"]+)"|([A-Za-z0-9][A-Za-z0-9._:@-]*))`)
	limitRE     = regexp.MustCompile(`\b(top|first|limit(?:\s+to)?|latest|last|most\s+recent|newest|oldest|bottom)\s+(\d+)\b`)
	limitPostRE = regexp.MustCompile(`\b(\d+)\s+(largest|biggest|highest|smallest|lowest|most\s+recent|latest|newest|oldest)\b`)

	balanceRE    = regexp.MustCompile(`\b(balance|balances|holdings?|hold|own|positions?|portfolio|net)\b`)
	trendRE      = regexp.MustCompile(`\b(trends?|trending|over time|monthly|weekly|daily|quarterly|yearly|growth|(?:per|by|each|every) (?:day|week|month|quarter|year))\b`)
	comparisonRE = regexp.MustCompile(`\b(compare|compared|comparing|comparison|versus|vs|difference between)\b`)
	rankDescRE   = regexp.MustCompile(`\b(largest|biggest|highest|most expensive|top)\b`)
	rankAscRE    = regexp.MustCompile(`\b(smallest|lowest|cheapest|bottom)\b`)
	oldestRE     = regexp.MustCompile(`\b(oldest|earliest)\b`)
)

var bucketWords = map[string]string{
	"day": "day", "days": "day", "daily": "day",
	"week": "week", "weeks": "week", "weekly": "week",
	"month": "month", "months": "month", "monthly": "month",
	"quarter": "quarter", "quarters": "quarter", "quarterly": "quarter",
	"year": "year", "years": "year", "yearly": "year", "annual": "year",
}

var aggTriggers = []struct {
	phrase string
	fn     AggFunc
}{
	{"how many", AggCount},
	{"number of", AggCount},
	{"count of", AggCount},
	{"count", AggCount},
	{"how much", AggSum},
	{"sum of", AggSum},
	{"sum", AggSum},
	{"total", AggSum},
	{"average", AggAvg},
	{"avg", AggAvg},
	{"mean", AggAvg},
	{"maximum", AggMax},
	{"max", AggMax},
	{"minimum", AggMin},
	{"min", AggMin},
}

var groupTriggers = []string{"grouped by", "group by", "broken down by", "split by", "for each", "by", "per", "each"}

var sortTriggers = []string{"sorted by", "sort by", "ordered by", "order by", "ranked by", "rank by"}

var compareOps = []struct {
	phrase string
	op     Operator
}{
	{"greater than or equal to", OpGte},
	{"less than or equal to", OpLte},
	{"greater than", OpGt},
	{"more than", OpGt},
	{"larger than", OpGt},
	{"bigger than", OpGt},
	{"higher than", OpGt},
	{"less than", OpLt},
	{"smaller than", OpLt},
	{"lower than", OpLt},
	{"at least", OpGte},
	{"at most", OpLte},
	{"equal to", OpEq},
	{"equals", OpEq},
	{"exceeding", OpGt},
	{"over", OpGt},
	{"above", OpGt},
	{"under", OpLt},
	{"below", OpLt},
	{"between", OpBetween},
	{">=", OpGte},
	{"<=", OpLte},
	{">", OpGt},
	{"<", OpLt},
	{"=", OpEq},
}

// analysis is the outcome of reading a question locally.
type analysis struct {
	parse      *QueryParseResult
	mappings   []ColumnMapping
	unresolved []string
	ambiguity  *Ambiguity
}

func (a *analysis) exactMatches() int {
	seen := map[string]bool{}
	for _, m := range a.mappings {
		if m.Match == catalog.MatchExact && len(m.Candidates) <= 1 {
			seen[m.Column] = true
		}
	}
	return len(seen)
}

func (a *analysis) substringMatches() int {
	n := 0
	for _, m := range a.mappings {
		if m.Match == catalog.MatchSubstring {
			n++
		}
	}
	return n
}

// ambiguous returns the mappings that had more than one equally good column.
func (a *analysis) ambiguous() []ColumnMapping {
	var out []ColumnMapping
	seen := map[string]bool{}
	for _, m := range a.mappings {
		if len(m.Candidates) > 1 && !seen[m.Term] {
			seen[m.Term] = true
			out = append(out, m)
		}
	}
	return out
}

type analyzer struct {
	cat     *catalog.Catalog
	now     time.Time
	tickers map[string]bool
	upper   map[string]bool // tokens written in upper case in the question
}

var tokenRE = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]*`)

func newAnalyzer(cat *catalog.Catalog, now time.Time, tickers map[string]bool, question string) *analyzer {
	upper := map[string]bool{}
	for _, tok := range tokenRE.FindAllString(question, -1) {
		if tok == strings.ToUpper(tok) {
			upper[tok] = true
		}
	}
	return &analyzer{cat: cat, now: now, tickers: tickers, upper: upper}
}

// pendingAgg is an aggregate whose measure was not named next to its keyword.
type pendingAgg struct {
	fn   AggFunc
	term string
}

func (an *analyzer) analyze(question string, hints *Hints) *analysis {
	a := &analysis{parse: &QueryParseResult{Metadata: map[string]any{"schemaType": an.cat.SchemaType, "source": "local"}}}
	p := a.parse

	rest := an.extractIDs(question, a)
	text := normalizeText(rest)
	fullText := text

	if tr, remaining := parseTimeRange(text, an.now); tr != nil {
		text = remaining
		if tf, ok := an.cat.TimeField(); ok {
			tr.Column = tf.Column
			p.TimeRange = tr
		} else {
			a.unresolved = append(a.unresolved, tr.Phrase)
			an.setAmbiguity(a, "time range", tr.Phrase, nil)
		}
	}

	var rankHint string
	if m := limitRE.FindStringSubmatchIndex(text); m != nil {
		p.Limit, _ = strconv.Atoi(text[m[4]:m[5]])
		rankHint = strings.Join(strings.Fields(text[m[2]:m[3]]), " ")
		text = strings.Join(strings.Fields(text[:m[0]]+" "+text[m[1]:]), " ")
	} else if m := limitPostRE.FindStringSubmatchIndex(text); m != nil {
		p.Limit, _ = strconv.Atoi(text[m[2]:m[3]])
		rankHint = strings.Join(strings.Fields(text[m[4]:m[5]]), " ")
		text = strings.Join(strings.Fields(text[:m[0]]+" "+text[m[1]:]), " ")
	}

	ws := newWords(text)
	an.parseSort(ws, a)
	an.parseComparisons(ws, a)
	pending := an.parseAggregations(ws, a)
	an.parseGroupBy(ws, a)
	an.parseValues(ws, a)
	mentions := an.scanMentions(ws, a)
	if hints != nil {
		mentions = an.mergeHints(a, hints, mentions)
	}
	an.resolvePending(pending, mentions, a)

	if !p.Intent.Valid() {
		p.Intent = classify(fullText, p)
	}
	an.applyIntentDefaults(a, fullText, rankHint, mentions)
	an.alignOrderBy(a)
	if p.Intent == IntentList || p.Intent == IntentFilter {
		an.project(a, mentions)
	} else {
		p.Columns = uniqueColumns(a.mappings)
	}
	return a
}

// extractIDs pulls explicit wallet and party identifiers out of the original
// text, keeping their case.
func (an *analyzer) extractIDs(question string, a *analysis) string {
	byColumn := map[string][]any{}
	var order []string
	rest := walletIDRE.ReplaceAllStringFunc(question, func(s string) string {
		m := walletIDRE.FindStringSubmatch(s)
		kind := strings.ToLower(m[1])
		id, quoted := m[4], false
		if m[2] != "" || m[3] != "" {
			id, quoted = m[2]+m[3], true
		}
		if !quoted && !strings.ContainsAny(id, "0123456789") && !strings.Contains(id, "::") {
			return s
		}
		category := catalog.CategoryWallet
		if kind == "party" {
			category = catalog.CategoryParty
		}
		fields := an.cat.ByCategory(category)
		if len(fields) == 0 {
			a.unresolved = append(a.unresolved, kind)
			return s
		}
		col := fields[0].Column
		if _, ok := byColumn[col]; !ok {
			order = append(order, col)
		}
		byColumn[col] = append(byColumn[col], id)
		a.mappings = append(a.mappings, ColumnMapping{Term: kind, Column: col, Match: catalog.MatchExact})
		return " "
	})
	for _, col := range order {
		a.parse.Filters = append(a.parse.Filters, equalityOrIn(col, byColumn[col]))
	}
	return rest
}

func uniqueColumns(mappings []ColumnMapping) []ColumnMapping {
	seen := map[string]bool{}
	var out []ColumnMapping
	for _, m := range mappings {
		if !seen[m.Column] {
			seen[m.Column] = true
			out = append(out, m)
		}
	}
	return out
}

func equalityOrIn(column string, values []any) FilterCondition {
	if len(values) == 1 {
		return FilterCondition{Column: column, Operator: OpEq, Value: values[0]}
	}
	return FilterCondition{Column: column, Operator: OpIn, Value: values}
}

func isNumeric(f catalog.FieldMetadata) bool { return f.Numeric() }

func isCategorical(f catalog.FieldMetadata) bool {
	return !f.Numeric() && !f.Type.Temporal() && f.Type != catalog.TypeBoolean
}

func anyField(catalog.FieldMetadata) bool { return true }

// resolve maps a phrase onto the fields keep accepts. Exact matches win over
// substring matches; several equally good fields are all returned as
// candidates with the first chosen.
func (an *analyzer) resolve(phrase string, keep func(catalog.FieldMetadata) bool, allowSubstring bool) (ColumnMapping, bool) {
	var exact, sub []string
	for _, m := range an.cat.Match(phrase) {
		if !keep(m.Field) {
			continue
		}
		switch m.Kind {
		case catalog.MatchExact:
			exact = append(exact, m.Field.Column)
		case catalog.MatchSubstring:
			sub = append(sub, m.Field.Column)
		}
	}
	switch {
	case len(exact) > 0:
		cm := ColumnMapping{Term: phrase, Column: exact[0], Match: catalog.MatchExact}
		if len(exact) > 1 {
			cm.Candidates = exact
		}
		return cm, true
	case allowSubstring && len(sub) > 0 && len(phrase) >= 4:
		cm := ColumnMapping{Term: phrase, Column: sub[0], Match: catalog.MatchSubstring}
		if len(sub) > 1 {
			cm.Candidates = sub
		}
		return cm, true
	}
	return ColumnMapping{}, false
}

// resolveRun tries runs of up to three tokens starting at i, going forward
// (step 1) or ending at i going backward (step -1). Longer runs are tried
// first, exact matches before substring matches. It returns the mapping and
// the first index and length of the run.
func (an *analyzer) resolveRun(ws *words, i, step int, keep func(catalog.FieldMetadata) bool) (ColumnMapping, int, int, bool) {
	i = ws.skipStop(i, step)
	for _, allowSub := range []bool{false, true} {
		for n := 3; n >= 1; n-- {
			start := i
			if step < 0 {
				start = i - n + 1
			}
			ph := ws.phrase(start, n)
			if ph == "" {
				continue
			}
			if allowSub && n > 1 {
				continue
			}
			if cm, ok := an.resolve(ph, keep, allowSub); ok {
				return cm, start, n, true
			}
		}
	}
	return ColumnMapping{}, i, 0, false
}

func (an *analyzer) setAmbiguity(a *analysis, clause, term string, keep func(catalog.FieldMetadata) bool) {
	if a.ambiguity != nil {
		return
	}
	amb := &Ambiguity{Clause: clause, Term: term}
	if keep != nil {
		for _, f := range an.cat.Fields {
			if f.Filterable && keep(f) {
				amb.Candidates = append(amb.Candidates, f.Column)
			}
		}
	}
	a.ambiguity = amb
}

func (an *analyzer) parseSort(ws *words, a *analysis) {
	for i := 0; i < ws.len(); i++ {
		n := ws.match(i, sortTriggers)
		if n == 0 {
			continue
		}
		cm, start, k, ok := an.resolveRun(ws, i+n, 1, anyField)
		if !ok {
			term := ws.free(ws.skipStop(i+n, 1))
			a.unresolved = append(a.unresolved, term)
			an.setAmbiguity(a, "orderBy", term, anyField)
			ws.consume(i, n)
			continue
		}
		ws.consume(i, n)
		ws.consume(start, k)
		desc := true
		switch ws.free(start + k) {
		case "asc", "ascending":
			desc = false
			ws.consume(start+k, 1)
		case "desc", "descending":
			ws.consume(start+k, 1)
		}
		a.mappings = append(a.mappings, cm)
		a.parse.OrderBy = append(a.parse.OrderBy, OrderByClause{Column: cm.Column, Descending: desc})
	}
}

func (an *analyzer) parseComparisons(ws *words, a *analysis) {
	for i := 0; i < ws.len(); i++ {
		var op Operator
		n := 0
		for _, c := range compareOps {
			if ws.at(i, c.phrase) {
				op, n = c.op, len(strings.Fields(c.phrase))
				break
			}
		}
		if n == 0 {
			continue
		}
		lo, ok := parseNumber(ws.free(i + n))
		if !ok {
			continue
		}
		used := n + 1
		var value any = lo
		if op == OpBetween {
			hi, ok := parseNumber(ws.free(i + n + 2))
			if ws.free(i+n+1) != "and" || !ok {
				continue
			}
			value = []any{lo, hi}
			used = n + 3
		}

		cm, start, k, found := an.resolveRun(ws, i-1, -1, isNumeric)
		raw := ws.free(i + n)
		ws.consume(i, used)
		if !found && strings.HasPrefix(raw, "$") {
			// A currency amount with no named column compares the valuation.
			if col := an.firstOf(catalog.CategoryValuation); col != "" {
				a.parse.Filters = append(a.parse.Filters, FilterCondition{Column: col, Operator: op, Value: value})
				continue
			}
		}
		if !found {
			term := ws.free(ws.skipStop(i-1, -1))
			if term == "" {
				term = strings.Join(ws.w[i:i+used], " ")
			}
			a.unresolved = append(a.unresolved, term)
			an.setAmbiguity(a, "filter", term, isNumeric)
			continue
		}
		ws.consume(start, k)
		a.mappings = append(a.mappings, cm)
		a.parse.Filters = append(a.parse.Filters, FilterCondition{Column: cm.Column, Operator: op, Value: value})
	}
}

func (an *analyzer) parseAggregations(ws *words, a *analysis) []pendingAgg {
	var pending []pendingAgg
	for i := 0; i < ws.len(); i++ {
		var fn AggFunc
		n := 0
		for _, t := range aggTriggers {
			if ws.at(i, t.phrase) {
				fn, n = t.fn, len(strings.Fields(t.phrase))
				break
			}
		}
		if n == 0 {
			continue
		}
		ws.consume(i, n)
		cm, start, k, ok := an.resolveRun(ws, i+n, 1, isNumeric)
		if ok {
			ws.consume(start, k)
			a.mappings = append(a.mappings, cm)
			a.parse.Aggregations = appendAgg(a.parse.Aggregations, Aggregation{Function: fn, Column: cm.Column})
			continue
		}
		if fn == AggCount {
			a.parse.Aggregations = appendAgg(a.parse.Aggregations, Aggregation{Function: AggCount})
			continue
		}
		pending = append(pending, pendingAgg{fn: fn, term: ws.free(ws.skipStop(i+n, 1))})
	}
	return pending
}

func appendAgg(aggs []Aggregation, agg Aggregation) []Aggregation {
	agg.Alias = aggAlias(agg)
	for _, existing := range aggs {
		if existing.Alias == agg.Alias {
			return aggs
		}
	}
	return append(aggs, agg)
}

func aggAlias(agg Aggregation) string {
	if agg.Column == "" {
		return "transactionCount"
	}
	col := titleFirst(agg.Column)
	switch agg.Function {
	case AggCount:
		return "count" + col
	case AggSum:
		if agg.Signed {
			return "net" + col
		}
		return "total" + col
	case AggAvg:
		return "avg" + col
	case AggMin:
		return "min" + col
	case AggMax:
		return "max" + col
	}
	return strings.ToLower(string(agg.Function)) + col
}

func (an *analyzer) parseGroupBy(ws *words, a *analysis) {
	for i := 0; i < ws.len(); i++ {
		n := ws.match(i, groupTriggers)
		if n == 0 {
			continue
		}
		next := ws.skipStop(i+n, 1)
		w := ws.free(next)
		if w == "" {
			continue
		}
		if bucket, ok := bucketWords[w]; ok {
			tf, has := an.cat.TimeField()
			if !has {
				continue
			}
			ws.consume(i, n)
			ws.consume(next, 1)
			a.parse.GroupBy = appendGroup(a.parse.GroupBy, GroupByClause{Column: tf.Column, Bucket: bucket})
			continue
		}
		if _, isAsset := an.asset(w); isAsset {
			continue
		}
		cm, start, k, ok := an.resolveRun(ws, next, 1, isCategorical)
		if !ok {
			// "by value" on a measure ranks rather than groups.
			if nm, nstart, nk, found := an.resolveRun(ws, next, 1, isNumeric); found && nm.Match == catalog.MatchExact {
				ws.consume(i, n)
				ws.consume(nstart, nk)
				a.mappings = append(a.mappings, nm)
				a.parse.OrderBy = append(a.parse.OrderBy, OrderByClause{Column: nm.Column, Descending: true})
				continue
			}
		}
		ws.consume(i, n)
		if !ok {
			a.unresolved = append(a.unresolved, w)
			an.setAmbiguity(a, "groupBy", w, isCategorical)
			ws.consume(next, 1)
			continue
		}
		ws.consume(start, k)
		a.mappings = append(a.mappings, cm)
		a.parse.GroupBy = appendGroup(a.parse.GroupBy, GroupByClause{Column: cm.Column})
	}
	// Bare "monthly", "weekly" and the like also bucket time.
	for i := 0; i < ws.len(); i++ {
		w := ws.free(i)
		if !strings.HasSuffix(w, "ly") && w != "annual" {
			continue
		}
		bucket, ok := bucketWords[w]
		if !ok {
			continue
		}
		if tf, has := an.cat.TimeField(); has {
			ws.consume(i, 1)
			a.parse.GroupBy = appendGroup(a.parse.GroupBy, GroupByClause{Column: tf.Column, Bucket: bucket})
		}
	}
}

func appendGroup(groups []GroupByClause, g GroupByClause) []GroupByClause {
	for _, existing := range groups {
		if existing == g {
			return groups
		}
	}
	return append(groups, g)
}

func (an *analyzer) asset(w string) (string, bool) {
	if t, ok := assetNames[w]; ok {
		return t, true
	}
	up := strings.ToUpper(w)
	if !an.tickers[up] {
		return "", false
	}
	if wordTickers[up] && !an.upper[up] {
		return "", false
	}
	return up, true
}

// parseValues picks out asset tickers and known categorical values.
func (an *analyzer) parseValues(ws *words, a *analysis) {
	lookup := map[string][2]string{}
	for _, f := range an.cat.Fields {
		if !f.Filterable || len(f.Values) == 0 {
			continue
		}
		for _, v := range f.Values {
			key := strings.ToLower(v)
			for _, form := range append([]string{key, key + "s"}, valueSynonyms[key]...) {
				if _, taken := lookup[form]; !taken {
					lookup[form] = [2]string{f.Column, v}
				}
			}
		}
	}

	var assets []string
	values := map[string][]any{}
	var order []string
	for i := 0; i < ws.len(); i++ {
		w := ws.free(i)
		if w == "" {
			continue
		}
		if t, ok := an.asset(w); ok {
			ws.consume(i, 1)
			if !containsString(assets, t) {
				assets = append(assets, t)
			}
			continue
		}
		if cv, ok := lookup[w]; ok {
			ws.consume(i, 1)
			if _, seen := values[cv[0]]; !seen {
				order = append(order, cv[0])
			}
			if !containsAny(values[cv[0]], cv[1]) {
				values[cv[0]] = append(values[cv[0]], cv[1])
			}
			a.mappings = append(a.mappings, ColumnMapping{Term: w, Column: cv[0], Match: catalog.MatchExact})
		}
	}

	if len(assets) > 0 {
		fields := an.cat.ByCategory(catalog.CategoryAsset)
		if len(fields) == 0 {
			a.unresolved = append(a.unresolved, strings.Join(assets, ", "))
		} else {
			a.parse.Assets = assets
			vals := make([]any, len(assets))
			for i, t := range assets {
				vals[i] = t
			}
			a.parse.Filters = append(a.parse.Filters, equalityOrIn(fields[0].Column, vals))
		}
	}
	for _, col := range order {
		a.parse.Filters = append(a.parse.Filters, equalityOrIn(col, values[col]))
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAny(list []any, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// scanMentions maps the remaining tokens onto columns, exact matches only.
func (an *analyzer) scanMentions(ws *words, a *analysis) []ColumnMapping {
	var out []ColumnMapping
	for i := 0; i < ws.len(); i++ {
		w := ws.free(i)
		if w == "" || stopwords[w] {
			continue
		}
		for n := 3; n >= 1; n-- {
			ph := ws.phrase(i, n)
			if ph == "" {
				continue
			}
			cm, ok := an.resolve(ph, anyField, false)
			if !ok {
				continue
			}
			ws.consume(i, n)
			out = append(out, cm)
			a.mappings = append(a.mappings, cm)
			i += n - 1
			break
		}
	}
	return out
}

// resolvePending gives measure-less aggregates a column from the numeric
// columns mentioned elsewhere in the question.
func (an *analyzer) resolvePending(pending []pendingAgg, mentions []ColumnMapping, a *analysis) {
	var numeric []ColumnMapping
	for _, m := range mentions {
		if f, ok := an.cat.Field(m.Column); ok && f.Numeric() {
			numeric = append(numeric, m)
		}
	}
	for _, pa := range pending {
		if hasMeasure(a.parse.Aggregations, pa.fn) {
			continue
		}
		if len(numeric) == 0 {
			term := pa.term
			if term == "" {
				term = strings.ToLower(string(pa.fn))
			}
			a.unresolved = append(a.unresolved, term)
			an.setAmbiguity(a, "aggregation", term, func(f catalog.FieldMetadata) bool { return f.Numeric() && f.Aggregatable })
			continue
		}
		a.parse.Aggregations = appendAgg(a.parse.Aggregations, Aggregation{Function: pa.fn, Column: numeric[0].Column})
	}
}

func hasMeasure(aggs []Aggregation, fn AggFunc) bool {
	for _, agg := range aggs {
		if agg.Function == fn && agg.Column != "" {
			return true
		}
	}
	return false
}

// mergeHints folds model hints into the local reading. Hinted columns the
// catalog does not define are dropped and counted as unresolved. The hinted
// intent replaces the keyword classification.
func (an *analyzer) mergeHints(a *analysis, h *Hints, mentions []ColumnMapping) []ColumnMapping {
	p := a.parse
	p.Metadata["source"] = "hints"
	if h.Interpretation != "" {
		p.Metadata["hintInterpretation"] = h.Interpretation
	}
	if h.Intent.Valid() {
		p.Intent = h.Intent
	}

	fn := h.Aggregation
	if !fn.Valid() || fn == AggCount {
		fn = AggSum
	}
	hasColumnAgg := false
	for _, agg := range p.Aggregations {
		if agg.Column != "" {
			hasColumnAgg = true
		}
	}
	for _, name := range h.Measures {
		f, ok := an.cat.Field(name)
		if !ok || !f.Numeric() {
			a.unresolved = append(a.unresolved, name)
			continue
		}
		if !hasColumnAgg {
			p.Aggregations = appendAgg(p.Aggregations, Aggregation{Function: fn, Column: f.Column})
			if a.ambiguity != nil && a.ambiguity.Clause == "aggregation" {
				a.ambiguity = nil
			}
		}
	}
	if h.Aggregation == AggCount && len(p.Aggregations) == 0 {
		p.Aggregations = appendAgg(p.Aggregations, Aggregation{Function: AggCount})
	}

	if len(p.GroupBy) == 0 {
		for _, name := range h.GroupBy {
			f, ok := an.cat.Field(name)
			switch {
			case !ok || f.Numeric():
				a.unresolved = append(a.unresolved, name)
			case f.Type.Temporal():
				p.GroupBy = appendGroup(p.GroupBy, GroupByClause{Column: f.Column, Bucket: "month"})
			default:
				p.GroupBy = appendGroup(p.GroupBy, GroupByClause{Column: f.Column})
			}
		}
		if len(p.GroupBy) > 0 && a.ambiguity != nil && a.ambiguity.Clause == "groupBy" {
			a.ambiguity = nil
		}
	}

	for _, name := range h.Columns {
		f, ok := an.cat.Field(name)
		if !ok {
			a.unresolved = append(a.unresolved, name)
			continue
		}
		mentions = append(mentions, ColumnMapping{Column: f.Column})
	}
	return mentions
}

func classify(text string, p *QueryParseResult) Intent {
	hasBucket := false
	for _, g := range p.GroupBy {
		if g.Bucket != "" {
			hasBucket = true
		}
	}
	switch {
	case balanceRE.MatchString(text):
		return IntentBalance
	case trendRE.MatchString(text) || hasBucket:
		return IntentTrend
	case comparisonRE.MatchString(text):
		return IntentComparison
	case len(p.Aggregations) > 0 || len(p.GroupBy) > 0:
		return IntentAggregation
	case len(p.Filters) > 0 || p.TimeRange != nil:
		return IntentFilter
	}
	return IntentList
}

func (an *analyzer) firstOf(category string) string {
	fields := an.cat.ByCategory(category)
	if len(fields) == 0 {
		return ""
	}
	return fields[0].Column
}

// applyIntentDefaults fills in the clauses an intent implies but the question
// left out.
func (an *analyzer) applyIntentDefaults(a *analysis, text, rankHint string, mentions []ColumnMapping) {
	p := a.parse
	tf, hasTime := an.cat.TimeField()

	numericMentions := func() []string {
		var cols []string
		for _, m := range mentions {
			if f, ok := an.cat.Field(m.Column); ok && f.Numeric() && f.Aggregatable && !containsString(cols, m.Column) {
				cols = append(cols, m.Column)
			}
		}
		return cols
	}

	switch p.Intent {
	case IntentBalance:
		asset := an.firstOf(catalog.CategoryAsset)
		if asset != "" && len(p.GroupBy) == 0 {
			p.GroupBy = append(p.GroupBy, GroupByClause{Column: asset})
		}
		signed := an.hasOutflowOperations()
		if len(p.Aggregations) == 0 {
			for _, cat := range []string{catalog.CategoryQuantity, catalog.CategoryValuation} {
				if col := an.firstOf(cat); col != "" {
					p.Aggregations = appendAgg(p.Aggregations, Aggregation{Function: AggSum, Column: col, Signed: signed})
				}
			}
		}
		if len(p.Aggregations) == 0 {
			p.Aggregations = appendAgg(p.Aggregations, Aggregation{Function: AggCount})
		}
	case IntentTrend:
		hasBucket := false
		for _, g := range p.GroupBy {
			if g.Bucket != "" {
				hasBucket = true
			}
		}
		if !hasBucket && hasTime {
			p.GroupBy = append([]GroupByClause{{Column: tf.Column, Bucket: "month"}}, p.GroupBy...)
		}
		an.defaultMeasures(p, numericMentions())
		if len(p.OrderBy) == 0 {
			for _, g := range p.GroupBy {
				p.OrderBy = append(p.OrderBy, OrderByClause{Column: g.Name()})
			}
		}
	case IntentComparison:
		if len(p.GroupBy) == 0 {
			for _, f := range p.Filters {
				if vals, ok := f.Value.([]any); ok && f.Operator == OpIn && len(vals) > 1 {
					p.GroupBy = append(p.GroupBy, GroupByClause{Column: f.Column})
					break
				}
			}
		}
		if len(p.GroupBy) == 0 && hasTime {
			p.GroupBy = append(p.GroupBy, GroupByClause{Column: tf.Column, Bucket: "month"})
		}
		an.defaultMeasures(p, numericMentions())
	case IntentAggregation:
		if len(p.Aggregations) == 0 {
			an.defaultMeasures(p, numericMentions())
		}
	}

	aggregated := len(p.Aggregations) > 0
	if len(p.OrderBy) == 0 {
		desc, asc := rankDescRE.MatchString(text) || rankHint == "top", rankAscRE.MatchString(text) || rankHint == "bottom"
		oldest := oldestRE.MatchString(text) || rankHint == "oldest" || rankHint == "first"
		switch {
		case (desc || asc) && aggregated:
			p.OrderBy = append(p.OrderBy, OrderByClause{Column: rankingAlias(p.Aggregations), Descending: desc})
		case desc || asc:
			col := ""
			if nm := numericMentions(); len(nm) > 0 {
				col = nm[0]
			} else {
				col = an.firstOf(catalog.CategoryValuation)
			}
			if col != "" {
				p.OrderBy = append(p.OrderBy, OrderByClause{Column: col, Descending: desc})
			}
		case oldest && hasTime && !aggregated:
			p.OrderBy = append(p.OrderBy, OrderByClause{Column: tf.Column})
		case !aggregated && hasTime:
			p.OrderBy = append(p.OrderBy, OrderByClause{Column: tf.Column, Descending: true})
		case aggregated && len(p.GroupBy) > 0:
			for _, g := range p.GroupBy {
				p.OrderBy = append(p.OrderBy, OrderByClause{Column: g.Name()})
			}
		}
	}
}

// alignOrderBy makes sort keys of an aggregated query name result columns: a
// grouped column keeps its name and an aggregated column is replaced by the
// alias of its aggregate. Any other column cannot be sorted on and becomes an
// orderBy ambiguity listing the columns that can.
func (an *analyzer) alignOrderBy(a *analysis) {
	p := a.parse
	if len(p.Aggregations) == 0 && len(p.GroupBy) == 0 {
		return
	}
	names := map[string]bool{}
	byColumn := map[string]string{}
	for _, g := range p.GroupBy {
		names[g.Name()] = true
		if _, ok := byColumn[g.Column]; !ok {
			byColumn[g.Column] = g.Name()
		}
	}
	for _, agg := range p.Aggregations {
		alias := agg.Alias
		if alias == "" {
			alias = aggAlias(agg)
		}
		names[alias] = true
		if _, ok := byColumn[agg.Column]; !ok && agg.Column != "" {
			byColumn[agg.Column] = alias
		}
	}

	var kept []OrderByClause
	for _, o := range p.OrderBy {
		if names[o.Column] {
			kept = append(kept, o)
			continue
		}
		if name, ok := byColumn[o.Column]; ok {
			kept = append(kept, OrderByClause{Column: name, Descending: o.Descending})
			continue
		}
		term := catalog.Humanize(o.Column)
		for _, m := range a.mappings {
			if m.Column == o.Column && m.Term != "" {
				term = m.Term
				break
			}
		}
		a.unresolved = append(a.unresolved, term)
		an.setAmbiguity(a, "orderBy", term, func(f catalog.FieldMetadata) bool {
			_, ok := byColumn[f.Column]
			return ok
		})
	}
	p.OrderBy = kept
}

// defaultMeasures sums the numeric columns the question mentions, or counts
// rows when it mentions none.
func (an *analyzer) defaultMeasures(p *QueryParseResult, numeric []string) {
	if len(p.Aggregations) > 0 {
		return
	}
	for i, col := range numeric {
		if i == 2 {
			break
		}
		p.Aggregations = appendAgg(p.Aggregations, Aggregation{Function: AggSum, Column: col})
	}
	if len(p.Aggregations) == 0 {
		p.Aggregations = appendAgg(p.Aggregations, Aggregation{Function: AggCount})
	}
}

// rankingAlias picks the aggregate to rank by: the first that is not a plain
// row count.
func rankingAlias(aggs []Aggregation) string {
	for _, agg := range aggs {
		if agg.Column != "" {
			return agg.Alias
		}
	}
	return aggs[0].Alias
}

func (an *analyzer) hasOutflowOperations() bool {
	for _, f := range an.cat.ByCategory(catalog.CategoryTransactionType) {
		for _, v := range f.Values {
			if outflowValues[strings.ToLower(v)] {
				return true
			}
		}
	}
	return false
}

// project picks the columns a list or filter query returns: a default set
// per category plus everything the question named, in catalog order.
func (an *analyzer) project(a *analysis, mentions []ColumnMapping) {
	want := map[string]ColumnMapping{}
	for _, cat := range []string{
		catalog.CategoryTime, catalog.CategoryAsset, catalog.CategoryTransactionType,
		catalog.CategoryQuantity, catalog.CategoryValuation, catalog.CategoryStatus,
	} {
		if col := an.firstOf(cat); col != "" {
			want[col] = ColumnMapping{Column: col}
		}
	}
	for _, m := range mentions {
		want[m.Column] = m
	}
	for _, f := range a.parse.Filters {
		if _, ok := want[f.Column]; !ok {
			want[f.Column] = ColumnMapping{Column: f.Column}
		}
	}
	for _, f := range an.cat.Fields {
		if m, ok := want[f.Column]; ok {
			a.parse.Columns = append(a.parse.Columns, m)
		}
	}
}
