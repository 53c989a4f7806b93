package translator

import (
	"regexp"
	"strconv"
	"strings"
)

var stopwords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`a an the of for in on at to and or me my i we our us you your
		show list give find get display tell what which who whom whose how is are was were be been
		do did does have has had with that this these those all any some please can could would
		there their it its than then as into about where made make
		transaction transactions trade trades record records row rows data entry entries
		much many`) {
		stopwords[w] = true
	}
}

var (
	thousandsRE   = regexp.MustCompile(`(\d),(\d{3})`)
	punctuationRE = regexp.MustCompile(`[?!,;()"'\[\]{}]`)
	sentenceEndRE = regexp.MustCompile(`\.(\s|$)`)
)

// normalizeText lower-cases text, drops punctuation and thousands separators
// and collapses whitespace.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	for thousandsRE.MatchString(s) {
		s = thousandsRE.ReplaceAllString(s, "$1$2")
	}
	s = punctuationRE.ReplaceAllString(s, " ")
	s = sentenceEndRE.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "vs.", "vs")
	return strings.Join(strings.Fields(s), " ")
}

// words is the question as a token list. Clause parsers consume the tokens
// they interpret so later passes only see what is left.
type words struct {
	w    []string
	used []bool
}

func newWords(text string) *words {
	w := strings.Fields(text)
	return &words{w: w, used: make([]bool, len(w))}
}

func (ws *words) len() int { return len(ws.w) }

// at reports whether the unconsumed tokens starting at i spell phrase.
func (ws *words) at(i int, phrase string) bool {
	parts := strings.Fields(phrase)
	if i+len(parts) > len(ws.w) {
		return false
	}
	for k, p := range parts {
		if ws.used[i+k] || ws.w[i+k] != p {
			return false
		}
	}
	return true
}

// match returns the length of the first phrase found at i, or 0.
func (ws *words) match(i int, phrases []string) int {
	for _, p := range phrases {
		if ws.at(i, p) {
			return len(strings.Fields(p))
		}
	}
	return 0
}

func (ws *words) consume(i, n int) {
	for k := i; k < i+n && k < len(ws.used); k++ {
		ws.used[k] = true
	}
}

// free returns the unconsumed token at i, or "".
func (ws *words) free(i int) string {
	if i < 0 || i >= len(ws.w) || ws.used[i] {
		return ""
	}
	return ws.w[i]
}

// skipStop returns the first index at or after i (or before, when step is
// -1) that is not a stopword, staying within three steps.
func (ws *words) skipStop(i, step int) int {
	for k := 0; k < 3; k++ {
		if w := ws.free(i); w == "" || !stopwords[w] {
			return i
		}
		i += step
	}
	return i
}

// phrase joins the unconsumed run of n tokens starting at i, or "" if any of
// them is consumed.
func (ws *words) phrase(i, n int) string {
	if i < 0 || n <= 0 || i+n > len(ws.w) {
		return ""
	}
	for k := i; k < i+n; k++ {
		if ws.used[k] {
			return ""
		}
	}
	return strings.Join(ws.w[i:i+n], " ")
}

// parseNumber reads "1000", "$1,000.50" or "1.5k".
func parseNumber(s string) (float64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	s = strings.ReplaceAll(s, ",", "")
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

func titleFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
