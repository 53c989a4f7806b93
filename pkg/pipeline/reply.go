package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/txlens/txlens/pkg/catalog"
	"github.com/txlens/txlens/pkg/translator"
)

type replyKind int

const (
	replyQuestion replyKind = iota
	replyConfirm
	replyModify
	replyNumber
)

type reply struct {
	kind   replyKind
	text   string
	number int
}

var confirmWords = map[string]bool{
	"confirm": true, "confirmed": true, "yes": true, "y": true, "ok": true,
	"okay": true, "run": true, "run it": true, "go": true, "go ahead": true,
}

var modifyRE = regexp.MustCompile(`(?i)^(?:modify|change|adjust)\s*:\s*(.+)$`)

func parseReply(text string) reply {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(strings.TrimRight(text, ".!"))
	if confirmWords[lower] {
		return reply{kind: replyConfirm}
	}
	if m := modifyRE.FindStringSubmatch(text); m != nil {
		return reply{kind: replyModify, text: strings.TrimSpace(m[1])}
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(lower, "#")); err == nil && n > 0 {
		return reply{kind: replyNumber, number: n}
	}
	return reply{kind: replyQuestion, text: text}
}

// withColumn rewrites question so the ambiguous term names column. When the
// term cannot be found as a word, the column is appended as a hint.
func withColumn(question string, amb *translator.Ambiguity, column string) string {
	name := catalog.Humanize(column)
	if amb == nil || amb.Term == "" {
		return question + " (using " + name + ")"
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(amb.Term) + `\b`)
	if err != nil || !re.MatchString(question) {
		return question + " (using " + name + ")"
	}
	replaced := false
	return re.ReplaceAllStringFunc(question, func(s string) string {
		if replaced {
			return s
		}
		replaced = true
		return name
	})
}
