package executor

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrNotReadOnly is returned for statements that could modify data.
var ErrNotReadOnly = errors.New("only read-only SELECT queries can be run")

// ParamError reports a broken parameter contract: placeholders with no bound
// value, or bound values the query never references.
type ParamError struct {
	Missing []string
	Unused  []string
}

func (e *ParamError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "no value bound for @"+strings.Join(e.Missing, ", @"))
	}
	if len(e.Unused) > 0 {
		parts = append(parts, "unused parameters "+strings.Join(e.Unused, ", "))
	}
	return "invalid query parameters: " + strings.Join(parts, "; ")
}

var (
	placeholderRE = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)
	writeRE       = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|create|truncate|attach|detach|copy|pragma|grant|revoke)\b`)
	commentRE     = regexp.MustCompile(`(?m)--[^\n]*$`)
)

// blankQuoted replaces the contents of string literals and quoted
// identifiers with spaces, keeping offsets intact.
func blankQuoted(sql string) string {
	b := []byte(sql)
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case quote == 0 && (c == '\'' || c == '"' || c == '`'):
			quote = c
		case quote != 0 && c == quote:
			if i+1 < len(b) && b[i+1] == quote {
				b[i], b[i+1] = ' ', ' '
				i++
				continue
			}
			quote = 0
		case quote != 0:
			b[i] = ' '
		}
	}
	return string(b)
}

// Placeholders returns the distinct @name placeholders in sql, in order of
// first use. Text inside quotes is ignored.
func Placeholders(sql string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholderRE.FindAllStringSubmatch(blankQuoted(sql), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// CheckParams enforces that every placeholder is bound and every bound value
// is used.
func CheckParams(sql string, params map[string]any) error {
	used := map[string]bool{}
	var perr ParamError
	for _, name := range Placeholders(sql) {
		used[name] = true
		if _, ok := params[name]; !ok {
			perr.Missing = append(perr.Missing, name)
		}
	}
	for name := range params {
		if !used[name] {
			perr.Unused = append(perr.Unused, name)
		}
	}
	if len(perr.Missing) == 0 && len(perr.Unused) == 0 {
		return nil
	}
	sort.Strings(perr.Unused)
	return &perr
}

// CheckReadOnly accepts a single SELECT or WITH statement.
func CheckReadOnly(sql string) error {
	text := strings.TrimSpace(commentRE.ReplaceAllString(blankQuoted(sql), ""))
	upper := strings.ToUpper(text)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrNotReadOnly
	}
	if strings.Contains(strings.TrimRight(text, "; \n\t"), ";") {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	if m := writeRE.FindString(text); m != "" {
		return fmt.Errorf("%w: found %s", ErrNotReadOnly, strings.ToUpper(m))
	}
	return nil
}

// referenced keeps the params sql still uses.
func referenced(sql string, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for _, name := range Placeholders(sql) {
		if v, ok := params[name]; ok {
			out[name] = v
		}
	}
	return out
}

// RewritePlaceholders replaces each @name placeholder outside quotes with
// repl(name), for drivers that spell named parameters differently.
func RewritePlaceholders(sql string, repl func(name string) string) string {
	blank := blankQuoted(sql)
	var sb strings.Builder
	last := 0
	for _, m := range placeholderRE.FindAllStringSubmatchIndex(blank, -1) {
		sb.WriteString(sql[last:m[0]])
		sb.WriteString(repl(sql[m[2]:m[3]]))
		last = m[1]
	}
	sb.WriteString(sql[last:])
	return sb.String()
}
