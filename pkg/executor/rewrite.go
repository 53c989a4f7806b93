package executor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/txlens/txlens/pkg/llm"
)

// Rewrite is a corrected query to try next.
type Rewrite struct {
	SQL         string
	Params      map[string]any
	Description string
}

// Rewriter proposes a correction for a query that failed with cause. It
// returns false when it has nothing to offer.
type Rewriter interface {
	Rewrite(ctx context.Context, sql string, params map[string]any, cause error) (Rewrite, bool)
}

// DefaultRewriters are tried in order when none are configured.
func DefaultRewriters() []Rewriter {
	return []Rewriter{ParamCoercion{}, StripPredicate{}}
}

// ParamCoercion retypes parameters after a type mismatch: numeric and boolean
// strings become numbers and booleans, times become ISO dates or timestamps.
type ParamCoercion struct{}

func (ParamCoercion) Rewrite(_ context.Context, sql string, params map[string]any, cause error) (Rewrite, bool) {
	if !isTypeMismatch(cause) || len(params) == 0 {
		return Rewrite{}, false
	}
	out := make(map[string]any, len(params))
	var changed []string
	for name, v := range params {
		nv, ok := coerce(v)
		if ok {
			changed = append(changed, "@"+name)
		}
		out[name] = nv
	}
	if len(changed) == 0 {
		return Rewrite{}, false
	}
	return Rewrite{SQL: sql, Params: out, Description: "retyped parameters " + strings.Join(sortedCopy(changed), ", ")}, true
}

func coerce(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		if strings.EqualFold(s, "true") || strings.EqualFold(s, "false") {
			return strings.EqualFold(s, "true"), true
		}
	case time.Time:
		if x.Equal(x.Truncate(24 * time.Hour)) {
			return x.UTC().Format("2006-01-02"), true
		}
		return x.UTC().Format(time.RFC3339), true
	}
	return v, false
}

var missingColumnREs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)referenced column "([^"]+)" not found`),
	regexp.MustCompile(`(?i)column "?([A-Za-z_][A-Za-z0-9_]*)"? (?:does not exist|not found)`),
	regexp.MustCompile("(?i)unknown (?:expression |expression or function )?identifier [`'\"]([^`'\"]+)[`'\"]"),
	regexp.MustCompile(`(?i)missing columns?:\s*'([^']+)'`),
	regexp.MustCompile(`(?i)no such column:?\s*([A-Za-z_][A-Za-z0-9_]*)`),
}

// StripPredicate drops the WHERE conditions that reference a column the
// backend reports as unknown. It only applies to queries laid out with one
// condition per line, and gives up when the column is used anywhere else.
type StripPredicate struct{}

func (StripPredicate) Rewrite(_ context.Context, sql string, params map[string]any, cause error) (Rewrite, bool) {
	if cause == nil {
		return Rewrite{}, false
	}
	col := ""
	for _, re := range missingColumnREs {
		if m := re.FindStringSubmatch(cause.Error()); m != nil {
			col = m[1]
			break
		}
	}
	if col == "" {
		return Rewrite{}, false
	}
	if i := strings.LastIndex(col, "."); i >= 0 {
		col = col[i+1:]
	}
	mentions := regexp.MustCompile(`(?i)(^|[^A-Za-z0-9_@])"?` + regexp.QuoteMeta(col) + `"?($|[^A-Za-z0-9_])`)

	var pre, post, kept, removed []string
	inWhere, seenWhere := false, false
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		var cond string
		switch {
		case !seenWhere && strings.HasPrefix(strings.ToUpper(trimmed), "WHERE "):
			inWhere, seenWhere = true, true
			cond = strings.TrimSpace(trimmed[len("WHERE "):])
		case inWhere && strings.HasPrefix(strings.ToUpper(trimmed), "AND "):
			cond = strings.TrimSpace(trimmed[len("AND "):])
		default:
			inWhere = false
			if seenWhere {
				post = append(post, line)
			} else {
				pre = append(pre, line)
			}
			continue
		}
		if mentions.MatchString(blankQuoted(cond)) {
			removed = append(removed, cond)
		} else {
			kept = append(kept, cond)
		}
	}
	if len(removed) == 0 {
		return Rewrite{}, false
	}

	lines := append([]string{}, pre...)
	for i, cond := range kept {
		if i == 0 {
			lines = append(lines, "WHERE "+cond)
		} else {
			lines = append(lines, "  AND "+cond)
		}
	}
	lines = append(lines, post...)
	rewritten := strings.Join(lines, "\n")
	if mentions.MatchString(blankQuoted(rewritten)) {
		return Rewrite{}, false
	}
	return Rewrite{
		SQL:         rewritten,
		Params:      referenced(rewritten, params),
		Description: "removed the condition " + strings.Join(removed, " AND ") + " on unknown column " + col,
	}, true
}

const rewriteSystemPrompt = `You fix failing read-only SQL queries.
Keep every @name parameter placeholder exactly as written and do not inline values.
Only use SELECT or WITH statements.
Answer with the corrected query in a single ` + "```sql" + ` block.`

type schemaKey struct{}

// WithSchema attaches the description of the queried table to ctx so that
// rewriters describe the right columns.
func WithSchema(ctx context.Context, schema string) context.Context {
	return context.WithValue(ctx, schemaKey{}, schema)
}

// SchemaFrom returns the table description set by WithSchema.
func SchemaFrom(ctx context.Context) (string, bool) {
	schema, ok := ctx.Value(schemaKey{}).(string)
	return schema, ok
}

// LLMRewriter asks a completion model to fix the query, giving it the error
// and a description of the table: the one carried by the context, or the
// fallback it was created with.
type LLMRewriter struct {
	log    *slog.Logger
	client llm.Client
	schema string
}

func NewLLMRewriter(log *slog.Logger, client llm.Client, fallback string) *LLMRewriter {
	return &LLMRewriter{log: log, client: client, schema: fallback}
}

func (r *LLMRewriter) Rewrite(ctx context.Context, sql string, params map[string]any, cause error) (Rewrite, bool) {
	schema, ok := SchemaFrom(ctx)
	if !ok {
		schema = r.schema
	}
	system := rewriteSystemPrompt
	if schema != "" {
		system += "\n\nTable columns:\n" + schema
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, "@"+name)
	}
	user := fmt.Sprintf(`The previous SQL query failed with an error. Please fix it.

Failed SQL:
%s

Error message:
%s

Available parameters: %s

Generate a corrected SQL query that avoids this error.`, sql, cause, strings.Join(sortedCopy(names), ", "))

	response, err := r.client.Complete(ctx, system, user)
	if err != nil {
		r.log.Warn("executor: rewrite completion failed", "error", err)
		return Rewrite{}, false
	}
	fixed := llm.ExtractSQL(response)
	if fixed == "" || fixed == sql {
		r.log.Debug("executor: no usable rewrite", "response", response)
		return Rewrite{}, false
	}
	if err := CheckReadOnly(fixed); err != nil {
		r.log.Warn("executor: rejected rewrite", "error", err)
		return Rewrite{}, false
	}
	for _, name := range Placeholders(fixed) {
		if _, ok := params[name]; !ok {
			r.log.Warn("executor: rejected rewrite with unbound parameter", "param", name)
			return Rewrite{}, false
		}
	}
	return Rewrite{SQL: fixed, Params: referenced(fixed, params), Description: "rewrote the query to avoid: " + firstLine(cause.Error())}, true
}
