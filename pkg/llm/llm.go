// Package llm provides the text-completion clients used to enrich question
// translation and to repair failing queries.
package llm

import (
	"context"
	"strings"
)

// Client completes a prompt and returns the response text.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ExtractJSON finds a JSON object in a response that may wrap it in markdown
// or prose. It returns "" when no complete object is present.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractObject(response, start)
	}
	return ""
}

// extractObject returns the balanced object starting at start, skipping
// braces inside strings.
func extractObject(s string, start int) string {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// ExtractSQL pulls a statement out of a response: a ```sql block, a generic
// block that looks like SQL, or the whole response if it looks like SQL.
func ExtractSQL(response string) string {
	response = strings.TrimSpace(response)
	if start := strings.Index(response, "```sql"); start != -1 {
		start += len("```sql")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return CleanSQL(response[start : start+end])
		}
	}
	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if LooksLikeQuery(content) {
				return CleanSQL(content)
			}
		}
	}
	if LooksLikeQuery(response) {
		return CleanSQL(response)
	}
	return ""
}

// LooksLikeQuery reports whether text starts like a read-only statement.
func LooksLikeQuery(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// CleanSQL trims whitespace and trailing semicolons.
func CleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}
