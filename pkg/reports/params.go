package reports

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamDate    ParamType = "date"
	ParamBoolean ParamType = "boolean"
)

// Parameter describes one named report input. It serializes to the JSON
// parameter contract exposed to clients.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
}

// Params are raw, caller supplied report inputs.
type Params map[string]any

// ValidationError is returned before any backend call when a report input is
// missing or malformed. Field always names the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

const dateLayout = "2006-01-02"

// coerce validates params against the declared parameters and returns typed
// values: dates become time.Time, numbers float64, booleans bool. Defaults are
// applied to absent optional parameters.
func coerce(decl []Parameter, params Params) (map[string]any, error) {
	out := make(map[string]any, len(decl))
	for _, p := range decl {
		raw, ok := params[p.Name]
		if !ok || isBlank(raw) {
			if p.Required {
				return nil, missing(p.Name)
			}
			if p.Default == nil {
				continue
			}
			raw = p.Default
		}
		v, err := coerceValue(p, raw)
		if err != nil {
			return nil, err
		}
		out[p.Name] = v
	}
	return out, nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func coerceValue(p Parameter, raw any) (any, error) {
	switch p.Type {
	case ParamString:
		s, ok := raw.(string)
		if !ok {
			return nil, &ValidationError{Field: p.Name, Reason: "must be a string"}
		}
		s = strings.TrimSpace(s)
		if !tokenPattern.MatchString(s) {
			return nil, &ValidationError{Field: p.Name, Reason: "contains unsupported characters"}
		}
		return s, nil
	case ParamDate:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			t, err := time.Parse(dateLayout, strings.TrimSpace(v))
			if err != nil {
				t, err = time.Parse(time.RFC3339, strings.TrimSpace(v))
			}
			if err != nil {
				return nil, &ValidationError{Field: p.Name, Reason: "must be a date (YYYY-MM-DD)"}
			}
			return t.UTC(), nil
		}
		return nil, &ValidationError{Field: p.Name, Reason: "must be a date (YYYY-MM-DD)"}
	case ParamNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, &ValidationError{Field: p.Name, Reason: "must be a number"}
			}
			return f, nil
		}
		return nil, &ValidationError{Field: p.Name, Reason: "must be a number"}
	case ParamBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, &ValidationError{Field: p.Name, Reason: "must be true or false"}
			}
			return b, nil
		}
		return nil, &ValidationError{Field: p.Name, Reason: "must be true or false"}
	}
	return nil, &ValidationError{Field: p.Name, Reason: fmt.Sprintf("unsupported parameter type %q", p.Type)}
}

// tokenPattern bounds identifiers, tickers and filter values to characters
// that cannot terminate a quoted SQL literal.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._:@/#+-]{0,127}$`)
