// Package catalog describes the columns of each supported transaction schema:
// their types, semantic categories and the natural-language aliases users
// reach for when asking about them.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeDate      FieldType = "date"
	TypeBoolean   FieldType = "boolean"
	TypeTimestamp FieldType = "timestamp"
)

func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeDate, TypeBoolean, TypeTimestamp:
		return true
	}
	return false
}

// Temporal reports whether values of this type are points in time.
func (t FieldType) Temporal() bool {
	return t == TypeDate || t == TypeTimestamp
}

// Well-known categories. Catalog files may use others; these are the ones the
// translator gives special meaning to.
const (
	CategoryTime            = "time"
	CategoryAsset           = "asset"
	CategoryTransactionType = "transaction_type"
	CategoryStatus          = "status"
	CategoryWallet          = "wallet"
	CategoryParty           = "party"
	CategoryQuantity        = "quantity"
	CategoryValuation       = "valuation"
)

type FieldMetadata struct {
	Column        string    `yaml:"column" json:"column"`
	Description   string    `yaml:"description" json:"description"`
	Type          FieldType `yaml:"type" json:"type"`
	Category      string    `yaml:"category" json:"category"`
	Aliases       []string  `yaml:"aliases" json:"aliases"`
	CommonQueries []string  `yaml:"common_queries" json:"common_queries,omitempty"`
	Values        []string  `yaml:"values" json:"values,omitempty"` // stored spelling of known categorical values
	Aggregatable  bool      `yaml:"aggregatable" json:"aggregatable"`
	Filterable    bool      `yaml:"filterable" json:"filterable"`
}

// Numeric reports whether the field can be summed or averaged.
func (f FieldMetadata) Numeric() bool {
	return f.Type == TypeNumber
}

// Phrases returns every lower-cased phrase that refers to the field: the
// column itself, its humanized form and its aliases.
func (f FieldMetadata) Phrases() []string {
	seen := make(map[string]bool, len(f.Aliases)+2)
	out := make([]string, 0, len(f.Aliases)+2)
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(f.Column)
	add(Humanize(f.Column))
	for _, a := range f.Aliases {
		add(a)
	}
	return out
}

type Catalog struct {
	SchemaType  string          `yaml:"schema_type" json:"schema_type"`
	Description string          `yaml:"description" json:"description"`
	Fields      []FieldMetadata `yaml:"fields" json:"fields"`

	byColumn map[string]int
}

var (
	ErrDuplicateColumn = errors.New("duplicate column")
	columnPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Validate checks the catalog invariants and builds the column index. Column
// names must be unique (case-insensitively) and plain identifiers, since they
// are written into generated SQL verbatim.
func (c *Catalog) Validate() error {
	if c.SchemaType == "" {
		return errors.New("schema_type is required")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("catalog %s has no fields", c.SchemaType)
	}
	idx := make(map[string]int, len(c.Fields))
	for i, f := range c.Fields {
		if !columnPattern.MatchString(f.Column) {
			return fmt.Errorf("catalog %s: invalid column name %q", c.SchemaType, f.Column)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("catalog %s: column %s has invalid type %q", c.SchemaType, f.Column, f.Type)
		}
		key := strings.ToLower(f.Column)
		if _, ok := idx[key]; ok {
			return fmt.Errorf("catalog %s: %w: %s", c.SchemaType, ErrDuplicateColumn, f.Column)
		}
		idx[key] = i
	}
	c.byColumn = idx
	return nil
}

// Field looks up a column by name, ignoring case.
func (c *Catalog) Field(column string) (FieldMetadata, bool) {
	if c.byColumn == nil {
		for _, f := range c.Fields {
			if strings.EqualFold(f.Column, column) {
				return f, true
			}
		}
		return FieldMetadata{}, false
	}
	i, ok := c.byColumn[strings.ToLower(column)]
	if !ok {
		return FieldMetadata{}, false
	}
	return c.Fields[i], true
}

// Describe lists the columns one per line with their types and descriptions.
func (c *Catalog) Describe() string {
	var sb strings.Builder
	for _, f := range c.Fields {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", f.Column, f.Type, f.Description)
	}
	return sb.String()
}

func (c *Catalog) Columns() []string {
	out := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		out[i] = f.Column
	}
	return out
}

// ByCategory returns the fields in the given category, in catalog order.
func (c *Catalog) ByCategory(category string) []FieldMetadata {
	var out []FieldMetadata
	for _, f := range c.Fields {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

// TimeField returns the primary temporal column: the first field in the time
// category, falling back to the first date or timestamp field.
func (c *Catalog) TimeField() (FieldMetadata, bool) {
	for _, f := range c.Fields {
		if f.Category == CategoryTime && f.Type.Temporal() {
			return f, true
		}
	}
	for _, f := range c.Fields {
		if f.Type.Temporal() {
			return f, true
		}
	}
	return FieldMetadata{}, false
}

// Aggregatable returns the numeric fields that can be summed or averaged.
func (c *Catalog) Aggregatable() []FieldMetadata {
	var out []FieldMetadata
	for _, f := range c.Fields {
		if f.Aggregatable && f.Numeric() {
			out = append(out, f)
		}
	}
	return out
}

type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchSubstring
	MatchExact
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchSubstring:
		return "substring"
	}
	return "none"
}

type Match struct {
	Field  FieldMetadata
	Kind   MatchKind
	Phrase string // the alias or column phrase that matched
}

// Match maps a user term onto catalog fields. Exact phrase matches always rank
// ahead of substring matches; within a kind, longer (more specific) phrases
// rank first and ties keep catalog order.
func (c *Catalog) Match(term string) []Match {
	term = normalize(term)
	if term == "" {
		return nil
	}
	var matches []Match
	for _, f := range c.Fields {
		best := Match{Field: f}
		for _, p := range f.Phrases() {
			switch {
			case p == term:
				if best.Kind < MatchExact || len(p) > len(best.Phrase) {
					best.Kind, best.Phrase = MatchExact, p
				}
			case best.Kind < MatchExact && len(term) >= 3 && (strings.Contains(p, term) || ContainsWord(term, p)):
				if best.Kind < MatchSubstring || len(p) > len(best.Phrase) {
					best.Kind, best.Phrase = MatchSubstring, p
				}
			}
		}
		if best.Kind != MatchNone {
			matches = append(matches, best)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Kind != matches[j].Kind {
			return matches[i].Kind > matches[j].Kind
		}
		return len(matches[i].Phrase) > len(matches[j].Phrase)
	})
	return matches
}

// Resolve returns the best match for term, or false when nothing matches.
// Ambiguity is left to the caller, which sees all candidates through Match.
func (c *Catalog) Resolve(term string) (FieldMetadata, MatchKind, bool) {
	if f, ok := c.Field(term); ok {
		return f, MatchExact, true
	}
	m := c.Match(term)
	if len(m) == 0 {
		return FieldMetadata{}, MatchNone, false
	}
	return m[0].Field, m[0].Kind, true
}

// Humanize splits camelCase and snake_case column names into lower-case words:
// "assetTicker" -> "asset ticker".
func Humanize(column string) string {
	return strings.Join(SplitWords(column), " ")
}

// SplitWords splits an identifier into lower-case words.
func SplitWords(column string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	runes := []rune(column)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case r >= 'A' && r <= 'Z':
			// Split before an upper-case letter unless it continues an acronym.
			if i > 0 && (runes[i-1] < 'A' || runes[i-1] > 'Z' || (i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z')) {
				flush()
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContainsWord reports whether phrase appears in text on word boundaries.
func ContainsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(phrase)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		i = start + 1
		if i >= len(text) {
			return false
		}
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
