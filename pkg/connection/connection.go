// Package connection resolves which backend table a question or report runs
// against.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMissingConnection is returned when a fully-qualified table reference
// cannot be resolved.
var ErrMissingConnection = errors.New("missing connection information")

// TableRef is the three-part identifier of the queried dataset.
type TableRef struct {
	ProjectID string `yaml:"project_id" json:"project_id"`
	DatasetID string `yaml:"dataset_id" json:"dataset_id"`
	TableID   string `yaml:"table_id" json:"table_id"`
}

// Validate fails with ErrMissingConnection naming every absent part.
func (t *TableRef) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: no table configured", ErrMissingConnection)
	}
	var missing []string
	if strings.TrimSpace(t.ProjectID) == "" {
		missing = append(missing, "projectId")
	}
	if strings.TrimSpace(t.DatasetID) == "" {
		missing = append(missing, "datasetId")
	}
	if strings.TrimSpace(t.TableID) == "" {
		missing = append(missing, "tableId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConnection, strings.Join(missing, ", "))
	}
	return nil
}

func (t TableRef) String() string {
	return t.ProjectID + "." + t.DatasetID + "." + t.TableID
}

// Resolver returns the table the current request should query. A nil ref
// with a nil error means nothing is configured.
type Resolver interface {
	Resolve(ctx context.Context) (*TableRef, error)
}

// Dialect renders table references the way a backend expects them.
type Dialect interface {
	Name() string
	QualifyTable(ref TableRef) string
}

// ANSI quotes each of the three parts with double quotes.
type ANSI struct{}

func (ANSI) Name() string { return "ansi" }

func (ANSI) QualifyTable(ref TableRef) string {
	return QuoteIdent(ref.ProjectID) + "." + QuoteIdent(ref.DatasetID) + "." + QuoteIdent(ref.TableID)
}

// QuoteIdent quotes an identifier with double quotes, doubling embedded ones.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Tables hands out a resolver per schema type.
type Tables interface {
	For(schemaType string) Resolver
}

// Static always resolves to the same table.
type Static struct {
	Ref *TableRef
}

// For returns s regardless of schema type.
func (s Static) For(string) Resolver { return s }

func (s Static) Resolve(context.Context) (*TableRef, error) {
	if s.Ref == nil {
		return nil, nil
	}
	ref := *s.Ref
	return &ref, nil
}

// Mapping maps schema types to tables, as loaded from a table-mapping file:
//
//	default: crypto_transaction
//	tables:
//	  crypto_transaction: {project_id: ledger, dataset_id: main, table_id: transactions}
type Mapping struct {
	Default string              `yaml:"default"`
	Tables  map[string]TableRef `yaml:"tables"`
}

func LoadMapping(r io.Reader) (*Mapping, error) {
	var m Mapping
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode table mapping: %w", err)
	}
	if m.Default != "" {
		if _, ok := m.Tables[m.Default]; !ok {
			return nil, fmt.Errorf("table mapping default %q has no table", m.Default)
		}
	}
	return &m, nil
}

func LoadMappingFile(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table mapping: %w", err)
	}
	defer f.Close()
	return LoadMapping(f)
}

// For returns a resolver bound to one schema type.
func (m *Mapping) For(schemaType string) Resolver {
	return mappingResolver{m: m, schemaType: schemaType}
}

type mappingResolver struct {
	m          *Mapping
	schemaType string
}

func (r mappingResolver) Resolve(context.Context) (*TableRef, error) {
	key := r.schemaType
	if key == "" {
		key = r.m.Default
	}
	ref, ok := r.m.Tables[key]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

// Qualified resolves and validates a table and renders it for dialect.
func Qualified(ctx context.Context, r Resolver, d Dialect) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: no resolver configured", ErrMissingConnection)
	}
	ref, err := r.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve connection: %w", err)
	}
	if err := ref.Validate(); err != nil {
		return "", err
	}
	if d == nil {
		d = ANSI{}
	}
	return d.QualifyTable(*ref), nil
}
