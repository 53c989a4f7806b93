package reports

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrReportNotFound  = errors.New("report not found")
	ErrDuplicateReport = errors.New("report already registered")
)

// Factory builds a fresh generator bound to env.
type Factory func(env Env) (Generator, error)

// Report is a registry lookup result.
type Report struct {
	Metadata  Metadata
	Generator Generator
}

type entry struct {
	meta    Metadata
	factory Factory
}

// Registry maps report IDs to metadata and generator factories. Lookups are
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	byID    map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

func (r *Registry) Register(meta Metadata, factory Factory) error {
	if strings.TrimSpace(meta.ID) == "" {
		return errors.New("report id is required")
	}
	if factory == nil {
		return fmt.Errorf("report %s: factory is required", meta.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[meta.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateReport, meta.ID)
	}
	r.byID[meta.ID] = len(r.entries)
	r.entries = append(r.entries, entry{meta: meta, factory: factory})
	return nil
}

// Get builds a new generator for id. Factory errors and panics are returned
// as errors.
func (r *Registry) Get(id string, env Env) (report *Report, err error) {
	r.mu.RLock()
	idx, ok := r.byID[id]
	var e entry
	if ok {
		e = r.entries[idx]
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}

	defer func() {
		if rec := recover(); rec != nil {
			report = nil
			err = fmt.Errorf("failed to build report %s: %v", id, rec)
		}
	}()
	gen, err := e.factory(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build report %s: %w", id, err)
	}
	return &Report{Metadata: e.meta, Generator: gen}, nil
}

// Metadata returns the metadata for id without building a generator.
func (r *Registry) Metadata(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return Metadata{}, false
	}
	return r.entries[idx].meta, true
}

// ListForSchemaType returns every report when schemaType is empty, otherwise
// the reports compatible with it. Order is registration order.
func (r *Registry) ListForSchemaType(schemaType string) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	for _, e := range r.entries {
		if schemaType == "" || e.meta.CompatibleWith(schemaType) {
			out = append(out, e.meta)
		}
	}
	return out
}

// Search matches query case-insensitively against name, description and
// keywords. A report matching any of them is returned.
func (r *Registry) Search(query string) []Metadata {
	q := strings.ToLower(strings.TrimSpace(query))
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Metadata
	for _, e := range r.entries {
		if q == "" || matches(e.meta, q) {
			out = append(out, e.meta)
		}
	}
	return out
}

func matches(m Metadata, q string) bool {
	if strings.Contains(strings.ToLower(m.Name), q) || strings.Contains(strings.ToLower(m.Description), q) {
		return true
	}
	for _, k := range m.Keywords {
		if strings.Contains(strings.ToLower(k), q) {
			return true
		}
	}
	return false
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of built-in reports.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		for _, k := range builtins() {
			if err := r.Register(k.meta, k.factory); err != nil {
				panic(err)
			}
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

type builtin struct {
	meta    Metadata
	factory Factory
}

func builtins() []builtin {
	return []builtin{
		{monthlyActivityMeta, newMonthlyActivity},
		{assetBalanceMeta, newAssetBalance},
		{transactionLedgerMeta, newTransactionLedger},
		{cantonPartyActivityMeta, newCantonPartyActivity},
		{feeSummaryMeta, newFeeSummary},
	}
}
