package catalog

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yaml
var builtin embed.FS

// Set holds catalogs keyed by schema type. It is built once and only read
// afterwards.
type Set map[string]*Catalog

func (s Set) Get(schemaType string) (*Catalog, bool) {
	c, ok := s[schemaType]
	return c, ok
}

// SchemaTypes returns the schema types in the set, sorted.
func (s Set) SchemaTypes() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load decodes and validates a single catalog document.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFS loads every *.yaml file under dir in fsys.
func LoadFS(fsys fs.FS, dir string) (Set, error) {
	files, err := fs.Glob(fsys, path.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}
	set := make(Set, len(files))
	for _, name := range files {
		f, err := fsys.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog %s: %w", name, err)
		}
		c, err := Load(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", name, err)
		}
		if _, ok := set[c.SchemaType]; ok {
			return nil, fmt.Errorf("catalog %s: schema type %s declared twice", name, c.SchemaType)
		}
		set[c.SchemaType] = c
	}
	return set, nil
}

var (
	defaultOnce sync.Once
	defaultSet  Set
	defaultErr  error
)

// Default returns the catalogs compiled into the binary.
func Default() (Set, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = LoadFS(builtin, "catalogs")
	})
	return defaultSet, defaultErr
}
