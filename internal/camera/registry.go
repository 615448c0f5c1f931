package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry is the persistent set of known cameras, stored as a YAML file.
// Safe for concurrent use; Save rewrites the whole file via a temp file and
// rename so a crash never leaves a truncated registry.
type Registry struct {
	path string

	mu      sync.Mutex
	records map[string]*Record
}

// LoadRegistry reads the registry at path. A missing file yields an empty
// registry; it is created on first Save.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:    path,
		records: make(map[string]*Record),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading camera registry: %w", err)
	}

	var list []*Record
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing camera registry: %w", err)
	}
	for _, rec := range list {
		r.records[normalizeIdentity(rec.Identity)] = rec
	}
	return r, nil
}

// Get returns the record for identity, or nil when unknown.
func (r *Registry) Get(identity string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[normalizeIdentity(identity)]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

// Put inserts or replaces a record.
func (r *Registry) Put(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Identity = normalizeIdentity(rec.Identity)
	cp := rec
	r.records[rec.Identity] = &cp
}

// Remove deletes the record for identity. Returns whether it existed.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizeIdentity(identity)
	_, ok := r.records[key]
	delete(r.records, key)
	return ok
}

// List returns all records sorted by identity.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Save writes the registry back to disk.
func (r *Registry) Save() error {
	list := r.List()

	data, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding camera registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing camera registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing camera registry: %w", err)
	}
	return nil
}

// normalizeIdentity upper-cases BLE addresses so lookups are
// case-insensitive, matching how adapters report them inconsistently.
func normalizeIdentity(identity string) string {
	return strings.ToUpper(strings.TrimSpace(identity))
}
