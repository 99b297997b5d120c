package providers

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is the configuration of one known provider type.
type Entry struct {
	Type       string
	Scope      []string
	Capability Capability
}

// Registry maps provider-type names to their configuration. It is built once at
// startup and never mutated.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry registers the entries by type. Types must be unique and non-empty.
func NewRegistry(entries ...Entry) (*Registry, error) {
	registered := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		name := normalizeType(entry.Type)
		if name == "" {
			return nil, fmt.Errorf("providers: provider type required")
		}
		if _, exists := registered[name]; exists {
			return nil, fmt.Errorf("providers: duplicate provider type %q", name)
		}
		if entry.Capability == nil {
			return nil, fmt.Errorf("providers: capability required for %q", name)
		}
		entry.Type = name
		entry.Scope = append([]string(nil), entry.Scope...)
		registered[name] = entry
	}
	return &Registry{entries: registered}, nil
}

// IsKnown reports whether the provider type is configured.
func (r *Registry) IsKnown(providerType string) bool {
	if r == nil {
		return false
	}
	_, ok := r.entries[normalizeType(providerType)]
	return ok
}

// ScopeFor returns the configured scope, or an empty slice for unknown types.
func (r *Registry) ScopeFor(providerType string) []string {
	entry, err := r.Lookup(providerType)
	if err != nil {
		return []string{}
	}
	return append([]string{}, entry.Scope...)
}

// Lookup returns the entry for the provider type.
func (r *Registry) Lookup(providerType string) (Entry, error) {
	if r == nil {
		return Entry{}, ErrUnknownProviderType
	}
	entry, ok := r.entries[normalizeType(providerType)]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownProviderType, providerType)
	}
	return entry, nil
}

// Types lists the registered provider types.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.entries))
	for name := range r.entries {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

func normalizeType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
