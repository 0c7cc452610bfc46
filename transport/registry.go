package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/trianglegrrl/dhyana/core"
)

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.TransportAdapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: map[string]core.TransportAdapter{},
	}
}

func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	_ = registry.Register(NewRESTAdapter(nil))
	_ = registry.Register(NewGraphQLAdapter("", nil))
	return registry
}

func (r *Registry) Register(adapter core.TransportAdapter) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("transport: adapter is nil")
	}
	kind := normalizeKind(adapter.Kind())
	if kind == "" {
		return fmt.Errorf("transport: adapter kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[kind]; exists {
		return fmt.Errorf("transport: adapter kind %q already registered", kind)
	}
	r.adapters[kind] = adapter
	return nil
}

func (r *Registry) Resolve(kind string) (core.TransportAdapter, error) {
	if r == nil {
		return nil, fmt.Errorf("transport: registry is nil")
	}
	normalized := normalizeKind(kind)
	r.mu.RLock()
	adapter, ok := r.adapters[normalized]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: adapter kind %q is not registered", normalized)
	}
	return adapter, nil
}

func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}
