package dhyana

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/webhooks"
)

// PlatformPack bundles the webhook templates an extension contributes
// for additional source platforms.
type PlatformPack struct {
	Name      string
	Templates []webhooks.PlatformWebhookTemplate
}

// BundleFactory builds an extension's command/query bundle over an
// assembled pipeline.
type BundleFactory func(pipeline *Pipeline) (any, error)

// ExtensionHooks collects platform packs and bundle factories before
// the pipeline is assembled. Registration is first-write-wins per
// name; duplicates are rejected so packs cannot silently shadow one
// another.
type ExtensionHooks struct {
	mu sync.RWMutex

	platformPacks map[string]PlatformPack
	bundles       map[string]BundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		platformPacks: map[string]PlatformPack{},
		bundles:       map[string]BundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterPlatformPack(pack PlatformPack) error {
	if h == nil {
		return fmt.Errorf("pipeline: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("pipeline: platform pack name is required")
	}
	if len(pack.Templates) == 0 {
		return fmt.Errorf("pipeline: platform pack %q has no templates", name)
	}
	for _, template := range pack.Templates {
		if template.Platform == "" {
			return fmt.Errorf("pipeline: platform pack %q has a template without a platform", name)
		}
		if template.Verifier == nil {
			return fmt.Errorf("pipeline: platform pack %q template %q has no verifier", name, template.Platform)
		}
	}

	normalized := PlatformPack{
		Name:      name,
		Templates: append([]webhooks.PlatformWebhookTemplate(nil), pack.Templates...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.platformPacks[name]; exists {
		return fmt.Errorf("pipeline: platform pack %q already registered", name)
	}
	h.platformPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterBundle(name string, factory BundleFactory) error {
	if h == nil {
		return fmt.Errorf("pipeline: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("pipeline: bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("pipeline: bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("pipeline: bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// Templates flattens every registered pack in pack-name order, first
// template per platform wins. The pipeline gives these precedence
// over its built-in platform templates.
func (h *ExtensionHooks) Templates() []webhooks.PlatformWebhookTemplate {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.platformPacks))
	for name := range h.platformPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := map[core.Platform]bool{}
	out := []webhooks.PlatformWebhookTemplate{}
	for _, name := range names {
		for _, template := range h.platformPacks[name].Templates {
			if seen[template.Platform] {
				continue
			}
			seen[template.Platform] = true
			out = append(out, template)
		}
	}
	return out
}

func (h *ExtensionHooks) PlatformPacks() []PlatformPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.platformPacks))
	for name := range h.platformPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PlatformPack, 0, len(names))
	for _, name := range names {
		pack := h.platformPacks[name]
		out = append(out, PlatformPack{
			Name:      pack.Name,
			Templates: append([]webhooks.PlatformWebhookTemplate(nil), pack.Templates...),
		})
	}
	return out
}

// BuildBundles runs every registered factory against the pipeline in
// bundle-name order and returns the bundles keyed by name.
func (h *ExtensionHooks) BuildBundles(pipeline *Pipeline) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline: pipeline is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]BundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](pipeline)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
