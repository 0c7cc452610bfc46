package dhyana

import (
	"fmt"
	"testing"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/webhooks"
)

func testTemplate(platform core.Platform) webhooks.PlatformWebhookTemplate {
	return webhooks.PlatformWebhookTemplate{
		Platform:  platform,
		Verifier:  allowAllVerifier{},
		Extractor: webhooks.BodyDigestDeliveryIDExtractor(),
	}
}

func TestExtensionHooks_RegisterPlatformPackValidation(t *testing.T) {
	hooks := NewExtensionHooks()

	if err := hooks.RegisterPlatformPack(PlatformPack{Name: "  "}); err == nil {
		t.Fatalf("expected error for blank pack name")
	}
	if err := hooks.RegisterPlatformPack(PlatformPack{Name: "empty"}); err == nil {
		t.Fatalf("expected error for pack without templates")
	}
	if err := hooks.RegisterPlatformPack(PlatformPack{
		Name:      "no-platform",
		Templates: []webhooks.PlatformWebhookTemplate{{Verifier: allowAllVerifier{}}},
	}); err == nil {
		t.Fatalf("expected error for template without platform")
	}
	if err := hooks.RegisterPlatformPack(PlatformPack{
		Name:      "no-verifier",
		Templates: []webhooks.PlatformWebhookTemplate{{Platform: core.PlatformSlack}},
	}); err == nil {
		t.Fatalf("expected error for template without verifier")
	}
}

func TestExtensionHooks_RejectsDuplicatePackNames(t *testing.T) {
	hooks := NewExtensionHooks()
	pack := PlatformPack{
		Name:      "pack",
		Templates: []webhooks.PlatformWebhookTemplate{testTemplate(core.PlatformSlack)},
	}
	if err := hooks.RegisterPlatformPack(pack); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := hooks.RegisterPlatformPack(pack); err == nil {
		t.Fatalf("expected duplicate pack rejection")
	}
}

func TestExtensionHooks_TemplatesFirstPerPlatformWins(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterPlatformPack(PlatformPack{
		Name:      "alpha",
		Templates: []webhooks.PlatformWebhookTemplate{testTemplate(core.PlatformSlack)},
	}); err != nil {
		t.Fatalf("register alpha: %v", err)
	}
	if err := hooks.RegisterPlatformPack(PlatformPack{
		Name: "beta",
		Templates: []webhooks.PlatformWebhookTemplate{
			testTemplate(core.PlatformSlack),
			testTemplate(core.PlatformJobber),
		},
	}); err != nil {
		t.Fatalf("register beta: %v", err)
	}

	templates := hooks.Templates()
	if len(templates) != 2 {
		t.Fatalf("expected one template per platform, got %d", len(templates))
	}
	if templates[0].Platform != core.PlatformSlack {
		t.Fatalf("expected alpha's slack template first, got %s", templates[0].Platform)
	}
	if templates[1].Platform != core.PlatformJobber {
		t.Fatalf("expected beta's jobber template second, got %s", templates[1].Platform)
	}

	packs := hooks.PlatformPacks()
	if len(packs) != 2 || packs[0].Name != "alpha" || packs[1].Name != "beta" {
		t.Fatalf("expected alphabetical pack listing, got %+v", packs)
	}
}

func TestExtensionHooks_BuildBundles(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterBundle("", func(*Pipeline) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected error for blank bundle name")
	}
	if err := hooks.RegisterBundle("reports", nil); err == nil {
		t.Fatalf("expected error for nil factory")
	}

	if err := hooks.RegisterBundle("reports", func(p *Pipeline) (any, error) {
		return "reports:" + p.Config().ServiceName, nil
	}); err != nil {
		t.Fatalf("register reports bundle: %v", err)
	}
	if err := hooks.RegisterBundle("reports", func(*Pipeline) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate bundle rejection")
	}
	if err := hooks.RegisterBundle("audit", func(*Pipeline) (any, error) {
		return "audit", nil
	}); err != nil {
		t.Fatalf("register audit bundle: %v", err)
	}

	if _, err := hooks.BuildBundles(nil); err == nil {
		t.Fatalf("expected error for nil pipeline")
	}

	pipeline, err := NewPipeline(testConfig(), WithStores(testStores()))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	bundles, err := hooks.BuildBundles(pipeline)
	if err != nil {
		t.Fatalf("build bundles: %v", err)
	}
	if len(bundles) != 2 {
		t.Fatalf("expected two bundles, got %d", len(bundles))
	}
	if bundles["reports"] != "reports:dhyana-test" {
		t.Fatalf("unexpected reports bundle %v", bundles["reports"])
	}

	names := hooks.BundleNames()
	if len(names) != 2 || names[0] != "audit" || names[1] != "reports" {
		t.Fatalf("expected sorted bundle names, got %v", names)
	}
}

func TestExtensionHooks_BuildBundlesPropagatesFactoryError(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterBundle("broken", func(*Pipeline) (any, error) {
		return nil, fmt.Errorf("bundle assembly failed")
	}); err != nil {
		t.Fatalf("register bundle: %v", err)
	}
	pipeline, err := NewPipeline(testConfig(), WithStores(testStores()))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	if _, err := hooks.BuildBundles(pipeline); err == nil {
		t.Fatalf("expected factory error to surface")
	}
}
