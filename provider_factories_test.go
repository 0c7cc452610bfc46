package dhyana

import (
	"testing"
	"time"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/ratelimit"
	"github.com/trianglegrrl/dhyana/webhooks"
)

func TestSlackWebhookTemplate_UsesConfiguredSkew(t *testing.T) {
	cfg := testConfig()
	cfg.Slack.TimestampMaxSkew = 90 * time.Second

	template := SlackWebhookTemplate(cfg)
	if template.Platform != core.PlatformSlack {
		t.Fatalf("unexpected platform %s", template.Platform)
	}
	verifier, ok := template.Verifier.(webhooks.TimestampedHMACVerifier)
	if !ok {
		t.Fatalf("expected timestamped verifier, got %T", template.Verifier)
	}
	if verifier.MaxSkew != 90*time.Second {
		t.Fatalf("expected configured skew, got %s", verifier.MaxSkew)
	}
	if verifier.Secret != cfg.Slack.SigningSecret {
		t.Fatalf("verifier secret not taken from config")
	}
}

func TestSlackWebhookTemplate_DefaultsSkewWhenUnset(t *testing.T) {
	cfg := testConfig()
	cfg.Slack.TimestampMaxSkew = 0

	template := SlackWebhookTemplate(cfg)
	verifier := template.Verifier.(webhooks.TimestampedHMACVerifier)
	if verifier.MaxSkew != 5*time.Minute {
		t.Fatalf("expected default five minute skew, got %s", verifier.MaxSkew)
	}
}

func TestJobberWebhookTemplate_VerifiesBase64BodyHMAC(t *testing.T) {
	cfg := testConfig()
	template := JobberWebhookTemplate(cfg)
	if template.Platform != core.PlatformJobber {
		t.Fatalf("unexpected platform %s", template.Platform)
	}
	verifier, ok := template.Verifier.(webhooks.HeaderHMACVerifier)
	if !ok {
		t.Fatalf("expected header verifier, got %T", template.Verifier)
	}
	if verifier.Encoding != "base64" {
		t.Fatalf("expected base64 encoding, got %s", verifier.Encoding)
	}
	if verifier.Secret != cfg.Jobber.WebhookSecret {
		t.Fatalf("verifier secret not taken from config")
	}
}

func TestDefaultWebhookTemplates_CoversBothPlatforms(t *testing.T) {
	templates := DefaultWebhookTemplates(testConfig())
	if len(templates) != 2 {
		t.Fatalf("expected two templates, got %d", len(templates))
	}
	seen := map[core.Platform]bool{}
	for _, template := range templates {
		if template.Verifier == nil || template.Extractor == nil {
			t.Fatalf("template %s missing verifier or extractor", template.Platform)
		}
		seen[template.Platform] = true
	}
	if !seen[core.PlatformSlack] || !seen[core.PlatformJobber] {
		t.Fatalf("expected slack and jobber templates, got %v", seen)
	}
}

func TestNewSlackClient_RequiresBotToken(t *testing.T) {
	cfg := testConfig()
	cfg.Slack.BotToken = ""
	if _, err := NewSlackClient(cfg, nil, nil, nil); err == nil {
		t.Fatalf("expected error without bot token")
	}
}

func TestNewJobberClient_DefaultsTransport(t *testing.T) {
	cfg := testConfig()
	client, err := NewJobberClient(cfg, nil, ratelimit.NewMemoryStateStore(), nil, nil)
	if err != nil {
		t.Fatalf("new jobber client: %v", err)
	}
	if client == nil {
		t.Fatalf("expected client")
	}

	cfg.Jobber.AccessToken = ""
	if _, err := NewJobberClient(cfg, nil, ratelimit.NewMemoryStateStore(), nil, nil); err == nil {
		t.Fatalf("expected error without access token")
	}
}
