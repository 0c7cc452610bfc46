package slack

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/webhooks"
)

const (
	headerSignature = "X-Slack-Signature"
	headerTimestamp = "X-Slack-Request-Timestamp"
)

const defaultTimestampMaxSkew = 5 * time.Minute

type WebhookConfig struct {
	SigningSecret string
	MaxSkew       time.Duration
	Now           func() time.Time
}

func DefaultWebhookConfig(signingSecret string) WebhookConfig {
	return WebhookConfig{
		SigningSecret: strings.TrimSpace(signingSecret),
		MaxSkew:       defaultTimestampMaxSkew,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func NewWebhookTemplate(cfg WebhookConfig) webhooks.PlatformWebhookTemplate {
	return webhooks.PlatformWebhookTemplate{
		Platform: core.PlatformSlack,
		Verifier: webhooks.TimestampedHMACVerifier{
			SignatureHeader: headerSignature,
			TimestampHeader: headerTimestamp,
			Version:         "v0",
			Secret:          strings.TrimSpace(cfg.SigningSecret),
			MaxSkew:         cfg.MaxSkew,
			Now:             cfg.Now,
		},
		Extractor: webhooks.ChainDeliveryIDExtractors(
			webhooks.MetadataDeliveryIDExtractor("delivery_id"),
			ExtractEventID,
			webhooks.BodyDigestDeliveryIDExtractor(),
		),
	}
}

// ExtractEventID pulls the event envelope id (EvXXXX) out of the raw
// body. Interaction and command payloads have no event id and fall
// through to the digest extractor.
func ExtractEventID(req core.InboundRequest) (string, error) {
	var envelope struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		// Slash commands post form-encoded bodies; let the digest extractor handle them.
		return "", nil
	}
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		return "", nil
	}
	return eventID, nil
}
