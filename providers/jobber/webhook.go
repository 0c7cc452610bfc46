package jobber

import (
	"encoding/json"
	"strings"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/webhooks"
)

const headerSignature = "X-Jobber-Hmac-SHA256"

type WebhookConfig struct {
	WebhookSecret string
}

// NewWebhookTemplate wires the base64 body-HMAC scheme. Jobber signs
// the raw payload without a timestamp, so there is no skew window.
func NewWebhookTemplate(cfg WebhookConfig) webhooks.PlatformWebhookTemplate {
	return webhooks.PlatformWebhookTemplate{
		Platform: core.PlatformJobber,
		Verifier: webhooks.HeaderHMACVerifier{
			Header:   headerSignature,
			Secret:   cfg.WebhookSecret,
			Encoding: "base64",
		},
		Extractor: webhooks.ChainDeliveryIDExtractors(
			webhooks.MetadataDeliveryIDExtractor("delivery_id"),
			ExtractEventKey,
			webhooks.BodyDigestDeliveryIDExtractor(),
		),
	}
}

// ExtractEventKey derives a delivery id from the webhook envelope.
// Jobber sends no per-delivery header, but the (topic, item id,
// occurred at) triple is stable across retransmissions of one event.
func ExtractEventKey(req core.InboundRequest) (string, error) {
	event, err := ParseEnvelope(req.Body)
	if err != nil {
		return "", nil
	}
	if event.Topic == "" || event.ItemID == "" {
		return "", nil
	}
	parts := []string{strings.ToLower(event.Topic), event.ItemID}
	if event.OccurredAt != "" {
		parts = append(parts, event.OccurredAt)
	}
	return "jobber-" + strings.Join(parts, ":"), nil
}

// WebhookEvent is the payload Jobber posts for every subscription.
type WebhookEvent struct {
	Topic      string `json:"topic"`
	ItemID     string `json:"itemId"`
	OccurredAt string `json:"occuredAt"`
	AccountID  string `json:"accountId"`
}

type webhookEnvelope struct {
	Data struct {
		WebHookEvent WebhookEvent `json:"webHookEvent"`
	} `json:"data"`
	WebhookEvent
}

// ParseEnvelope accepts both the documented nested form
// {"data":{"webHookEvent":{...}}} and the flat legacy form. Note the
// wire field is spelled "occuredAt" by the platform.
func ParseEnvelope(body []byte) (WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return WebhookEvent{}, malformedPayload("jobber: decode webhook envelope failed", err)
	}
	event := envelope.Data.WebHookEvent
	if event.Topic == "" && event.ItemID == "" {
		event = envelope.WebhookEvent
	}
	event.Topic = strings.TrimSpace(event.Topic)
	event.ItemID = strings.TrimSpace(event.ItemID)
	event.OccurredAt = strings.TrimSpace(event.OccurredAt)
	return event, nil
}
