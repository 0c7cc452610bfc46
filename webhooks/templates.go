package webhooks

import (
	"fmt"
	"strings"

	"github.com/trianglegrrl/dhyana/core"
)

// PlatformWebhookTemplate bundles the verifier and delivery-id
// extraction for one platform. Provider packages construct these.
type PlatformWebhookTemplate struct {
	Platform  core.Platform
	Verifier  Verifier
	Extractor DeliveryIDExtractor
}

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req core.InboundRequest) (string, error) {
		for _, key := range keys {
			if value := strings.TrimSpace(headerValue(req.Headers, key)); value != "" {
				return value, nil
			}
		}
		return "", webhookBadInput("webhooks: delivery id is required for dedupe", nil)
	}
}

func MetadataDeliveryIDExtractor(keys ...string) DeliveryIDExtractor {
	names := append([]string(nil), keys...)
	return func(req core.InboundRequest) (string, error) {
		for _, key := range names {
			if req.Metadata == nil {
				break
			}
			value := strings.TrimSpace(fmt.Sprint(req.Metadata[key]))
			if value != "" && value != "<nil>" {
				return value, nil
			}
		}
		return "", webhookBadInput("webhooks: delivery id is required for dedupe", nil)
	}
}

// BodyDigestDeliveryIDExtractor derives a stable delivery id from the
// raw body. Last resort for platforms that send no delivery id: an
// exact retransmission dedupes, a changed payload processes again.
func BodyDigestDeliveryIDExtractor() DeliveryIDExtractor {
	return func(req core.InboundRequest) (string, error) {
		if len(req.Body) == 0 {
			return "", webhookBadInput("webhooks: delivery id is required for dedupe", nil)
		}
		return string(req.Platform) + "-" + BodyDigest(req.Body), nil
	}
}

func ChainDeliveryIDExtractors(extractors ...DeliveryIDExtractor) DeliveryIDExtractor {
	list := append([]DeliveryIDExtractor(nil), extractors...)
	return func(req core.InboundRequest) (string, error) {
		var lastErr error
		for _, extractor := range list {
			if extractor == nil {
				continue
			}
			deliveryID, err := extractor(req)
			if err == nil && strings.TrimSpace(deliveryID) != "" {
				return strings.TrimSpace(deliveryID), nil
			}
			if err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", webhookBadInput("webhooks: delivery id is required for dedupe", nil)
	}
}
