package inbound

import (
	"context"
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/webhooks"
)

var ackBody = []byte(`{"status":"ok"}`)

func ackResult(metadata map[string]any) core.InboundResult {
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Body:       ackBody,
		Metadata:   metadata,
	}
}

func textResult(text string) core.InboundResult {
	body, _ := json.Marshal(map[string]string{"text": text})
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Body:       body,
		Metadata:   map[string]any{"outcome": "replied"},
	}
}

func routerInternal(message string, cause error) error {
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.PipelineErrorInternal)
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.PipelineErrorInternal)
}

// Unknown event kinds and malformed bodies are acknowledged: webhook
// senders disable endpoints that return errors. Both leave an
// observable trail instead of a failing response.

func (r *Router) observeUnknownEvent(ctx context.Context, req core.InboundRequest, eventType string) core.InboundResult {
	core.LogInfo(ctx, r.logger, "unknown event type dropped", map[string]any{
		"platform":   string(req.Platform),
		"event_type": eventType,
	})
	core.RecordCounter(ctx, r.metrics, "router.unknown_event", 1, map[string]string{
		"platform": string(req.Platform),
	})
	return ackResult(map[string]any{"outcome": "unknown_event", "event_type": eventType})
}

func (r *Router) observeMalformed(ctx context.Context, req core.InboundRequest, reason string) core.InboundResult {
	core.LogInfo(ctx, r.logger, "malformed payload dropped", map[string]any{
		"platform":    string(req.Platform),
		"reason":      reason,
		"body_digest": webhooks.BodyDigest(req.Body),
	})
	core.RecordCounter(ctx, r.metrics, "router.malformed_payload", 1, map[string]string{
		"platform": string(req.Platform),
	})
	return ackResult(map[string]any{"outcome": "malformed_payload", "reason": reason})
}
