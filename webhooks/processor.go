package webhooks

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	Platform      core.Platform
	DeliveryID    string
	Status        string
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger records every verified delivery exactly once. Claim is
// the dedupe gate: claimed=false means this delivery id was already
// seen and the envelope should be acked without reprocessing.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		platform core.Platform,
		deliveryID string,
		payloadDigest string,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, platform core.Platform, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

type DeliveryIDExtractor func(req core.InboundRequest) (string, error)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type Handler interface {
	Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Processor is the boundary pipeline: verify, claim, hand off to the
// router, settle the ledger. Verification failures never reach the
// handler and never change pipeline state.
type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Handler     Handler
	ExtractID   DeliveryIDExtractor
	Burst       BurstController
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
	Logger      core.Logger
	Metrics     core.MetricsRecorder
}

func NewProcessor(verifier Verifier, ledger DeliveryLedger, handler Handler) *Processor {
	return &Processor{
		Verifier:    verifier,
		Ledger:      ledger,
		Handler:     handler,
		ExtractID:   ChainDeliveryIDExtractors(MetadataDeliveryIDExtractor("delivery_id"), BodyDigestDeliveryIDExtractor()),
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 5,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil || p.Handler == nil || p.Ledger == nil {
		return core.InboundResult{}, webhookInternal("webhooks: processor requires handler and ledger", nil)
	}

	platform, err := core.ParsePlatform(string(req.Platform))
	if err != nil {
		return core.InboundResult{}, webhookBadInput("webhooks: platform is required", nil)
	}
	req.Platform = platform

	if p.Verifier != nil {
		if verifyErr := p.Verifier.Verify(ctx, req); verifyErr != nil {
			p.observeRejection(ctx, req, verifyErr)
			return core.InboundResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata: map[string]any{
					"platform": string(platform),
					"rejected": true,
					"result":   string(ResultFromError(verifyErr)),
				},
			}, verifyErr
		}
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = BodyDigestDeliveryIDExtractor()
	}
	deliveryID, err := extractor(req)
	if err != nil {
		return core.InboundResult{}, err
	}

	delivery, claimed, err := p.Ledger.Claim(ctx, platform, deliveryID, BodyDigest(req.Body), p.claimLease())
	if err != nil {
		return core.InboundResult{}, err
	}
	if !claimed {
		core.RecordCounter(ctx, p.Metrics, "webhooks.delivery.deduped", 1, map[string]string{"platform": string(platform)})
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"platform":    string(platform),
				"delivery_id": delivery.DeliveryID,
				"status":      delivery.Status,
				"deduped":     true,
			},
		}, nil
	}

	if p.Burst != nil {
		decision, burstErr := p.Burst.Allow(ctx, req)
		if burstErr != nil {
			return core.InboundResult{}, burstErr
		}
		if !decision.Allow {
			if markErr := p.Ledger.Complete(ctx, delivery.ClaimID); markErr != nil {
				return core.InboundResult{}, markErr
			}
			metadata := ensureMetadata(decision.Metadata)
			metadata["platform"] = string(platform)
			metadata["delivery_id"] = deliveryID
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata:   metadata,
			}, nil
		}
	}

	result, err := p.Handler.Handle(ctx, req)
	if err != nil {
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		_ = p.Ledger.Fail(ctx, delivery.ClaimID, err, nextAttemptAt, p.maxAttempts())
		return core.InboundResult{}, err
	}
	if !result.Accepted || result.StatusCode >= http.StatusInternalServerError {
		retryErr := webhookInternal("webhooks: delivery handler returned retryable failure", map[string]any{
			"status_code": result.StatusCode,
		})
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		_ = p.Ledger.Fail(ctx, delivery.ClaimID, retryErr, nextAttemptAt, p.maxAttempts())
		return result, retryErr
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return core.InboundResult{}, err
	}
	result.Metadata = ensureMetadata(result.Metadata)
	result.Metadata["platform"] = string(platform)
	result.Metadata["delivery_id"] = deliveryID
	return result, nil
}

// observeRejection logs the failed verification with the source address
// and a body digest. The raw payload and the secret never hit the log.
func (p *Processor) observeRejection(ctx context.Context, req core.InboundRequest, cause error) {
	fields := map[string]any{
		"platform":    string(req.Platform),
		"result":      string(ResultFromError(cause)),
		"body_digest": BodyDigest(req.Body),
	}
	if source := sourceAddress(req); source != "" {
		fields["source_ip"] = source
	}
	core.LogError(ctx, p.Logger, "webhook signature rejected", fields)
	core.RecordCounter(ctx, p.Metrics, "webhooks.delivery.rejected", 1, map[string]string{
		"platform": string(req.Platform),
		"result":   string(ResultFromError(cause)),
	})
}

func sourceAddress(req core.InboundRequest) string {
	if req.Metadata != nil {
		if value := strings.TrimSpace(stringify(req.Metadata["remote_addr"])); value != "" {
			return value
		}
	}
	if forwarded := headerValue(req.Headers, "X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	return ""
}

func stringify(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 5
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}
