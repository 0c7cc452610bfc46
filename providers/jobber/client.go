package jobber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/ratelimit"
	"github.com/trianglegrrl/dhyana/transport"
)

const (
	headerGraphQLVersion = "X-JOBBER-GRAPHQL-VERSION"

	defaultAPIBaseURL      = "https://api.getjobber.com/api/graphql"
	defaultGraphQLVersion  = "2023-11-15"
	defaultRequestTimeout  = 30 * time.Second
	defaultRateLimitCount  = 2500
	defaultRateLimitWindow = 5 * time.Minute
)

type ClientConfig struct {
	AccessToken     string
	APIBaseURL      string
	GraphQLVersion  string
	Timeout         time.Duration
	RateLimitCount  int
	RateLimitWindow time.Duration
}

// Client fetches full entity records over the GraphQL API. Webhook
// payloads carry only (topic, item id), so every sync pulls the
// current state through here.
type Client struct {
	adapter core.TransportAdapter
	cfg     ClientConfig
	limiter *ratelimit.FixedWindowLimiter
	policy  core.RateLimitPolicy
	logger  core.Logger
	metrics core.MetricsRecorder
}

func NewClient(
	adapter core.TransportAdapter,
	cfg ClientConfig,
	store ratelimit.StateStore,
	logger core.Logger,
	metrics core.MetricsRecorder,
) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, clientBadInput("jobber: access token is required")
	}
	if adapter == nil {
		adapter = transport.NewGraphQLAdapter("", nil)
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if strings.TrimSpace(cfg.GraphQLVersion) == "" {
		cfg.GraphQLVersion = defaultGraphQLVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.RateLimitCount <= 0 {
		cfg.RateLimitCount = defaultRateLimitCount
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = defaultRateLimitWindow
	}
	if store == nil {
		store = ratelimit.NewMemoryStateStore()
	}
	return &Client{
		adapter: adapter,
		cfg:     cfg,
		limiter: ratelimit.NewFixedWindowLimiter(store, cfg.RateLimitCount, cfg.RateLimitWindow),
		policy:  ratelimit.NewAdaptivePolicy(store),
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (c *Client) GetClient(ctx context.Context, id string) (ClientDetail, error) {
	var payload struct {
		Client *ClientDetail `json:"client"`
	}
	if err := c.query(ctx, "GetClient", queryGetClient, id, &payload); err != nil {
		return ClientDetail{}, err
	}
	if payload.Client == nil {
		return ClientDetail{}, platformRejected(
			"jobber: client not found",
			map[string]any{"item_id": id},
		)
	}
	return *payload.Client, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (JobDetail, error) {
	var payload struct {
		Job *JobDetail `json:"job"`
	}
	if err := c.query(ctx, "GetJob", queryGetJob, id, &payload); err != nil {
		return JobDetail{}, err
	}
	if payload.Job == nil {
		return JobDetail{}, platformRejected(
			"jobber: job not found",
			map[string]any{"item_id": id},
		)
	}
	return *payload.Job, nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (InvoiceDetail, error) {
	var payload struct {
		Invoice *InvoiceDetail `json:"invoice"`
	}
	if err := c.query(ctx, "GetInvoice", queryGetInvoice, id, &payload); err != nil {
		return InvoiceDetail{}, err
	}
	if payload.Invoice == nil {
		return InvoiceDetail{}, platformRejected(
			"jobber: invoice not found",
			map[string]any{"item_id": id},
		)
	}
	return *payload.Invoice, nil
}

func (c *Client) query(ctx context.Context, operationName, document, id string, out any) error {
	key := c.rateLimitKey()
	if err := c.policy.BeforeCall(ctx, key); err != nil {
		return throttleError(err)
	}
	if err := c.limiter.Acquire(ctx, key); err != nil {
		return throttleError(err)
	}

	started := time.Now()
	response, err := c.adapter.Do(ctx, core.TransportRequest{
		URL: c.cfg.APIBaseURL,
		Headers: map[string]string{
			"Authorization":      "Bearer " + c.cfg.AccessToken,
			headerGraphQLVersion: c.cfg.GraphQLVersion,
		},
		Timeout: c.cfg.Timeout,
		Metadata: map[string]any{
			"query":          document,
			"operation_name": operationName,
			"variables":      map[string]any{"id": id},
		},
	})
	core.RecordHistogram(ctx, c.metrics, "jobber.graphql.duration_ms",
		float64(time.Since(started).Milliseconds()),
		map[string]string{"operation": operationName},
	)
	if err != nil {
		return platformUnavailable("jobber: graphql request failed", err, map[string]any{
			"operation": operationName,
		})
	}

	if afterErr := c.policy.AfterCall(ctx, key, core.ProviderResponseMeta{
		StatusCode: response.StatusCode,
		Headers:    response.Headers,
	}); afterErr != nil {
		core.LogError(ctx, c.logger, "record rate-limit state", map[string]any{
			"operation": operationName,
			"error":     afterErr.Error(),
		})
	}

	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		return ratelimit.ThrottledError{
			ProviderID: key.ProviderID,
			BucketKey:  key.BucketKey,
			RetryAfter: retryAfterHint(response.Headers),
		}.ToPipelineError()
	case response.StatusCode >= http.StatusInternalServerError:
		return platformUnavailable("jobber: graphql endpoint unavailable", nil, map[string]any{
			"operation":   operationName,
			"status_code": response.StatusCode,
		})
	case response.StatusCode >= http.StatusBadRequest:
		return platformRejected("jobber: graphql request rejected", map[string]any{
			"operation":   operationName,
			"status_code": response.StatusCode,
		})
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(response.Body, &envelope); err != nil {
		return platformUnavailable("jobber: decode graphql response", err, map[string]any{
			"operation": operationName,
		})
	}
	if len(envelope.Errors) > 0 {
		return platformRejected("jobber: graphql errors returned", map[string]any{
			"operation":     operationName,
			"graphql_error": envelope.Errors[0].Message,
		})
	}
	if len(envelope.Data) == 0 {
		return platformUnavailable("jobber: graphql response has no data", nil, map[string]any{
			"operation": operationName,
		})
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return platformUnavailable("jobber: decode graphql data", err, map[string]any{
			"operation": operationName,
		})
	}
	return nil
}

func (c *Client) rateLimitKey() core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: string(core.PlatformJobber),
		ScopeType:  "account",
		ScopeID:    "default",
		BucketKey:  "graphql",
	}
}

func throttleError(err error) error {
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return throttled.ToPipelineError()
	}
	return err
}

func retryAfterHint(headers map[string]string) time.Duration {
	for key, value := range headers {
		if !strings.EqualFold(key, "Retry-After") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 30 * time.Second
}
