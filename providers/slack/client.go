package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/ratelimit"
	"github.com/trianglegrrl/dhyana/transport"
)

const defaultAPIBaseURL = "https://slack.com/api"
const defaultCallTimeout = 10 * time.Second

// Slack error codes that no retry will fix.
var permanentPostErrors = map[string]struct{}{
	"channel_not_found": {},
	"invalid_blocks":    {},
	"invalid_auth":      {},
	"not_in_channel":    {},
	"msg_too_long":      {},
	"no_text":           {},
}

type ClientConfig struct {
	BotToken   string
	APIBaseURL string
	Timeout    time.Duration
}

type Client struct {
	transport core.TransportAdapter
	cfg       ClientConfig
	logger    core.Logger
	metrics   core.MetricsRecorder
}

func NewClient(adapter core.TransportAdapter, cfg ClientConfig, logger core.Logger, metrics core.MetricsRecorder) (*Client, error) {
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, goerrors.New("slack: bot token is required", goerrors.CategoryBadInput).
			WithTextCode(core.PipelineErrorBadInput)
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	return &Client{
		transport: adapter,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

type ChatMessage struct {
	Channel  string
	Text     string
	Blocks   []map[string]any
	ThreadTS string
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// PostMessage sends one message and returns the platform timestamp id.
// Rate-limit responses surface as ratelimit.ThrottledError so callers
// can reschedule instead of dead-lettering.
func (c *Client) PostMessage(ctx context.Context, msg ChatMessage) (string, error) {
	if c == nil || c.transport == nil {
		return "", goerrors.New("slack: client is not configured", goerrors.CategoryInternal).
			WithTextCode(core.PipelineErrorInternal)
	}
	channel := strings.TrimSpace(msg.Channel)
	if channel == "" {
		return "", goerrors.New("slack: channel is required", goerrors.CategoryValidation).
			WithTextCode(core.PipelineErrorBadInput)
	}
	if strings.TrimSpace(msg.Text) == "" && len(msg.Blocks) == 0 {
		return "", goerrors.New("slack: message text or blocks are required", goerrors.CategoryValidation).
			WithTextCode(core.PipelineErrorBadInput)
	}

	payload := map[string]any{
		"channel": channel,
		"text":    msg.Text,
	}
	if len(msg.Blocks) > 0 {
		payload["blocks"] = msg.Blocks
	}
	if strings.TrimSpace(msg.ThreadTS) != "" {
		payload["thread_ts"] = strings.TrimSpace(msg.ThreadTS)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "slack: marshal message payload").
			WithTextCode(core.PipelineErrorInternal)
	}

	startedAt := time.Now().UTC()
	res, err := c.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    strings.TrimRight(c.cfg.APIBaseURL, "/") + "/chat.postMessage",
		Headers: map[string]string{
			"Authorization": "Bearer " + strings.TrimSpace(c.cfg.BotToken),
			"Content-Type":  "application/json; charset=utf-8",
		},
		Body:    body,
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return "", err
	}
	core.RecordHistogram(ctx, c.metrics, "slack.post_message.duration_ms",
		float64(time.Since(startedAt).Milliseconds()),
		map[string]string{"status": strconv.Itoa(res.StatusCode)})

	if res.StatusCode == http.StatusTooManyRequests {
		return "", ratelimit.ThrottledError{
			ProviderID: string(core.PlatformSlack),
			BucketKey:  "chat.postMessage",
			RetryAfter: retryAfterHint(res.Headers),
		}.ToPipelineError()
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return "", goerrors.New(
			fmt.Sprintf("slack: api returned status %d", res.StatusCode),
			goerrors.CategoryExternal,
		).WithCode(http.StatusBadGateway).WithTextCode(core.PipelineErrorPlatformUnreliable)
	}

	var decoded postMessageResponse
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "slack: decode api response").
			WithTextCode(core.PipelineErrorPlatformUnreliable)
	}
	if !decoded.OK {
		return "", c.postError(decoded.Error, res.Headers)
	}

	core.LogInfo(ctx, c.logger, "slack message posted", map[string]any{
		"channel": channel,
		"ts":      decoded.TS,
	})
	return decoded.TS, nil
}

func (c *Client) postError(code string, headers map[string]string) error {
	code = strings.TrimSpace(code)
	if code == "rate_limited" || code == "ratelimited" {
		return ratelimit.ThrottledError{
			ProviderID: string(core.PlatformSlack),
			BucketKey:  "chat.postMessage",
			RetryAfter: retryAfterHint(headers),
		}.ToPipelineError()
	}
	if _, permanent := permanentPostErrors[code]; permanent {
		return goerrors.New("slack: api rejected message: "+code, goerrors.CategoryValidation).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.PipelineErrorPlatformRejected).
			WithMetadata(map[string]any{"slack_error": code})
	}
	return goerrors.New("slack: api error: "+code, goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.PipelineErrorPlatformUnreliable).
		WithMetadata(map[string]any{"slack_error": code})
}

func retryAfterHint(headers map[string]string) time.Duration {
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), "Retry-After") {
			if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return 30 * time.Second
}
