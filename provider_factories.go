package dhyana

import (
	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/providers/jobber"
	"github.com/trianglegrrl/dhyana/providers/slack"
	"github.com/trianglegrrl/dhyana/ratelimit"
	"github.com/trianglegrrl/dhyana/transport"
	"github.com/trianglegrrl/dhyana/webhooks"
)

// NewSlackClient builds the chat client from pipeline config. A nil
// adapter gets a REST adapter over a default HTTP client.
func NewSlackClient(
	cfg core.Config,
	adapter core.TransportAdapter,
	logger core.Logger,
	metrics core.MetricsRecorder,
) (*slack.Client, error) {
	if adapter == nil {
		adapter = transport.NewRESTAdapter(defaultHTTPClient(0))
	}
	return slack.NewClient(adapter, slack.ClientConfig{
		BotToken:   cfg.Slack.BotToken,
		APIBaseURL: cfg.Slack.APIBaseURL,
	}, logger, metrics)
}

// NewJobberClient builds the GraphQL client from pipeline config. The
// rate limit store backs the client's fixed-window budget and throttle
// state; pass the pipeline's shared store so limits survive restarts.
func NewJobberClient(
	cfg core.Config,
	adapter core.TransportAdapter,
	store ratelimit.StateStore,
	logger core.Logger,
	metrics core.MetricsRecorder,
) (*jobber.Client, error) {
	if adapter == nil {
		adapter = transport.NewGraphQLAdapter(cfg.Jobber.APIBaseURL, defaultHTTPClient(0))
	}
	return jobber.NewClient(adapter, jobber.ClientConfig{
		AccessToken:     cfg.Jobber.AccessToken,
		APIBaseURL:      cfg.Jobber.APIBaseURL,
		GraphQLVersion:  cfg.Jobber.GraphQLVersion,
		RateLimitCount:  cfg.Jobber.RateLimitCount,
		RateLimitWindow: cfg.Jobber.RateLimitWindow,
	}, store, logger, metrics)
}

func SlackWebhookTemplate(cfg core.Config) webhooks.PlatformWebhookTemplate {
	template := slack.DefaultWebhookConfig(cfg.Slack.SigningSecret)
	if cfg.Slack.TimestampMaxSkew > 0 {
		template.MaxSkew = cfg.Slack.TimestampMaxSkew
	}
	return slack.NewWebhookTemplate(template)
}

func JobberWebhookTemplate(cfg core.Config) webhooks.PlatformWebhookTemplate {
	return jobber.NewWebhookTemplate(jobber.WebhookConfig{
		WebhookSecret: cfg.Jobber.WebhookSecret,
	})
}

// DefaultWebhookTemplates returns the verifier and delivery id
// extractor pair for each built-in platform.
func DefaultWebhookTemplates(cfg core.Config) []webhooks.PlatformWebhookTemplate {
	return []webhooks.PlatformWebhookTemplate{
		SlackWebhookTemplate(cfg),
		JobberWebhookTemplate(cfg),
	}
}
