package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded config, and runtime
// overrides by scope priority, then rebuilds a validated Config.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	slack := map[string]any{}
	setString(slack, "signing_secret", cfg.Slack.SigningSecret, includeZero)
	setString(slack, "bot_token", cfg.Slack.BotToken, includeZero)
	setString(slack, "notify_channel", cfg.Slack.NotifyChannel, includeZero)
	setString(slack, "api_base_url", cfg.Slack.APIBaseURL, includeZero)
	setDuration(slack, "timestamp_max_skew", cfg.Slack.TimestampMaxSkew, includeZero)
	if len(slack) > 0 {
		layer["slack"] = slack
	}

	jobber := map[string]any{}
	setString(jobber, "webhook_secret", cfg.Jobber.WebhookSecret, includeZero)
	setString(jobber, "access_token", cfg.Jobber.AccessToken, includeZero)
	setString(jobber, "api_base_url", cfg.Jobber.APIBaseURL, includeZero)
	setString(jobber, "graphql_version", cfg.Jobber.GraphQLVersion, includeZero)
	setInt(jobber, "rate_limit_count", cfg.Jobber.RateLimitCount, includeZero)
	setDuration(jobber, "rate_limit_window", cfg.Jobber.RateLimitWindow, includeZero)
	if len(jobber) > 0 {
		layer["jobber"] = jobber
	}

	queue := map[string]any{}
	setInt(queue, "workers", cfg.Queue.Workers, includeZero)
	setDuration(queue, "poll_interval", cfg.Queue.PollInterval, includeZero)
	setInt(queue, "claim_batch_size", cfg.Queue.ClaimBatchSize, includeZero)
	setDuration(queue, "backoff_base", cfg.Queue.BackoffBase, includeZero)
	setDuration(queue, "backoff_max", cfg.Queue.BackoffMax, includeZero)
	setInt(queue, "max_attempts", cfg.Queue.MaxAttempts, includeZero)
	setDuration(queue, "lease_timeout", cfg.Queue.LeaseTimeout, includeZero)
	if len(queue) > 0 {
		layer["queue"] = queue
	}

	notify := map[string]any{}
	if includeZero || len(cfg.Notify.Transitions) > 0 {
		notify["transitions"] = append([]string(nil), cfg.Notify.Transitions...)
	}
	setString(notify, "channel", cfg.Notify.Channel, includeZero)
	if len(notify) > 0 {
		layer["notify"] = notify
	}

	return layer
}

func setString(layer map[string]any, key, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		layer[key] = value
	}
}

func setInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func setDuration(layer map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}
