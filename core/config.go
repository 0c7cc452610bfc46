package core

import (
	"fmt"
	"strings"
	"time"
)

type SlackConfig struct {
	SigningSecret    string        `koanf:"signing_secret" mapstructure:"signing_secret"`
	BotToken         string        `koanf:"bot_token" mapstructure:"bot_token"`
	NotifyChannel    string        `koanf:"notify_channel" mapstructure:"notify_channel"`
	APIBaseURL       string        `koanf:"api_base_url" mapstructure:"api_base_url"`
	TimestampMaxSkew time.Duration `koanf:"timestamp_max_skew" mapstructure:"timestamp_max_skew"`
}

type JobberConfig struct {
	WebhookSecret   string        `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	AccessToken     string        `koanf:"access_token" mapstructure:"access_token"`
	APIBaseURL      string        `koanf:"api_base_url" mapstructure:"api_base_url"`
	GraphQLVersion  string        `koanf:"graphql_version" mapstructure:"graphql_version"`
	RateLimitCount  int           `koanf:"rate_limit_count" mapstructure:"rate_limit_count"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" mapstructure:"rate_limit_window"`
}

type QueueConfig struct {
	Workers        int           `koanf:"workers" mapstructure:"workers"`
	PollInterval   time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	ClaimBatchSize int           `koanf:"claim_batch_size" mapstructure:"claim_batch_size"`
	BackoffBase    time.Duration `koanf:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax     time.Duration `koanf:"backoff_max" mapstructure:"backoff_max"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	LeaseTimeout   time.Duration `koanf:"lease_timeout" mapstructure:"lease_timeout"`
}

type NotifyConfig struct {
	Transitions []string `koanf:"transitions" mapstructure:"transitions"`
	Channel     string   `koanf:"channel" mapstructure:"channel"`
}

type Config struct {
	ServiceName string       `koanf:"service_name" mapstructure:"service_name"`
	Slack       SlackConfig  `koanf:"slack" mapstructure:"slack"`
	Jobber      JobberConfig `koanf:"jobber" mapstructure:"jobber"`
	Queue       QueueConfig  `koanf:"queue" mapstructure:"queue"`
	Notify      NotifyConfig `koanf:"notify" mapstructure:"notify"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "dhyana",
		Slack: SlackConfig{
			APIBaseURL:       "https://slack.com/api",
			TimestampMaxSkew: 5 * time.Minute,
		},
		Jobber: JobberConfig{
			APIBaseURL:      "https://api.getjobber.com/api/graphql",
			GraphQLVersion:  "2023-11-15",
			RateLimitCount:  2500,
			RateLimitWindow: 5 * time.Minute,
		},
		Queue: QueueConfig{
			Workers:        4,
			PollInterval:   time.Second,
			ClaimBatchSize: 16,
			BackoffBase:    2 * time.Second,
			BackoffMax:     5 * time.Minute,
			MaxAttempts:    5,
			LeaseTimeout:   2 * time.Minute,
		},
		Notify: NotifyConfig{
			Transitions: []string{"job.created", "invoice.paid", "client.created"},
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Slack.TimestampMaxSkew < 0 {
		return fmt.Errorf("core: slack.timestamp_max_skew must not be negative")
	}
	if c.Jobber.RateLimitCount < 0 {
		return fmt.Errorf("core: jobber.rate_limit_count must not be negative")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("core: queue.workers must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("core: queue.max_attempts must be positive")
	}
	if c.Queue.BackoffBase <= 0 || c.Queue.BackoffMax < c.Queue.BackoffBase {
		return fmt.Errorf("core: queue backoff bounds are invalid")
	}
	return nil
}
