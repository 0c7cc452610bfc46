package dhyana

import (
	"context"

	"github.com/trianglegrrl/dhyana/core"
)

// Root re-exports so embedders can configure and run the pipeline
// without importing the core package directly.

type Config = core.Config

type SlackConfig = core.SlackConfig

type JobberConfig = core.JobberConfig

type QueueConfig = core.QueueConfig

type NotifyConfig = core.NotifyConfig

type InboundRequest = core.InboundRequest

type InboundResult = core.InboundResult

type Platform = core.Platform

const (
	PlatformSlack  = core.PlatformSlack
	PlatformJobber = core.PlatformJobber
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Setup resolves config through the layered provider stack and builds
// the pipeline. Use NewPipeline directly when the config is already
// resolved.
func Setup(ctx context.Context, loader core.RawConfigLoader, opts ...PipelineOption) (*Pipeline, error) {
	provider := core.NewCfgxConfigProvider(loader)
	cfg, err := provider.Load(ctx, core.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return NewPipeline(cfg, opts...)
}
