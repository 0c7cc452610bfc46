// Package gologger resolves the pipeline's glog loggers and bridges
// them onto the go-job contracts so queue maintenance jobs log through
// the same provider as the webhook path.
package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// rootChannel names the pipeline's top-level logging channel; stage
// loggers hang off it as "pipeline.<stage>".
const rootChannel = "pipeline"

// Resolve picks the pipeline's root logger with provider > logger > nop
// precedence. A blank service name falls back to the root channel.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if strings.TrimSpace(name) == "" {
		name = rootChannel
	}
	return glog.Resolve(name, provider, logger)
}

// Stage derives the named child logger for one pipeline stage
// (webhooks, queue, sync, notify, commands) when a provider is
// configured. Without a provider every stage shares the fallback.
func Stage(provider glog.LoggerProvider, fallback glog.Logger, stage string) glog.Logger {
	stage = strings.TrimSpace(stage)
	if provider == nil || stage == "" {
		return fallback
	}
	if staged := provider.GetLogger(rootChannel + "." + stage); staged != nil {
		return staged
	}
	return fallback
}

// ToJobProvider exposes a glog provider to go-job workers.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger exposes a glog logger to go-job workers.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the pipeline loggers and returns the go-job
// equivalents in one call, for wiring maintenance job workers.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
