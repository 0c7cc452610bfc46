// Package notify forwards committed entity changes to the messaging
// platform. Dispatch is idempotent: every send is claimed in a ledger
// keyed by the change identity, so replayed sync tasks never produce
// duplicate messages.
package notify

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/providers/slack"
)

const (
	DispatchStatusPending  = "pending"
	DispatchStatusSent     = "sent"
	DispatchStatusReleased = "released"
)

type DispatchRecord struct {
	ID        string
	Key       string
	Status    string
	MessageTS string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DispatchLedger is the dedupe gate for outbound messages. Claim with
// claimed=false means this change was already sent and the forwarder
// must not post again. Pending claims stay claimable: the queue
// serializes work per record key, so there is no concurrent sender to
// race against, and a crash between send and Complete re-sends on the
// next attempt rather than dropping the announcement.
type DispatchLedger interface {
	Claim(ctx context.Context, key string) (DispatchRecord, bool, error)
	Complete(ctx context.Context, id string, messageTS string) error
	Release(ctx context.Context, id string, reason string) error
}

// MessageSender posts one message and returns the platform timestamp id.
type MessageSender interface {
	PostMessage(ctx context.Context, msg slack.ChatMessage) (string, error)
}

type ForwardOutcome string

const (
	ForwardDelivered ForwardOutcome = "delivered"
	ForwardDuplicate ForwardOutcome = "duplicate"
	ForwardSkipped   ForwardOutcome = "skipped"
	ForwardDeferred  ForwardOutcome = "deferred"
	ForwardAbandoned ForwardOutcome = "abandoned"
)

// DispatchKey identifies one announcement: the same transition for the
// same record always maps to the same key.
func DispatchKey(change core.EntityChange) string {
	return string(change.Kind) + ":" + change.ExternalID + ":" + change.Transition
}

type Forwarder struct {
	sender      MessageSender
	ledger      DispatchLedger
	channel     string
	transitions map[string]bool
	logger      core.Logger
	metrics     core.MetricsRecorder
}

type ForwarderOption func(*Forwarder)

func WithForwarderLogger(logger core.Logger) ForwarderOption {
	return func(f *Forwarder) { f.logger = logger }
}

func WithForwarderMetrics(metrics core.MetricsRecorder) ForwarderOption {
	return func(f *Forwarder) { f.metrics = metrics }
}

func NewForwarder(sender MessageSender, ledger DispatchLedger, cfg core.NotifyConfig, options ...ForwarderOption) (*Forwarder, error) {
	if sender == nil {
		return nil, goerrors.New("notify: message sender is required", goerrors.CategoryValidation).
			WithTextCode(core.PipelineErrorBadInput)
	}
	if ledger == nil {
		return nil, goerrors.New("notify: dispatch ledger is required", goerrors.CategoryValidation).
			WithTextCode(core.PipelineErrorBadInput)
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, goerrors.New("notify: channel is required", goerrors.CategoryValidation).
			WithTextCode(core.PipelineErrorBadInput)
	}

	transitions := make(map[string]bool, len(cfg.Transitions))
	for _, transition := range cfg.Transitions {
		transition = strings.TrimSpace(transition)
		if transition != "" {
			transitions[transition] = true
		}
	}

	return &Forwarder{
		sender:      sender,
		ledger:      ledger,
		channel:     channel,
		transitions: transitions,
	}, nil
}

// Notify implements core.ChangeNotifier. Errors from Forward propagate
// so the owning task retries; everything else acks.
func (f *Forwarder) Notify(ctx context.Context, change core.EntityChange) error {
	_, err := f.Forward(ctx, change)
	return err
}

// Forward sends the Block Kit announcement for one committed change.
// Unconfigured transitions are skipped, duplicate keys are no-ops, and
// send failures release the claim so the next attempt can retry.
func (f *Forwarder) Forward(ctx context.Context, change core.EntityChange) (ForwardOutcome, error) {
	if change.Transition == "" || !f.transitions[change.Transition] {
		f.count(ctx, "notify.skipped", map[string]string{"transition": change.Transition})
		return ForwardSkipped, nil
	}

	key := DispatchKey(change)
	record, claimed, err := f.ledger.Claim(ctx, key)
	if err != nil {
		return ForwardDeferred, goerrors.Wrap(err, goerrors.CategoryExternal, "notify: dispatch claim failed").
			WithTextCode(core.PipelineErrorInternal).
			WithMetadata(map[string]any{"dispatch_key": key})
	}
	if !claimed {
		core.LogInfo(ctx, f.logger, "notification already dispatched", map[string]any{
			"dispatch_key": key,
			"message_ts":   record.MessageTS,
		})
		f.count(ctx, "notify.duplicate", map[string]string{"transition": change.Transition})
		return ForwardDuplicate, nil
	}

	messageTS, sendErr := f.sender.PostMessage(ctx, BuildMessage(f.channel, change))
	if sendErr != nil {
		if releaseErr := f.ledger.Release(ctx, record.ID, sendErr.Error()); releaseErr != nil {
			core.LogError(ctx, f.logger, "dispatch release failed", map[string]any{
				"dispatch_key": key,
				"error":        releaseErr.Error(),
			})
		}
		if core.IsPermanent(sendErr) {
			core.LogError(ctx, f.logger, "notification rejected by platform", map[string]any{
				"dispatch_key": key,
				"channel":      f.channel,
				"error":        sendErr.Error(),
			})
			f.count(ctx, "notify.abandoned", map[string]string{"transition": change.Transition})
			return ForwardAbandoned, sendErr
		}
		core.LogInfo(ctx, f.logger, "notification deferred", map[string]any{
			"dispatch_key": key,
			"error":        sendErr.Error(),
		})
		f.count(ctx, "notify.deferred", map[string]string{"transition": change.Transition})
		return ForwardDeferred, sendErr
	}

	if err := f.ledger.Complete(ctx, record.ID, messageTS); err != nil {
		return ForwardDeferred, goerrors.Wrap(err, goerrors.CategoryExternal, "notify: dispatch complete failed").
			WithTextCode(core.PipelineErrorInternal).
			WithMetadata(map[string]any{"dispatch_key": key})
	}

	core.LogInfo(ctx, f.logger, "notification delivered", map[string]any{
		"dispatch_key": key,
		"channel":      f.channel,
		"message_ts":   messageTS,
	})
	f.count(ctx, "notify.delivered", map[string]string{"transition": change.Transition})
	return ForwardDelivered, nil
}

func (f *Forwarder) count(ctx context.Context, name string, tags map[string]string) {
	if f.metrics != nil {
		f.metrics.IncCounter(ctx, name, 1, tags)
	}
}

var _ core.ChangeNotifier = (*Forwarder)(nil)
