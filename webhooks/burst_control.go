package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
)

type BurstDecision struct {
	Allow    bool
	Metadata map[string]any
}

// BurstController smooths platform retry storms: when the sender
// retransmits the same logical event in a tight window the duplicates
// are acked without another handler run.
type BurstController interface {
	Allow(ctx context.Context, req core.InboundRequest) (BurstDecision, error)
}

type BurstKeyExtractor func(req core.InboundRequest) (string, bool)

// DefaultBurstKeyExtractor keys on platform plus the retry marker Slack
// sends on redelivery. Requests without a retry marker are never
// coalesced.
func DefaultBurstKeyExtractor(req core.InboundRequest) (string, bool) {
	retryNum := headerValue(req.Headers, "X-Slack-Retry-Num")
	if retryNum == "" {
		return "", false
	}
	return string(req.Platform) + ":" + BodyDigest(req.Body), true
}

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	ExtractKey BurstKeyExtractor
	Now        func() time.Time
}

type CoalescingBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	extractKey BurstKeyExtractor
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewBurstController(opts BurstOptions) *CoalescingBurstController {
	mode := opts.Mode
	if mode != BurstModeCoalesce {
		mode = BurstModeNone
	}
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	extractKey := opts.ExtractKey
	if extractKey == nil {
		extractKey = DefaultBurstKeyExtractor
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CoalescingBurstController{
		mode:       mode,
		window:     window,
		maxEntries: maxEntries,
		extractKey: extractKey,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

func (c *CoalescingBurstController) Allow(_ context.Context, req core.InboundRequest) (BurstDecision, error) {
	if c == nil || c.mode == BurstModeNone {
		return BurstDecision{Allow: true}, nil
	}
	key, ok := c.extractKey(req)
	if !ok {
		return BurstDecision{Allow: true}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	lastSeen, exists := c.entries[key]
	c.entries[key] = now
	c.cleanup(now)
	if !exists || now.Sub(lastSeen) >= c.window {
		return BurstDecision{Allow: true}, nil
	}

	return BurstDecision{
		Allow: false,
		Metadata: map[string]any{
			"coalesced":       true,
			"burst_key":       key,
			"burst_window_ms": c.window.Milliseconds(),
		},
	}, nil
}

func (c *CoalescingBurstController) cleanup(now time.Time) {
	if len(c.entries) <= c.maxEntries {
		return
	}
	for key, seen := range c.entries {
		if now.Sub(seen) >= c.window {
			delete(c.entries, key)
		}
		if len(c.entries) <= c.maxEntries {
			return
		}
	}
}
