package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

const (
	windowMetaStart = "_window_start"
	windowMetaCount = "_window_count"
)

// FixedWindowLimiter enforces a local call budget per key over fixed
// windows: the counter resets at each window boundary, so back-to-back
// bursts across a boundary can briefly exceed the nominal rate. Used
// ahead of AdaptivePolicy for platforms that publish a hard quota
// instead of per-response limit headers.
type FixedWindowLimiter struct {
	Store  StateStore
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

func NewFixedWindowLimiter(store StateStore, limit int, window time.Duration) *FixedWindowLimiter {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &FixedWindowLimiter{
		Store:  store,
		Limit:  limit,
		Window: window,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Acquire consumes one slot. When the budget is spent it returns a
// ThrottledError whose RetryAfter reaches the end of the window.
func (l *FixedWindowLimiter) Acquire(ctx context.Context, key core.RateLimitKey) error {
	if l == nil || l.Store == nil || l.Limit <= 0 {
		return nil
	}
	key = normalizeKey(key)
	now := l.now()

	state, err := l.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	windowStart, count := readWindow(state)
	if windowStart.IsZero() || now.Sub(windowStart) >= l.Window {
		windowStart = now
		count = 0
	}

	if count >= l.Limit {
		retryAfter := windowStart.Add(l.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return ThrottledError{
			ProviderID: key.ProviderID,
			BucketKey:  key.BucketKey,
			RetryAfter: retryAfter,
		}
	}

	count++
	state.Limit = l.Limit
	state.Remaining = l.Limit - count
	state.UpdatedAt = now
	state.Metadata = cloneMap(state.Metadata)
	state.Metadata[windowMetaStart] = windowStart.Format(time.RFC3339Nano)
	state.Metadata[windowMetaCount] = count
	return l.Store.Upsert(ctx, state)
}

func (l *FixedWindowLimiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func readWindow(state State) (time.Time, int) {
	if len(state.Metadata) == 0 {
		return time.Time{}, 0
	}
	var start time.Time
	if raw, ok := state.Metadata[windowMetaStart].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			start = parsed.UTC()
		}
	}
	count := 0
	switch value := state.Metadata[windowMetaCount].(type) {
	case int:
		count = value
	case int64:
		count = int(value)
	case float64:
		count = int(value)
	}
	return start, count
}
