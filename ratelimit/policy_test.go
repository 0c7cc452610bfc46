package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

func jobberKey() core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: "jobber",
		ScopeType:  "account",
		ScopeID:    "acct-1",
		BucketKey:  "graphql",
	}
}

func TestAdaptivePolicy_ThrottlesAfter429(t *testing.T) {
	store := NewMemoryStateStore()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	policy := NewAdaptivePolicy(store)
	policy.Now = func() time.Time { return now }

	key := jobberKey()
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("fresh key should not be throttled: %v", err)
	}

	err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{
		StatusCode: 429,
		Headers:    map[string]string{"Retry-After": "30"},
	})
	if err != nil {
		t.Fatalf("record 429: %v", err)
	}

	err = policy.BeforeCall(context.Background(), key)
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected throttled error, got: %v", err)
	}
	if throttled.RetryAfter != 30*time.Second {
		t.Fatalf("expected 30s retry hint, got %s", throttled.RetryAfter)
	}

	now = now.Add(31 * time.Second)
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("expected throttle lifted after retry window: %v", err)
	}
}

func TestAdaptivePolicy_ClearsOnSuccess(t *testing.T) {
	store := NewMemoryStateStore()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	policy := NewAdaptivePolicy(store)
	policy.Now = func() time.Time { return now }

	key := jobberKey()
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{StatusCode: 429}); err != nil {
		t.Fatalf("record 429: %v", err)
	}
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{StatusCode: 200}); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("expected success to clear throttle: %v", err)
	}
}

func TestThrottledError_ToPipelineError(t *testing.T) {
	mapped := ThrottledError{ProviderID: "jobber", BucketKey: "graphql", RetryAfter: time.Second}.ToPipelineError()
	if mapped.Code != 429 {
		t.Fatalf("expected 429, got %d", mapped.Code)
	}
	if mapped.TextCode != core.PipelineErrorRateLimited {
		t.Fatalf("expected rate limited text code, got %q", mapped.TextCode)
	}
}

func TestFixedWindowLimiter_EnforcesBudget(t *testing.T) {
	store := NewMemoryStateStore()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	limiter := NewFixedWindowLimiter(store, 3, time.Minute)
	limiter.Now = func() time.Time { return now }

	key := jobberKey()
	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(context.Background(), key); err != nil {
			t.Fatalf("acquire %d should pass: %v", i+1, err)
		}
	}

	err := limiter.Acquire(context.Background(), key)
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected throttled error once budget is spent, got: %v", err)
	}
	if throttled.RetryAfter <= 0 || throttled.RetryAfter > time.Minute {
		t.Fatalf("expected retry hint within the window, got %s", throttled.RetryAfter)
	}

	now = now.Add(61 * time.Second)
	if err := limiter.Acquire(context.Background(), key); err != nil {
		t.Fatalf("expected fresh window to admit calls: %v", err)
	}
}

func TestFixedWindowLimiter_TracksRemaining(t *testing.T) {
	store := NewMemoryStateStore()
	limiter := NewFixedWindowLimiter(store, 10, time.Minute)

	key := jobberKey()
	if err := limiter.Acquire(context.Background(), key); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.Remaining != 9 {
		t.Fatalf("expected 9 remaining, got %d", state.Remaining)
	}
}

func TestFixedWindowLimiter_ResetsAtWindowBoundary(t *testing.T) {
	store := NewMemoryStateStore()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	limiter := NewFixedWindowLimiter(store, 2, time.Minute)
	limiter.Now = func() time.Time { return now }

	key := jobberKey()
	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(context.Background(), key); err != nil {
			t.Fatalf("acquire %d should pass: %v", i+1, err)
		}
	}

	// One tick short of the boundary the budget is still spent.
	now = now.Add(59 * time.Second)
	var throttled ThrottledError
	if err := limiter.Acquire(context.Background(), key); !errors.As(err, &throttled) {
		t.Fatalf("expected throttle inside the window, got: %v", err)
	}
	if throttled.RetryAfter != time.Second {
		t.Fatalf("expected retry hint to reach the boundary, got %s", throttled.RetryAfter)
	}

	// At the boundary the counter resets whole, not gradually: the
	// full budget is available again at once.
	now = now.Add(time.Second)
	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(context.Background(), key); err != nil {
			t.Fatalf("acquire %d after reset should pass: %v", i+1, err)
		}
	}
}
