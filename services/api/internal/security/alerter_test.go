package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newAlerter(t *testing.T) *AuditAlerter {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAuditAlerter(client, "test:alerts")
}

func TestObserveTriggersAtThreshold(t *testing.T) {
	alerter := newAlerter(t)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		result, err := alerter.Observe(ctx, EventTokenAuth, OutcomeFail, "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if result.Triggered != (i == 10) {
			t.Fatalf("attempt %d triggered=%v count=%d", i, result.Triggered, result.Count)
		}
	}
	result, err := alerter.Observe(ctx, EventTokenAuth, OutcomeFail, "10.0.0.9")
	if err != nil || result.Count != 1 {
		t.Fatalf("other ip should have its own counter: %+v err=%v", result, err)
	}
}

func TestObserveIgnoresUnknownRule(t *testing.T) {
	alerter := newAlerter(t)
	result, err := alerter.Observe(context.Background(), "token.custom", "success", "127.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 0 {
		t.Fatalf("unexpected result for unknown rule: %+v", result)
	}
}

func TestNilAlerterObservesNothing(t *testing.T) {
	alerter := NewAuditAlerter(nil, "")
	result, err := alerter.Observe(context.Background(), EventTokenAuth, OutcomeFail, "127.0.0.1")
	if err != nil || result.Triggered {
		t.Fatalf("nil alerter = %+v err=%v", result, err)
	}
}

func TestObserveStartsNewCountEachWindow(t *testing.T) {
	alerter := newAlerter(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	alerter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := alerter.Observe(ctx, EventRefreshToken, OutcomeFail, "10.0.0.1"); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	now = now.Add(5 * time.Minute)
	result, err := alerter.Observe(ctx, EventRefreshToken, OutcomeFail, "10.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Count != 1 || result.Threshold != 15 || result.Window != 5*time.Minute {
		t.Fatalf("next window = %+v", result)
	}
}

func TestRateLimitedOutcomeSharesOneRule(t *testing.T) {
	tests := []struct {
		event   string
		outcome string
		want    bool
	}{
		{EventTokenAuth, OutcomeRateLimited, true},
		{"anything", OutcomeRateLimited, true},
		{EventCreateUser, OutcomeFail, true},
		{"anything", OutcomeFail, false},
		{EventTokenAuth, "ok", false},
	}
	for _, tt := range tests {
		if _, ok := ruleFor(tt.event, tt.outcome); ok != tt.want {
			t.Fatalf("ruleFor(%q, %q) = %v, want %v", tt.event, tt.outcome, ok, tt.want)
		}
	}
}

func TestKeySanitizesSegments(t *testing.T) {
	alerter := newAlerter(t)
	alerter.now = func() time.Time { return time.UnixMilli(120_000) }
	got := alerter.key(EventTokenAuth, OutcomeFail, "::1", time.Minute)
	if want := "test:alerts:token.auth:fail:__1:2"; got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
	if got := alerter.key(EventTokenAuth, OutcomeFail, " ", time.Minute); got != "test:alerts:token.auth:fail:unknown:2" {
		t.Fatalf("blank ip key = %q", got)
	}
}
