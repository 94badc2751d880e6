package rate

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tdthanh-dev/spa-web-sub001/internal/cache"
)

func newTestLimiter(t *testing.T, scopes map[string][]Window) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(cache.New(client, time.Second), scopes, slog.Default()), srv
}

func TestAdmitWithinBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string][]Window{
		"lead": {{Name: "hourly", Length: time.Hour, Max: 3}},
	})
	ctx := context.Background()

	// maxPerHour=3: Allowed, Allowed, Allowed, Denied.
	for i := 0; i < 3; i++ {
		if err := limiter.Admit(ctx, "lead", "10.0.0.1"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	err := limiter.Admit(ctx, "lead", "10.0.0.1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 4: expected denial, got %v", err)
	}

	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %T", err)
	}
	if exceeded.Window != "hourly" {
		t.Fatalf("expected hourly window, got %s", exceeded.Window)
	}
	if exceeded.RetryAfter <= 0 || exceeded.RetryAfter > time.Hour {
		t.Fatalf("unexpected retry-after %v", exceeded.RetryAfter)
	}

	// A different identifier in the same period is independent.
	if err := limiter.Admit(ctx, "lead", "10.0.0.2"); err != nil {
		t.Fatalf("other identifier: %v", err)
	}
}

func TestAdmitWindowRollover(t *testing.T) {
	limiter, srv := newTestLimiter(t, map[string][]Window{
		"lead": {{Name: "hourly", Length: time.Hour, Max: 1}},
	})
	ctx := context.Background()

	if err := limiter.Admit(ctx, "lead", "ip"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := limiter.Admit(ctx, "lead", "ip"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second: expected denial, got %v", err)
	}

	srv.FastForward(2 * time.Hour)

	if err := limiter.Admit(ctx, "lead", "ip"); err != nil {
		t.Fatalf("after rollover: %v", err)
	}
}

func TestAdmitMultiWindow(t *testing.T) {
	limiter, srv := newTestLimiter(t, map[string][]Window{
		"lead": {
			{Name: "hourly", Length: time.Hour, Max: 1000},
			{Name: "daily", Length: 24 * time.Hour, Max: 1000},
		},
	})
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if err := limiter.Admit(ctx, "lead", "ip"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	// Request #1001 is over both windows; the hourly one denies first.
	err := limiter.Admit(ctx, "lead", "ip")
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) || exceeded.Window != "hourly" {
		t.Fatalf("request 1001: expected hourly denial, got %v", err)
	}

	// Next day both buckets have rolled over, so request #1 is admitted.
	srv.FastForward(25 * time.Hour)
	if err := limiter.Admit(ctx, "lead", "ip"); err != nil {
		t.Fatalf("next day: %v", err)
	}
}

func TestDailyWindowOutlivesHourly(t *testing.T) {
	limiter, srv := newTestLimiter(t, map[string][]Window{
		"lead": {
			{Name: "hourly", Length: time.Hour, Max: 10},
			{Name: "daily", Length: 24 * time.Hour, Max: 3},
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Admit(ctx, "lead", "ip"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	// The hourly bucket rolls over but the daily budget is spent.
	srv.FastForward(2 * time.Hour)

	err := limiter.Admit(ctx, "lead", "ip")
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) || exceeded.Window != "daily" {
		t.Fatalf("expected daily denial, got %v", err)
	}
	if exceeded.RetryAfter <= time.Hour {
		t.Fatalf("daily retry-after should exceed an hour, got %v", exceeded.RetryAfter)
	}
}

func TestGlobalBudgetScope(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string][]Window{
		"global": {{Name: "minute", Length: time.Minute, Max: 2}},
	})
	ctx := context.Background()

	if err := limiter.Admit(ctx, "global", "all"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := limiter.Admit(ctx, "global", "all"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if err := limiter.Admit(ctx, "global", "all"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third: expected denial, got %v", err)
	}
}

func TestUnknownScope(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string][]Window{})
	if err := limiter.Admit(context.Background(), "nope", "id"); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
}

func TestAdmitFailsOpenOnOutage(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := New(cache.New(client, 200*time.Millisecond), map[string][]Window{
		"lead": {{Name: "hourly", Length: time.Hour, Max: 1}},
	}, slog.Default())

	srv.Close()

	// Availability of the business function outweighs the narrow abuse
	// window of a transient cache outage.
	if err := limiter.Admit(context.Background(), "lead", "ip"); err != nil {
		t.Fatalf("expected fail-open, got %v", err)
	}
}
