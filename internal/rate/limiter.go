// Package rate enforces fixed-window request budgets over the expiring
// store. A scope names a protected surface (lead intake, the global
// budget); each scope carries one or more windows (hourly, daily) that must
// all pass before a request is admitted. Counters are advanced with a
// single atomic increment-and-anchor-TTL script, so concurrent requests for
// the same identifier can never both observe an empty window.
package rate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tdthanh-dev/spa-web-sub001/internal/cache"
)

// ErrRateLimited is the sentinel all denials match via errors.Is.
var ErrRateLimited = errors.New("rate: limit exceeded")

// ErrUnknownScope rejects admission checks against unconfigured scopes.
var ErrUnknownScope = errors.New("rate: unknown scope")

// Window is one time bucket inside a scope.
type Window struct {
	Name   string
	Length time.Duration
	Max    int64
}

// ExceededError reports which window denied and how long until it rolls
// over, so callers can surface an accurate retry-after per window.
type ExceededError struct {
	Scope      string
	Window     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate: %s/%s limit exceeded, retry after %s", e.Scope, e.Window, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold for every denial.
func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limiter evaluates scope windows against the store.
type Limiter struct {
	store  *cache.Store
	scopes map[string][]Window
	log    *slog.Logger
}

// New creates a Limiter with the given scope table.
func New(store *cache.Store, scopes map[string][]Window, log *slog.Logger) *Limiter {
	return &Limiter{store: store, scopes: scopes, log: log}
}

func windowKey(scope, identifier, window string) string {
	return "RATE:" + scope + ":" + identifier + ":" + window
}

// Admit increments every window counter for (scope, identifier) and denies
// with an ExceededError as soon as one window is over budget. A store
// outage fails open with a warning: rate limiting is an abuse budget, and
// denying all traffic on a cache blip would turn the limiter itself into
// an outage.
func (l *Limiter) Admit(ctx context.Context, scope, identifier string) error {
	windows, ok := l.scopes[scope]
	if !ok {
		return ErrUnknownScope
	}

	for _, w := range windows {
		count, remaining, err := l.store.IncrWindow(ctx, windowKey(scope, identifier, w.Name), w.Length)
		if err != nil {
			l.log.Warn("rate admission failed open", "scope", scope, "window", w.Name, "error", err)
			continue
		}
		if count > w.Max {
			return &ExceededError{Scope: scope, Window: w.Name, RetryAfter: remaining}
		}
	}
	return nil
}
