package token

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tdthanh-dev/spa-web-sub001/internal/cache"
)

// Registry is the server-side revocation record. A revoked token leaves a
// BLACKLIST:<jti> entry whose TTL equals the token's remaining lifetime, so
// the entry self-expires exactly when the token would have died anyway and
// blacklist growth stays bounded. A TOKENS:<subject> set tracks every live
// jti per subject so change-password can reach tokens the server no longer
// holds.
type Registry struct {
	store *cache.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewRegistry creates a Registry over the expiring store.
func NewRegistry(store *cache.Store, log *slog.Logger) *Registry {
	return &Registry{store: store, log: log, now: time.Now}
}

func blacklistKey(tokenID string) string {
	return "BLACKLIST:" + tokenID
}

func subjectKey(subject string) string {
	return "TOKENS:" + subject
}

// Revoke blacklists tokenID until expiresAt. An already-expired token is a
// no-op. Write failures surface: a logout that silently failed to record
// the revocation must not report success.
func (r *Registry) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	remaining := expiresAt.Sub(r.now())
	if remaining <= 0 {
		return nil
	}
	return r.store.Set(ctx, blacklistKey(tokenID), "1", remaining)
}

// Consume atomically claims tokenID: the blacklist entry is written only
// when absent, so among concurrent callers exactly one sees true. Refresh
// rotation runs on this; a plain read-then-revoke would let every racer
// pass the read before the first write lands. An already-expired token has
// nothing left to claim and reports false. Write failures surface.
func (r *Registry) Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	remaining := expiresAt.Sub(r.now())
	if remaining <= 0 {
		return false, nil
	}
	return r.store.SetNX(ctx, blacklistKey(tokenID), "1", remaining)
}

// IsRevoked reports whether tokenID is blacklisted. A store outage fails
// open with a warning: treating every bearer as revoked on a cache blip
// would lock out the whole authenticated user base, which costs more than
// the narrow abuse window a transient outage opens.
func (r *Registry) IsRevoked(ctx context.Context, tokenID string) bool {
	_, err := r.store.Get(ctx, blacklistKey(tokenID))
	switch {
	case err == nil:
		return true
	case errors.Is(err, cache.ErrNotFound):
		return false
	default:
		r.log.Warn("revocation check failed open", "error", err)
		return false
	}
}

// TrackIssued records freshly issued token IDs under the subject index.
// The index TTL is pushed out to the new refresh lifetime on every
// issuance, matching the longest-lived token it references.
func (r *Registry) TrackIssued(ctx context.Context, subject string, ttl time.Duration, tokenIDs ...string) error {
	key := subjectKey(subject)
	if err := r.store.SAdd(ctx, key, tokenIDs...); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, ttl)
}

// RevokeAllForSubject blacklists every tracked token for the subject and
// drops the index. The registry does not know each token's exact remaining
// lifetime, so entries use ttl (the refresh lifetime) as a safe upper bound.
func (r *Registry) RevokeAllForSubject(ctx context.Context, subject string, ttl time.Duration) error {
	key := subjectKey(subject)

	tokenIDs, err := r.store.SMembers(ctx, key)
	if err != nil {
		return err
	}
	for _, id := range tokenIDs {
		if err := r.store.Set(ctx, blacklistKey(id), "1", ttl); err != nil {
			return err
		}
	}
	return r.store.Delete(ctx, key)
}
