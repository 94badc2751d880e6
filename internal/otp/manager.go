// Package otp implements the one-time-passcode challenge lifecycle. A
// challenge is stored in the cache under OTP:<PURPOSE>:<identifier> as a
// JSON blob carrying only the SHA-256 digest of the code; the failed-attempt
// counter lives separately under OTP_ATTEMPT:<PURPOSE>:<identifier> so it
// can be advanced with an atomic increment instead of read-modify-write,
// and the resend gate under OTP_COOLDOWN:<PURPOSE>:<identifier> so it can
// be claimed with a conditional write.
package otp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tdthanh-dev/spa-web-sub001/internal/cache"
)

// Purpose scopes a challenge: a code requested for LOGIN cannot be consumed
// for RESET_PASSWORD.
type Purpose string

const (
	PurposeLogin         Purpose = "LOGIN"
	PurposeResetPassword Purpose = "RESET_PASSWORD"
	PurposeVerifyAccount Purpose = "VERIFY_ACCOUNT"
	PurposeChangePhone   Purpose = "CHANGE_PHONE"
	PurposeChangeEmail   Purpose = "CHANGE_EMAIL"
)

var (
	// ErrCooldown means a live challenge was created too recently to re-send.
	ErrCooldown = errors.New("otp: request cooldown active")
	// ErrNotFound covers both never-requested and already-consumed challenges.
	ErrNotFound = errors.New("otp: challenge not found")
	// ErrExpired means the challenge outlived its TTL.
	ErrExpired = errors.New("otp: challenge expired")
	// ErrMismatch means the submitted code did not match.
	ErrMismatch = errors.New("otp: code mismatch")
	// ErrTooManyAttempts means the attempt cap was reached and the challenge
	// has been invalidated.
	ErrTooManyAttempts = errors.New("otp: too many attempts")
	// ErrInvalidPurpose rejects unknown purpose values.
	ErrInvalidPurpose = errors.New("otp: invalid purpose")
)

// Sender delivers a code out-of-band (SMS, email). Delivery is
// fire-and-forget: failures are logged and never fail the request, so an
// undelivered code still consumes the cooldown window.
type Sender interface {
	Send(ctx context.Context, identifier, code string, purpose Purpose) error
}

// Config tunes the challenge lifecycle.
type Config struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	CodeDigits     int
}

// Manager generates, stores, and verifies one-time codes.
type Manager struct {
	store  *cache.Store
	sender Sender
	config Config
	log    *slog.Logger
	now    func() time.Time
}

type challengeRecord struct {
	Ticket    string `json:"ticket"`
	CodeHash  string `json:"codeHash"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// New creates a Manager. Zero config fields fall back to 5m TTL, 60s
// cooldown, 5 attempts, 6 digits.
func New(store *cache.Store, sender Sender, cfg Config, log *slog.Logger) *Manager {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.CodeDigits <= 0 {
		cfg.CodeDigits = 6
	}
	return &Manager{
		store:  store,
		sender: sender,
		config: cfg,
		log:    log,
		now:    time.Now,
	}
}

func validPurpose(p Purpose) bool {
	switch p {
	case PurposeLogin, PurposeResetPassword, PurposeVerifyAccount, PurposeChangePhone, PurposeChangeEmail:
		return true
	}
	return false
}

func challengeKey(purpose Purpose, identifier string) string {
	return "OTP:" + string(purpose) + ":" + identifier
}

func attemptKey(purpose Purpose, identifier string) string {
	return "OTP_ATTEMPT:" + string(purpose) + ":" + identifier
}

func cooldownKey(purpose Purpose, identifier string) string {
	return "OTP_COOLDOWN:" + string(purpose) + ":" + identifier
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Request creates (or overwrites) the challenge for (identifier, purpose)
// and hands the code to the delivery channel. The cooldown gate is a
// conditional write on a self-expiring OTP_COOLDOWN key: one of any number
// of concurrent requests claims it, the rest fail with ErrCooldown, and
// re-sending unlocks when the key expires. Store write failures surface to
// the caller: a code that was sent but never stored could never be
// verified, so reporting success would be a lie.
func (m *Manager) Request(ctx context.Context, identifier string, purpose Purpose) (string, error) {
	if !validPurpose(purpose) {
		return "", ErrInvalidPurpose
	}

	claimed, err := m.store.SetNX(ctx, cooldownKey(purpose, identifier), "1", m.config.ResendCooldown)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", ErrCooldown
	}

	key := challengeKey(purpose, identifier)

	code, err := NewCode(m.config.CodeDigits)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}

	now := m.now()
	record := challengeRecord{
		Ticket:    uuid.NewString(),
		CodeHash:  hashCode(code),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(m.config.CodeTTL).Unix(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	if err := m.store.Set(ctx, key, string(encoded), m.config.CodeTTL); err != nil {
		return "", err
	}
	// A fresh challenge starts from a clean attempt counter.
	if err := m.store.Delete(ctx, attemptKey(purpose, identifier)); err != nil {
		m.log.Warn("otp attempt counter reset failed", "purpose", purpose, "error", err)
	}

	if err := m.sender.Send(ctx, identifier, code, purpose); err != nil {
		m.log.Warn("otp delivery failed", "purpose", purpose, "error", err)
	}

	return record.Ticket, nil
}

// Verify consumes the challenge for (identifier, purpose). The code digest
// comparison is constant-time. A correct code deletes the challenge
// (single-use); the attempt that reaches MaxAttempts deletes it as well,
// so a later correct code fails with ErrNotFound even inside the TTL.
func (m *Manager) Verify(ctx context.Context, identifier string, purpose Purpose, code string) error {
	if !validPurpose(purpose) {
		return ErrInvalidPurpose
	}

	key := challengeKey(purpose, identifier)
	attKey := attemptKey(purpose, identifier)

	raw, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	var record challengeRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		// Corrupt blob: discard rather than leave a challenge nobody can use.
		_ = m.store.Delete(ctx, key, attKey)
		return ErrNotFound
	}

	if m.now().Unix() > record.ExpiresAt {
		_ = m.store.Delete(ctx, key, attKey)
		return ErrExpired
	}

	provided := hashCode(code)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(record.CodeHash)) != 1 {
		attempts, err := m.store.Incr(ctx, attKey)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// Counter expires alongside the challenge.
			if err := m.store.Expire(ctx, attKey, m.config.CodeTTL); err != nil {
				m.log.Warn("otp attempt counter ttl not set", "purpose", purpose, "error", err)
			}
		}
		if attempts >= int64(m.config.MaxAttempts) {
			if err := m.store.Delete(ctx, key, attKey); err != nil {
				return err
			}
			return ErrTooManyAttempts
		}
		return ErrMismatch
	}

	if err := m.store.Delete(ctx, key, attKey); err != nil {
		return err
	}
	return nil
}
