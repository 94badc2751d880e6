// Package auth composes the OTP manager, token service, and revocation
// registry into the login, refresh, and logout protocol. It is the only
// surface the rest of the CRM talks to.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tdthanh-dev/spa-web-sub001/internal/otp"
	"github.com/tdthanh-dev/spa-web-sub001/internal/token"
)

// ErrInvalidCredentials covers unknown usernames and wrong passwords alike,
// so a caller can never tell which accounts exist.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// UserInfo is the claim-relevant slice of a CRM account.
type UserInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// CredentialStore is the CRM's user database, consumed as an interface.
// VerifyPassword must return ErrInvalidCredentials-compatible failures for
// both missing users and wrong passwords.
type CredentialStore interface {
	VerifyPassword(ctx context.Context, username, password string) (*UserInfo, error)
	Lookup(ctx context.Context, username string) (*UserInfo, error)
	UpdatePassword(ctx context.Context, userID, newPassword string) error
}

// TokenPayload is the response shape shared by every token-minting path.
type TokenPayload struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int64     `json:"expiresIn"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         *UserInfo `json:"userInfo"`
}

// Service is the auth orchestrator.
type Service struct {
	creds       CredentialStore
	otp         *otp.Manager
	tokens      *token.Service
	revocations *token.Registry
	log         *slog.Logger
}

// NewService wires the orchestrator.
func NewService(creds CredentialStore, otpManager *otp.Manager, tokens *token.Service, revocations *token.Registry, log *slog.Logger) *Service {
	return &Service{
		creds:       creds,
		otp:         otpManager,
		tokens:      tokens,
		revocations: revocations,
		log:         log,
	}
}

// Login is the direct password path; it bypasses the OTP gate.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPayload, error) {
	user, err := s.creds.VerifyPassword(ctx, username, password)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueFor(ctx, user)
}

// RequestOTP starts the OTP-gated login. The password is checked first:
// the one-time code is a second factor layered on valid credentials, never
// a replacement for them.
func (s *Service) RequestOTP(ctx context.Context, username, password string) (string, error) {
	if _, err := s.creds.VerifyPassword(ctx, username, password); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.otp.Request(ctx, username, otp.PurposeLogin)
}

// VerifyOTPAndLogin consumes the login challenge and mints the token pair.
func (s *Service) VerifyOTPAndLogin(ctx context.Context, username, code string) (*TokenPayload, error) {
	if err := s.otp.Verify(ctx, username, otp.PurposeLogin, code); err != nil {
		return nil, err
	}

	user, err := s.creds.Lookup(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueFor(ctx, user)
}

// Refresh rotates the pair. The old refresh token is consumed with a
// conditional write before the new pair is issued: exactly one of any
// number of concurrent rotations of the same token wins, and every other
// caller (the owner racing itself or a thief replaying a capture) gets
// ErrRevoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPayload, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	won, err := s.revocations.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, token.ErrRevoked
	}

	return s.issueFor(ctx, &UserInfo{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	})
}

// Logout revokes the presented access token immediately, and the paired
// refresh token when the client hands it over. An invalid refresh token is
// logged and ignored: the access revocation already succeeded and the
// client is logged out either way.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return err
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}

	if refreshToken != "" {
		refreshClaims, err := s.tokens.VerifyRefresh(refreshToken)
		if err != nil || refreshClaims.Subject != claims.Subject {
			s.log.Warn("logout: paired refresh token not revocable", "error", err)
			return nil
		}
		if err := s.revocations.Revoke(ctx, refreshClaims.ID, refreshClaims.ExpiresAt.Time); err != nil {
			return err
		}
	}
	return nil
}

// ChangePassword verifies the current password, updates it, then revokes
// every outstanding token for the subject through the issuance index,
// including the pair used to make this call.
func (s *Service) ChangePassword(ctx context.Context, claims *token.Claims, currentPassword, newPassword string) error {
	if _, err := s.creds.VerifyPassword(ctx, claims.Username, currentPassword); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.creds.UpdatePassword(ctx, claims.Subject, newPassword); err != nil {
		return err
	}
	return s.revocations.RevokeAllForSubject(ctx, claims.Subject, s.tokens.RefreshTTL())
}

// CheckToken is the full token-validity check (signature, expiry, type,
// revocation) as one function, reusable outside the HTTP layer.
func (s *Service) CheckToken(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}
	if s.revocations.IsRevoked(ctx, claims.ID) {
		return nil, token.ErrRevoked
	}
	return claims, nil
}

func (s *Service) issueFor(ctx context.Context, user *UserInfo) (*TokenPayload, error) {
	pair, err := s.tokens.Issue(user.UserID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}

	// The subject index is what makes revoke-all reachable later; losing
	// the write silently would leave untouchable live tokens.
	if err := s.revocations.TrackIssued(ctx, user.UserID, s.tokens.RefreshTTL(), pair.AccessTokenID, pair.RefreshTokenID); err != nil {
		return nil, err
	}

	return &TokenPayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL() / time.Second),
		ExpiresAt:    pair.AccessExpiresAt,
		User:         user,
	}, nil
}
