// Package token issues and verifies the JWT access/refresh pair and keeps
// the server-side revocation registry. Signing and verification are pure
// functions of the input, the clock, and the secret; only the registry
// touches the cache.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeAccess and TypeRefresh are the values of the "typ" claim.
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrMalformed        = errors.New("token: malformed")
	ErrSignatureInvalid = errors.New("token: signature invalid")
	ErrExpired          = errors.New("token: expired")
	ErrWrongType        = errors.New("token: wrong token type")
	ErrRevoked          = errors.New("token: revoked")
)

// Claims is the signed claim set carried by both token kinds. Subject is
// the user ID; ID (jti) is the handle the revocation registry keys on.
type Claims struct {
	Username  string `json:"un,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Pair is one issuance: both tokens, their IDs, and their expiries.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessTokenID    string
	RefreshTokenID   string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Config tunes the service. Secret must be at least 32 bytes; TTLs must be
// positive with AccessTTL < RefreshTTL. Leeway bounds tolerated clock skew.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// Service signs and verifies token pairs. It holds no store handle and is
// trivially unit-testable; revocation is the caller's responsibility.
type Service struct {
	config Config
	now    func() time.Time
}

// NewService validates the config and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token: secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: invalid TTL configuration")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, errors.New("token: access TTL must be shorter than refresh TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway configuration")
	}
	return &Service{config: cfg, now: time.Now}, nil
}

// Issue mints a signed access/refresh pair for the subject. Each token
// carries its own jti so either can later be revoked independently.
func (s *Service) Issue(userID, username, role string) (*Pair, error) {
	now := s.now()
	pair := &Pair{
		AccessTokenID:    uuid.NewString(),
		RefreshTokenID:   uuid.NewString(),
		AccessExpiresAt:  now.Add(s.config.AccessTTL),
		RefreshExpiresAt: now.Add(s.config.RefreshTTL),
	}

	access, err := s.sign(Claims{
		Username:  username,
		Role:      role,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        pair.AccessTokenID,
			Subject:   userID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(pair.AccessExpiresAt),
		},
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.sign(Claims{
		Username:  username,
		Role:      role,
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        pair.RefreshTokenID,
			Subject:   userID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(pair.RefreshExpiresAt),
		},
	})
	if err != nil {
		return nil, err
	}

	pair.AccessToken = access
	pair.RefreshToken = refresh
	return pair, nil
}

func (s *Service) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
}

// Verify checks signature and expiry locally and returns the claims. It
// does not consult the revocation registry.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.config.Leeway))
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.config.Secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// VerifyAccess verifies tokenStr and requires the access type.
func (s *Service) VerifyAccess(tokenStr string) (*Claims, error) {
	return s.verifyTyped(tokenStr, TypeAccess)
}

// VerifyRefresh verifies tokenStr and requires the refresh type, so an
// access token can never be replayed against the refresh endpoint.
func (s *Service) VerifyRefresh(tokenStr string) (*Claims, error) {
	return s.verifyTyped(tokenStr, TypeRefresh)
}

func (s *Service) verifyTyped(tokenStr, wantType string) (*Claims, error) {
	claims, err := s.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongType
	}
	return claims, nil
}

// AccessTTL exposes the configured access lifetime for response payloads.
func (s *Service) AccessTTL() time.Duration {
	return s.config.AccessTTL
}

// RefreshTTL exposes the configured refresh lifetime; the revocation
// registry uses it as the upper bound when blacklisting by subject.
func (s *Service) RefreshTTL() time.Duration {
	return s.config.RefreshTTL
}
