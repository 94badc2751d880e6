package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tdthanh-dev/spa-web-sub001/internal/token"
)

const claimsLocalKey = "auth.claims"

// RequireAuth guards a route group. The full validity check (signature,
// expiry, revocation) runs on every request; the resulting claims travel
// as a request-scoped value, never as ambient state.
func RequireAuth(service *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return unauthorized(c)
		}

		claims, err := service.CheckToken(c.UserContext(), raw)
		if err != nil {
			return unauthorized(c)
		}

		c.Locals(claimsLocalKey, claims)
		return c.Next()
	}
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(c *fiber.Ctx) (*token.Claims, bool) {
	claims, ok := c.Locals(claimsLocalKey).(*token.Claims)
	return claims, ok
}
