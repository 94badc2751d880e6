package auth

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the auth endpoints. Logout verifies its own bearer
// (see Handler.Logout); change-password sits behind the auth guard.
func RegisterRoutes(app *fiber.App, h *Handler, service *Service) {
	group := app.Group("/api/v1/auth")

	group.Post("/otp/request", h.RequestOTP)
	group.Post("/otp/verify", h.VerifyOTP)
	group.Post("/login", h.Login)
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", h.Logout)

	group.Post("/change-password", RequireAuth(service), h.ChangePassword)
}
