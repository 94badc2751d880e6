package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/tdthanh-dev/spa-web-sub001/internal/auth/dto"
	"github.com/tdthanh-dev/spa-web-sub001/internal/cache"
	"github.com/tdthanh-dev/spa-web-sub001/internal/metrics"
	"github.com/tdthanh-dev/spa-web-sub001/internal/otp"
	"github.com/tdthanh-dev/spa-web-sub001/internal/token"
)

// Handler exposes the auth protocol over HTTP.
type Handler struct {
	service *Service
	metrics *metrics.Metrics
}

// NewHandler creates the HTTP handler.
func NewHandler(service *Service, m *metrics.Metrics) *Handler {
	return &Handler{service: service, metrics: m}
}

func (h *Handler) RequestOTP(c *fiber.Ctx) error {
	var input dto.OtpRequestInput
	if err := c.BodyParser(&input); err != nil || input.Username == "" || input.Password == "" {
		return badRequest(c)
	}

	ticket, err := h.service.RequestOTP(c.UserContext(), input.Username, input.Password)
	if err != nil {
		h.metrics.OTPRequests.WithLabelValues("failure").Inc()
		return respondError(c, err)
	}

	h.metrics.OTPRequests.WithLabelValues("success").Inc()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ticket": ticket})
}

func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var input dto.OtpVerifyInput
	if err := c.BodyParser(&input); err != nil || input.Username == "" || input.OtpCode == "" {
		return badRequest(c)
	}

	payload, err := h.service.VerifyOTPAndLogin(c.UserContext(), input.Username, input.OtpCode)
	if err != nil {
		h.metrics.OTPVerifications.WithLabelValues("failure").Inc()
		return respondError(c, err)
	}

	h.metrics.OTPVerifications.WithLabelValues("success").Inc()
	return c.Status(fiber.StatusOK).JSON(payload)
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var input dto.LoginInput
	if err := c.BodyParser(&input); err != nil || input.Username == "" || input.Password == "" {
		return badRequest(c)
	}

	payload, err := h.service.Login(c.UserContext(), input.Username, input.Password)
	if err != nil {
		h.metrics.Logins.WithLabelValues("failure").Inc()
		return respondError(c, err)
	}

	h.metrics.Logins.WithLabelValues("success").Inc()
	return c.Status(fiber.StatusOK).JSON(payload)
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	var input dto.RefreshInput
	if err := c.BodyParser(&input); err != nil || input.RefreshToken == "" {
		return badRequest(c)
	}

	payload, err := h.service.Refresh(c.UserContext(), input.RefreshToken)
	if err != nil {
		h.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return respondError(c, err)
	}

	h.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	return c.Status(fiber.StatusOK).JSON(payload)
}

// Logout runs outside the auth middleware on purpose: revoking an
// already-revoked or otherwise half-dead token must still succeed from the
// client's point of view, so the handler verifies the bearer itself.
func (h *Handler) Logout(c *fiber.Ctx) error {
	raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return unauthorized(c)
	}

	var input dto.LogoutInput
	_ = c.BodyParser(&input) // body is optional

	if err := h.service.Logout(c.UserContext(), raw, input.RefreshToken); err != nil {
		return respondError(c, err)
	}

	h.metrics.Logouts.Inc()
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var input dto.ChangePasswordInput
	if err := c.BodyParser(&input); err != nil || input.CurrentPassword == "" || input.NewPassword == "" {
		return badRequest(c)
	}

	if err := h.service.ChangePassword(c.UserContext(), claims, input.CurrentPassword, input.NewPassword); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func badRequest(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
}

// respondError maps service failures onto HTTP statuses. Client-input
// failures collapse into generic 4xx messages so responses never reveal
// whether an identifier exists; only infrastructure faults become 5xx.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	case errors.Is(err, otp.ErrCooldown):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "code already sent, retry later"})
	case errors.Is(err, otp.ErrTooManyAttempts):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many attempts"})
	case errors.Is(err, otp.ErrNotFound), errors.Is(err, otp.ErrExpired), errors.Is(err, otp.ErrMismatch):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired code"})
	case errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrSignatureInvalid),
		errors.Is(err, token.ErrWrongType),
		errors.Is(err, token.ErrRevoked):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	case errors.Is(err, cache.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service temporarily unavailable"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	tok := value[len(bearer):]
	return tok, tok != ""
}
