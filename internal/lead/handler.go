// Package lead exposes the public, unauthenticated lead-intake endpoint.
// It owns no business logic: admission runs through the rate limiter
// (global budget first, then per-IP windows) and accepted submissions are
// handed to a Recorder collaborator from the CRM.
package lead

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tdthanh-dev/spa-web-sub001/internal/metrics"
	"github.com/tdthanh-dev/spa-web-sub001/internal/rate"
)

const (
	// ScopeLead and ScopeGlobal are the rate-limiter scope names the
	// intake endpoint consults.
	ScopeLead   = "lead"
	ScopeGlobal = "global"

	globalIdentifier = "all"
)

// Submission is the raw intake payload forwarded to the CRM.
type Submission struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Note     string `json:"note"`
	SourceIP string `json:"-"`
}

// Recorder persists an admitted submission; the CRM's lead pipeline
// implements it.
type Recorder interface {
	Record(ctx context.Context, sub Submission) (string, error)
}

// Handler admits or denies public lead submissions.
type Handler struct {
	limiter  *rate.Limiter
	recorder Recorder
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewHandler creates the intake handler.
func NewHandler(limiter *rate.Limiter, recorder Recorder, m *metrics.Metrics, log *slog.Logger) *Handler {
	return &Handler{limiter: limiter, recorder: recorder, metrics: m, log: log}
}

// Create handles POST /api/v1/leads.
func (h *Handler) Create(c *fiber.Ctx) error {
	var sub Submission
	if err := c.BodyParser(&sub); err != nil || sub.Phone == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	sub.SourceIP = c.IP()

	ctx := c.UserContext()

	// The global budget protects the whole public surface regardless of
	// how the traffic is spread across IPs.
	if err := h.limiter.Admit(ctx, ScopeGlobal, globalIdentifier); err != nil {
		return h.deny(c, err)
	}
	if err := h.limiter.Admit(ctx, ScopeLead, sub.SourceIP); err != nil {
		return h.deny(c, err)
	}

	id, err := h.recorder.Record(ctx, sub)
	if err != nil {
		h.log.Error("lead recording failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id})
}

func (h *Handler) deny(c *fiber.Ctx, err error) error {
	var exceeded *rate.ExceededError
	if !errors.As(err, &exceeded) {
		h.log.Error("lead admission failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	h.metrics.RateLimitDenials.WithLabelValues(exceeded.Scope, exceeded.Window).Inc()

	retryAfter := int64(exceeded.RetryAfter / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":      "rate limit exceeded",
		"window":     exceeded.Window,
		"retryAfter": retryAfter,
	})
}

// RegisterRoutes mounts the public intake endpoint.
func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Post("/api/v1/leads", h.Create)
}
