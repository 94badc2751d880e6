package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tdthanh-dev/spa-web-sub001/config"
	"github.com/tdthanh-dev/spa-web-sub001/internal/auth"
	"github.com/tdthanh-dev/spa-web-sub001/internal/cache"
	"github.com/tdthanh-dev/spa-web-sub001/internal/lead"
	"github.com/tdthanh-dev/spa-web-sub001/internal/logging"
	"github.com/tdthanh-dev/spa-web-sub001/internal/metrics"
	"github.com/tdthanh-dev/spa-web-sub001/internal/otp"
	"github.com/tdthanh-dev/spa-web-sub001/internal/rate"
	"github.com/tdthanh-dev/spa-web-sub001/internal/token"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, "trust-core", cfg.Env)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := cache.New(redisClient, cfg.StoreTimeout)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	otpManager := otp.New(store, &logSender{log: logger}, otp.Config{
		CodeTTL:        cfg.OTPCodeTTL,
		ResendCooldown: cfg.OTPResendCooldown,
		MaxAttempts:    cfg.OTPMaxAttempts,
		CodeDigits:     cfg.OTPCodeDigits,
	}, logger)

	tokenService, err := token.NewService(token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Leeway:     cfg.JWTLeeway,
	})
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	revocations := token.NewRegistry(store, logger)

	limiter := rate.New(store, map[string][]rate.Window{
		lead.ScopeLead: {
			{Name: "hourly", Length: time.Hour, Max: cfg.LeadHourlyMax},
			{Name: "daily", Length: 24 * time.Hour, Max: cfg.LeadDailyMax},
		},
		lead.ScopeGlobal: {
			{Name: "minute", Length: time.Minute, Max: cfg.GlobalMinuteMax},
		},
	}, logger)

	// The credential store and lead recorder belong to the CRM proper;
	// these stand-ins keep the service runnable until that wiring lands.
	authService := auth.NewService(seedCredentials(logger), otpManager, tokenService, revocations, logger)
	authHandler := auth.NewHandler(authService, m)
	leadHandler := lead.NewHandler(limiter, &loggingRecorder{log: logger}, m, logger)

	app := fiber.New()
	app.Use(cors.New())

	auth.RegisterRoutes(app, authHandler, authService)
	lead.RegisterRoutes(app, leadHandler)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logger.Info("listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// logSender stands in for the SMS/email gateway: the code is delivered to
// the log only. Swap in the real channel at this seam.
type logSender struct {
	log *slog.Logger
}

func (s *logSender) Send(_ context.Context, identifier, code string, purpose otp.Purpose) error {
	s.log.Info("otp issued", "identifier", identifier, "purpose", purpose, "code", code)
	return nil
}

// memCredentials is an in-memory credential store seeded from the
// environment. With no seed every login is rejected, so an unseeded
// deployment is safe rather than open.
type memCredentials struct {
	mu        sync.RWMutex
	passwords map[string]string
	users     map[string]*auth.UserInfo
}

func seedCredentials(logger *slog.Logger) *memCredentials {
	store := &memCredentials{
		passwords: map[string]string{},
		users:     map[string]*auth.UserInfo{},
	}

	username := os.Getenv("SEED_USERNAME")
	password := os.Getenv("SEED_PASSWORD")
	if username == "" || password == "" {
		logger.Warn("no seed account configured, every login will be rejected")
		return store
	}

	store.passwords[username] = password
	store.users[username] = &auth.UserInfo{
		UserID:   "seed-" + username,
		Username: username,
		Role:     "ADMIN",
	}
	logger.Info("seed account loaded", "username", username)
	return store
}

func (s *memCredentials) VerifyPassword(_ context.Context, username, password string) (*auth.UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if want, ok := s.passwords[username]; !ok || want != password {
		return nil, auth.ErrInvalidCredentials
	}
	return s.users[username], nil
}

func (s *memCredentials) Lookup(_ context.Context, username string) (*auth.UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.users[username]
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	return info, nil
}

func (s *memCredentials) UpdatePassword(_ context.Context, userID, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for username, info := range s.users {
		if info.UserID == userID {
			s.passwords[username] = newPassword
			return nil
		}
	}
	return auth.ErrInvalidCredentials
}

type loggingRecorder struct {
	log *slog.Logger
}

func (r *loggingRecorder) Record(_ context.Context, sub lead.Submission) (string, error) {
	id := uuid.NewString()
	r.log.Info("lead accepted", "id", id, "phone", sub.Phone, "ip", sub.SourceIP)
	return id, nil
}
