// Package config loads the service configuration from environment
// variables and validates every numeric bound at startup, so a
// misconfigured deployment dies immediately instead of limping along with
// a 0-second OTP TTL or an unbounded token lifetime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the validated runtime configuration.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreTimeout  time.Duration

	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	JWTLeeway  time.Duration

	OTPCodeTTL        time.Duration
	OTPResendCooldown time.Duration
	OTPMaxAttempts    int
	OTPCodeDigits     int

	LeadHourlyMax   int64
	LeadDailyMax    int64
	GlobalMinuteMax int64

	// loadErrs collects unparseable env values so Validate can refuse the
	// whole config instead of silently running on defaults.
	loadErrs []string
}

// Load reads the environment. It does not validate; call Validate before
// using the result.
func Load() *Config {
	c := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: getEnv("JWT_ISSUER", "spa-crm"),
	}

	c.RedisDB = c.intEnv("REDIS_DB", 0)
	c.StoreTimeout = time.Duration(c.intEnv("STORE_TIMEOUT_MS", 2000)) * time.Millisecond

	c.AccessTTL = time.Duration(c.intEnv("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute
	c.RefreshTTL = time.Duration(c.intEnv("REFRESH_TOKEN_TTL_MIN", 10080)) * time.Minute
	c.JWTLeeway = time.Duration(c.intEnv("JWT_LEEWAY_SEC", 30)) * time.Second

	c.OTPCodeTTL = time.Duration(c.intEnv("OTP_TTL_MIN", 5)) * time.Minute
	c.OTPResendCooldown = time.Duration(c.intEnv("OTP_RESEND_COOLDOWN_SEC", 60)) * time.Second
	c.OTPMaxAttempts = c.intEnv("OTP_MAX_ATTEMPTS", 5)
	c.OTPCodeDigits = c.intEnv("OTP_CODE_DIGITS", 6)

	c.LeadHourlyMax = int64(c.intEnv("LEAD_HOURLY_MAX", 1000))
	c.LeadDailyMax = int64(c.intEnv("LEAD_DAILY_MAX", 5000))
	c.GlobalMinuteMax = int64(c.intEnv("GLOBAL_MINUTE_MAX", 6000))

	return c
}

// Validate enforces the documented bounds. The first violation aborts.
func (c *Config) Validate() error {
	if len(c.loadErrs) > 0 {
		return fmt.Errorf("unparseable environment: %s", strings.Join(c.loadErrs, "; "))
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR must not be empty")
	}
	if c.StoreTimeout < 100*time.Millisecond || c.StoreTimeout > 30*time.Second {
		return fmt.Errorf("STORE_TIMEOUT_MS out of range [100, 30000]: %v", c.StoreTimeout)
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	if c.AccessTTL < time.Minute || c.AccessTTL > 24*time.Hour {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MIN out of range [1, 1440]: %v", c.AccessTTL)
	}
	if c.RefreshTTL <= c.AccessTTL || c.RefreshTTL > 30*24*time.Hour {
		return fmt.Errorf("REFRESH_TOKEN_TTL_MIN must exceed the access TTL and stay within 30 days: %v", c.RefreshTTL)
	}
	if c.JWTLeeway < 0 || c.JWTLeeway > 2*time.Minute {
		return fmt.Errorf("JWT_LEEWAY_SEC out of range [0, 120]: %v", c.JWTLeeway)
	}
	if c.OTPCodeTTL < time.Minute || c.OTPCodeTTL > 30*time.Minute {
		return fmt.Errorf("OTP_TTL_MIN out of range [1, 30]: %v", c.OTPCodeTTL)
	}
	if c.OTPResendCooldown < 10*time.Second || c.OTPResendCooldown > 10*time.Minute {
		return fmt.Errorf("OTP_RESEND_COOLDOWN_SEC out of range [10, 600]: %v", c.OTPResendCooldown)
	}
	if c.OTPMaxAttempts < 1 || c.OTPMaxAttempts > 10 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS out of range [1, 10]: %d", c.OTPMaxAttempts)
	}
	if c.OTPCodeDigits < 4 || c.OTPCodeDigits > 10 {
		return fmt.Errorf("OTP_CODE_DIGITS out of range [4, 10]: %d", c.OTPCodeDigits)
	}
	if c.LeadHourlyMax < 1 {
		return fmt.Errorf("LEAD_HOURLY_MAX must be at least 1: %d", c.LeadHourlyMax)
	}
	if c.LeadDailyMax < c.LeadHourlyMax {
		return fmt.Errorf("LEAD_DAILY_MAX must be at least LEAD_HOURLY_MAX: %d", c.LeadDailyMax)
	}
	if c.GlobalMinuteMax < 1 {
		return fmt.Errorf("GLOBAL_MINUTE_MAX must be at least 1: %d", c.GlobalMinuteMax)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

// intEnv parses an integer env var. An unset var yields the default; a set
// but non-numeric var is recorded as a load error and rejected by Validate.
func (c *Config) intEnv(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		c.loadErrs = append(c.loadErrs, fmt.Sprintf("%s=%q is not an integer", key, valStr))
		return defaultVal
	}
	return val
}
