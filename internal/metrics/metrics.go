package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters the trust core reports. Labels stay
// low-cardinality: statuses and window names, never identifiers.
type Metrics struct {
	Logins           *prometheus.CounterVec
	OTPRequests      *prometheus.CounterVec
	OTPVerifications *prometheus.CounterVec
	TokenRefreshes   *prometheus.CounterVec
	Logouts          prometheus.Counter
	RateLimitDenials *prometheus.CounterVec
}

// New registers all collectors on the given registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logins_total",
				Help: "Total password login attempts.",
			},
			[]string{"status"},
		),
		OTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_otp_requests_total",
				Help: "Total OTP challenge requests.",
			},
			[]string{"status"},
		),
		OTPVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_otp_verifications_total",
				Help: "Total OTP verification attempts.",
			},
			[]string{"status"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_token_refreshes_total",
				Help: "Total refresh-token rotations.",
			},
			[]string{"status"},
		),
		Logouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_logouts_total",
				Help: "Total logouts.",
			},
		),
		RateLimitDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_denials_total",
				Help: "Total admissions denied by the rate limiter.",
			},
			[]string{"scope", "window"},
		),
	}

	registry.MustRegister(
		m.Logins,
		m.OTPRequests,
		m.OTPVerifications,
		m.TokenRefreshes,
		m.Logouts,
		m.RateLimitDenials,
	)
	return m
}
