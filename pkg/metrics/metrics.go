package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "impala", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "impala", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "impala", Subsystem: "session", Name: "refresh_total", Help: "Token refresh attempts by outcome."},
		[]string{"outcome"},
	)
	RequestRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "impala", Subsystem: "session", Name: "request_retries_total", Help: "Retried API requests by cause."},
		[]string{"cause"},
	)
	ForcedLogouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "impala", Subsystem: "session", Name: "forced_logouts_total", Help: "Forced logouts by reason."},
		[]string{"reason"},
	)
	TokenRotations = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "impala", Subsystem: "session", Name: "token_rotations_total", Help: "Token bundles rotated in by API responses."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(TokenRefreshes)
	reg.MustRegister(RequestRetries)
	reg.MustRegister(ForcedLogouts)
	reg.MustRegister(TokenRotations)
}
