package dispatch

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/lead-mailer/internal/config"
	"github.com/sells-group/lead-mailer/internal/resilience"
)

// Policy is the retry schedule and shared limiter applied to every dispatch.
type Policy struct {
	Retry   resilience.RetryConfig
	Limiter *rate.Limiter
}

// NewPolicy builds a policy from config. The limiter allows cfg.RateLimit
// sends per cfg.WindowSecs, refilling evenly, with the full window available
// as burst. Build it once per process and share it.
func NewPolicy(cfg config.DispatchConfig) Policy {
	retry := resilience.FromDispatchConfig(cfg)
	retry.ShouldRetry = resilience.IsRetryable
	retry.OnRetry = resilience.RetryLogger("mail", "deliver")
	return Policy{
		Retry:   retry,
		Limiter: NewLimiter(cfg.RateLimit, time.Duration(cfg.WindowSecs)*time.Second),
	}
}

// NewLimiter returns a token bucket holding limit tokens that refills one
// token every window/limit.
func NewLimiter(limit int, window time.Duration) *rate.Limiter {
	if limit <= 0 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}
