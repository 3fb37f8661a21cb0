package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is the delivery retry policy: how many times a message is
// attempted and how long to wait between attempts.
type RetryConfig struct {
	// MaxAttempts counts every attempt, the first included. 1 disables retries.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// JitterFraction spreads each wait by up to ±fraction of itself.
	JitterFraction float64

	// ShouldRetry decides whether an error earns another attempt.
	// Defaults to IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each wait with the number of the failed attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the delivery retry policy: three attempts with
// backoff doubling from 2s to a 10s ceiling and no jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}
}

// normalized fills unset fields from DefaultRetryConfig.
func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = IsTransient
	}
	return c
}

// Backoff returns the wait after the given failed attempt (1-based), before
// jitter. Unset fields take their defaults.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	c = c.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt-1))
	return time.Duration(math.Min(d, float64(c.MaxBackoff)))
}

// Schedule lists every wait the policy can take between attempts.
func (c RetryConfig) Schedule() []time.Duration {
	c = c.normalized()
	out := make([]time.Duration, 0, c.MaxAttempts-1)
	for attempt := 1; attempt < c.MaxAttempts; attempt++ {
		out = append(out, c.Backoff(attempt))
	}
	return out
}

func (c RetryConfig) jittered(d time.Duration) time.Duration {
	if c.JitterFraction == 0 {
		return d
	}
	spread := float64(d) * c.JitterFraction
	j := float64(d) + (rand.Float64()*2-1)*spread
	return time.Duration(math.Max(j, 0))
}

// Do calls fn until it succeeds, returns an error ShouldRetry rejects, or
// MaxAttempts is reached. It returns the last error. Cancelling ctx stops
// further attempts and interrupts a pending wait.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil, !cfg.ShouldRetry(err), attempt >= cfg.MaxAttempts:
			return err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !wait(ctx, cfg.jittered(cfg.Backoff(attempt))) {
			return err
		}
	}
}

// wait sleeps for d and reports false if ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each scheduled retry.
func RetryLogger(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retry scheduled",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("failed_attempt", attempt),
			zap.String("error_type", ClassifyError(err)),
			zap.Error(err),
		)
	}
}
