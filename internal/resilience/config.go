package resilience

import (
	"time"

	"github.com/sells-group/lead-mailer/internal/config"
)

// FromDispatchConfig converts dispatch config values to a RetryConfig.
// Non-positive values keep the defaults; a zero jitter fraction is honored.
func FromDispatchConfig(cfg config.DispatchConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		rc.Multiplier = cfg.Multiplier
	}
	if cfg.JitterFraction >= 0 {
		rc.JitterFraction = cfg.JitterFraction
	}
	return rc
}
