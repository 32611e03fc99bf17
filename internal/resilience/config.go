package resilience

import "time"

// FromRetryConfig builds a RetryConfig from the flat `retry.*` config knobs,
// keeping defaults for anything unset.
func FromRetryConfig(maxAttempts, initialBackoffMS, maxBackoffMS int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMS > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMS) * time.Millisecond
	}
	if maxBackoffMS > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMS) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}
