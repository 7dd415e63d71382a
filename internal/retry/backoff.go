package retry

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/tupa/internal/apperr"
)

// BackoffConfig configures exponential backoff for background polling.
// User-initiated operations are never retried automatically.
type BackoffConfig struct {
	BaseDelay  time.Duration // Delay with no failures (default: poll interval)
	MaxDelay   time.Duration // Maximum delay between attempts (default: 1m)
	Multiplier float64       // Exponential backoff multiplier (default: 2.0)
	Jitter     bool          // Add random jitter (default: true)
}

// DefaultBackoffConfig returns a backoff configuration for a given poll interval
func DefaultBackoffConfig(interval, maxDelay time.Duration) BackoffConfig {
	if maxDelay < interval {
		maxDelay = interval
	}
	return BackoffConfig{
		BaseDelay:  interval,
		MaxDelay:   maxDelay,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay returns the wait after the given number of consecutive failures.
// Zero failures means the base delay.
func Delay(config BackoffConfig, failures int) time.Duration {
	if failures <= 0 {
		return config.BaseDelay
	}
	return calculateDelay(config, failures)
}

// calculateDelay calculates the delay for the next attempt using exponential backoff
func calculateDelay(config BackoffConfig, attempt int) time.Duration {
	// baseDelay * multiplier^attempt
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		// up to 10% either way
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsTransient reports whether err looks like a network or availability blip
// rather than a rejected request
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrPermission) {
		return false
	}

	errStr := err.Error()

	transientErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"status 429",
		"status 502",
		"status 503",
		"status 504",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	}

	for _, transient := range transientErrors {
		if contains(errStr, transient) {
			return true
		}
	}

	return false
}

// contains checks if a string contains a substring (case-insensitive)
func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
