// Package retry implements exponential-backoff retry for transient upstream
// failures (egress HTTP calls, embedded-service backends), classifying
// errors into transient/permanent the same way the original does.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Config tunes retry attempts and backoff shape.
type Config struct {
	MaxRetries   uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultConfig matches the original's default: 3 retries, 500ms initial
// delay doubling up to a 10s cap.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Factor: 2.0}
}

// QuickConfig is for low-stakes, latency-sensitive operations.
func QuickConfig() Config {
	return Config{MaxRetries: 2, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2.0}
}

// NetworkConfig matches the AWS SDK's standard retry profile, for egress
// HTTP calls made on a guest's behalf.
func NetworkConfig() Config {
	return Config{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 20 * time.Second, Factor: 2.0}
}

// CriticalConfig is for operations worth retrying aggressively.
func CriticalConfig() Config {
	return Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Factor: 2.0}
}

func (c Config) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Factor
	return b
}

// Do retries operation under cfg, calling isRetryable on each failure to
// decide whether another attempt is warranted; a non-retryable error is
// returned immediately without consuming further attempts.
func Do[T any](ctx context.Context, cfg Config, operationName string, log *zap.Logger, isRetryable func(error) bool, operation func() (T, error)) (T, error) {
	attempt := 0
	wrapped := func() (T, error) {
		v, err := operation()
		if err == nil {
			return v, nil
		}
		if !isRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, d time.Duration) {
		attempt++
		log.Warn("retry attempt failed, will retry",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt),
			zap.Uint("max_retries", cfg.MaxRetries),
			zap.Duration("next_delay", d),
			zap.Error(err),
		)
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(cfg.backOff()),
		backoff.WithMaxTries(cfg.MaxRetries+1),
		backoff.WithNotify(notify),
	)
}

// IsTransientError classifies an error as transient (worth retrying) by
// substring match against its message, mirroring the original's
// is_transient_error: connection issues, timeouts, retryable DNS errors,
// 5xx/408/429 HTTP status text, temporary I/O errors, and DB lock
// contention are all transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "connection refused", "connection reset", "connection closed", "broken pipe", "network unreachable", "host unreachable"):
		return true
	case containsAny(msg, "timed out", "timeout", "deadline exceeded"):
		return true
	case strings.Contains(msg, "dns") && containsAny(msg, "temporary", "again"):
		return true
	case containsAny(msg, "status: 5", "500", "502", "503", "504", "408", "429", "too many requests", "service unavailable", "gateway timeout", "bad gateway"):
		return true
	case containsAny(msg, "resource temporarily unavailable", "try again", "interrupted", "would block"):
		return true
	case containsAny(msg, "database is locked", "busy"):
		return true
	default:
		return false
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsRetryableStatus reports whether an HTTP status code is worth retrying.
func IsRetryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
