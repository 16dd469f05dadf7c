package resilience

import (
	"context"
	"time"
)

// Delay returns the wait before retry number attempt (1-based): base doubled
// per attempt, capped at max.
func (cfg BackoffConfig) Delay(attempt int) time.Duration {
	cfg = NormalizeBackoffConfig(cfg)
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.Max {
			return cfg.Max
		}
	}
	return delay
}

// Retry calls fn until it succeeds, retryable reports false, the retry
// budget is spent or ctx is done. It returns the last error seen.
func Retry(ctx context.Context, cfg BackoffConfig, retryable func(error) bool, fn func(attempt int) error) error {
	cfg = NormalizeBackoffConfig(cfg)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(cfg.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
