package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds the attempts made by Retry.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the wait before the first retry, doubled each attempt.
	Backoff time.Duration
	// AttemptTimeout bounds each attempt separately. Zero disables it.
	AttemptTimeout time.Duration
	// Logger receives one warning per retry. Nil retries silently.
	Logger *slog.Logger
}

// Retry calls fn until it succeeds, returns a Permanent error, the
// context ends or the retries are exhausted. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = callWithTimeout(ctx, p.AttemptTimeout, attempt, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		wait := p.Backoff * (1 << uint(attempt))
		if p.Logger != nil {
			p.Logger.WarnContext(ctx, "retrying call",
				"attempt", attempt+1,
				"max_retries", p.MaxRetries,
				"backoff_ms", wait.Milliseconds(),
				"error", lastErr)
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(wait):
		}
	}
	return lastErr
}

func callWithTimeout(ctx context.Context, d time.Duration, attempt int, fn func(context.Context, int) error) error {
	if d <= 0 {
		return fn(ctx, attempt)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx, attempt)
}
