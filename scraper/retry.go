package scraper

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/aluiziolira/go-chart-sync/config"
)

// RetryPolicy retries transient fetch failures a bounded number of times
// with capped exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	BackoffMax time.Duration

	sleep func(context.Context, time.Duration) error
}

// NewRetryPolicy builds a policy from cfg.
func NewRetryPolicy(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.RetryBackoff,
		BackoffMax: cfg.RetryBackoffMax,
	}
}

// WithSleep returns a copy of rp that waits between attempts with sleep.
func (rp RetryPolicy) WithSleep(sleep func(context.Context, time.Duration) error) RetryPolicy {
	rp.sleep = sleep
	return rp
}

func (rp RetryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	max := rp.BackoffMax
	delay := base
	for i := 1; i < attempt; i++ {
		if max > 0 && delay >= max {
			break
		}
		if delay > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// Do calls fetch until it succeeds, returns a non-retryable failure, or the
// retry budget is spent. onRetry is called before each retry.
func (rp RetryPolicy) Do(ctx context.Context, fetch func(context.Context) FetchResult, onRetry func(attempt int, err error)) FetchResult {
	sleep := rp.sleep
	if sleep == nil {
		sleep = Sleep
	}

	res := fetch(ctx)
	for attempt := 1; attempt <= rp.MaxRetries; attempt++ {
		if res.Status != StatusFailed || !Retryable(res.Err) {
			return res
		}
		if onRetry != nil {
			onRetry(attempt, res.Err)
		}
		delay := rp.backoff(attempt)
		slog.Debug("retrying fetch", slog.Int("attempt", attempt), slog.Duration("backoff", delay), slog.Any("error", res.Err))
		if err := sleep(ctx, delay); err != nil {
			return res
		}
		res = fetch(ctx)
	}
	return res
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
