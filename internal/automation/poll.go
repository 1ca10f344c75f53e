package automation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PollConfig controls a poll loop.
type PollConfig struct {
	// Timeout must be positive.
	Timeout time.Duration

	// Interval is the sleep between attempts; 0 < Interval <= Timeout.
	Interval time.Duration

	// Name labels log entries, e.g. the template being waited for.
	Name string

	Logger Logger
}

// Poll calls check until it reports ok, the timeout elapses, or ctx ends.
//
// Elapsed time is measured from the start of the loop. The deadline is only
// examined after a failed attempt and the loop always sleeps a full Interval
// between attempts, so a miss returns after at least Timeout and at most
// Timeout + Interval plus the cost of the final check.
//
// Errors from check that wrap ErrPort are transient: they are logged and
// count as a non-match. Any other error aborts the loop and is returned
// unchanged. A miss returns an error wrapping ErrTimeoutExceeded;
// cancellation returns an error wrapping ErrCancelled.
func Poll[T any](ctx context.Context, cfg PollConfig, check func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T

	if err := validatePollTiming(cfg.Timeout, cfg.Interval); err != nil {
		return zero, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	timer := time.NewTimer(cfg.Interval)
	timer.Stop()
	defer timer.Stop()

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: polling %s: %w", ErrCancelled, cfg.Name, err)
		}

		value, ok, err := check(ctx)
		switch {
		case err != nil && errors.Is(err, ErrPort):
			logger.Warn("poll attempt failed, treating as no match",
				"target", cfg.Name,
				"attempt", attempt,
				"error", err,
			)
		case err != nil:
			return zero, err
		case ok:
			logger.Debug("poll matched",
				"target", cfg.Name,
				"attempt", attempt,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return value, nil
		}

		elapsed := time.Since(start)
		if elapsed >= cfg.Timeout {
			return zero, fmt.Errorf("%w: %s not matched after %d attempts in %s",
				ErrTimeoutExceeded, cfg.Name, attempt, elapsed.Round(time.Millisecond))
		}

		timer.Reset(cfg.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: polling %s: %w", ErrCancelled, cfg.Name, ctx.Err())
		}
	}
}

// sleep suspends for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: wait: %w", ErrCancelled, ctx.Err())
	}
}
