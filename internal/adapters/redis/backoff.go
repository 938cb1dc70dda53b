package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
)

// WithBackoff sets the reconnect delays used by Consume.
func WithBackoff(base, max time.Duration) Option {
	return func(t *Transport) {
		if base > 0 {
			t.baseDelay = base
		}
		if max >= t.baseDelay {
			t.maxDelay = max
		}
	}
}

// Consume runs the subscription and resubscribes after failures, waiting an
// exponentially growing delay between attempts. It returns only when ctx is
// done.
func (t *Transport) Consume(ctx context.Context, sink Sink) error {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := t.Run(ctx, sink)
		if !shouldResubscribe(ctx, err) {
			return ctx.Err()
		}
		// A subscription that stayed up for a while starts the schedule over.
		if time.Since(start) > t.maxDelay {
			attempt = 0
		}
		delay := computeBackoff(t.baseDelay, t.maxDelay, attempt)
		t.logger.Warn("status subscription lost",
			slog.String("channel", t.channel),
			slog.Any("error", err),
			slog.Duration("retry_in", delay))
		if err := waitForBackoff(ctx, delay); err != nil {
			return err
		}
	}
}

func shouldResubscribe(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// computeBackoff doubles base per attempt and caps the result at max.
func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

// waitForBackoff sleeps for delay or returns early when ctx is cancelled.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
