package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy governs frame capture. Planner calls are never retried.
// Zero fields take their defaults: one attempt, 200ms doubling up to 2s.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	p.MaxAttempts = max(p.MaxAttempts, 1)
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 2 * time.Second
	}
	p.MaxBackoff = max(p.MaxBackoff, p.BaseBackoff)
	return p
}

// delay is the wait after the n-th failed attempt (n >= 1).
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.BaseBackoff
	for ; n > 1 && d < p.MaxBackoff; n-- {
		d *= 2
	}
	return min(d, p.MaxBackoff)
}

var errEmptyFrame = errors.New("empty frame")

// captureWithRetry grabs a frame, backing off between failed attempts. An
// empty frame counts as a failure.
func (a *Agent) captureWithRetry(ctx context.Context) ([]byte, error) {
	p := a.captureRetry
	var err error
	for attempt := 1; ; attempt++ {
		var frame []byte
		frame, err = a.executor.Capture(ctx)
		if err == nil && len(frame) == 0 {
			err = errEmptyFrame
		}
		if err == nil {
			return frame, nil
		}
		a.logger.Warn("frame capture failed", zap.Int("attempt", attempt), zap.Int("of", p.MaxAttempts), zap.Error(err))
		if attempt >= p.MaxAttempts {
			break
		}
		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("capture failed after %d attempt(s): %w", p.MaxAttempts, err)
}
