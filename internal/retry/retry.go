// Package retry re-runs store writes that fail with transient database errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loykin/opshooks/internal/common"
)

// Policy controls how often and how fast an operation is retried.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Transient lists lower-case error fragments worth another attempt.
	Transient []string
}

// DefaultPolicy suits short store writes against sqlite or postgres.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Transient: []string{
			"connection refused",
			"connection reset",
			"timeout",
			"deadlock",
			"database is locked",
			"sqlite_busy",
			"broken pipe",
		},
	}
}

// IsTransient reports whether err matches one of the transient fragments.
// Context cancellation is never transient.
func (p *Policy) IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range p.Transient {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// Delay returns the wait before retry number attempt (0 based).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.InitialDelay
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, fails with a permanent error, or runs out of attempts.
// A nil policy means DefaultPolicy.
func Do(ctx context.Context, p *Policy, op func(context.Context) error) error {
	if p == nil {
		p = DefaultPolicy()
	}
	logger := common.GetLogger().WithComponent("retry")

	var err error
	for attempt := 0; ; attempt++ {
		if err = op(ctx); err == nil {
			if attempt > 0 {
				logger.Info("store write succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		if !p.IsTransient(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			break
		}
		delay := p.Delay(attempt)
		logger.Warn("store write failed, retrying", "error", err, "attempt", attempt+1, "retry_delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	logger.Error("store write failed after all attempts", "error", err, "attempts", p.MaxRetries+1)
	return fmt.Errorf("failed after %d attempts: %w", p.MaxRetries+1, err)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p *Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
