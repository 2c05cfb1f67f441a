package store

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/abhisek/drillsim/internal/attempt"
	"github.com/abhisek/drillsim/internal/performance"
)

// RetryConfig configures retry behavior for transient write failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the retry settings used by the server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 50 * time.Millisecond,
		MaxWait:     time.Second,
		Multiplier:  2.0,
	}
}

// Backend is the persistence surface the attempt service uses.
type Backend interface {
	attempt.Store
	attempt.Completer
}

// RetryStore is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryStore struct {
	inner     Backend
	config    RetryConfig
	retryable func(error) bool
}

// WithRetry wraps a Backend with retry logic.
func WithRetry(b Backend, cfg RetryConfig) *RetryStore {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryStore{inner: b, config: cfg, retryable: isBusy}
}

func (r *RetryStore) LoadPerformance(ctx context.Context, userID, scenarioID string) (*performance.Performance, error) {
	var p *performance.Performance
	err := r.do(ctx, func() error {
		var err error
		p, err = r.inner.LoadPerformance(ctx, userID, scenarioID)
		return err
	})
	return p, err
}

func (r *RetryStore) SavePerformance(ctx context.Context, p *performance.Performance) error {
	return r.do(ctx, func() error { return r.inner.SavePerformance(ctx, p) })
}

func (r *RetryStore) SaveAttempt(ctx context.Context, a *attempt.Attempt) error {
	return r.do(ctx, func() error { return r.inner.SaveAttempt(ctx, a) })
}

func (r *RetryStore) Complete(ctx context.Context, a *attempt.Attempt, p *performance.Performance) error {
	return r.do(ctx, func() error { return r.inner.Complete(ctx, a, p) })
}

func (r *RetryStore) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for try := range r.config.MaxAttempts {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !r.retryable(err) {
			return err
		}

		// Last attempt, don't sleep.
		if try == r.config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff(try)):
		}
	}
	return lastErr
}

// isBusy reports whether err is a transient SQLite lock condition.
func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// backoff computes the wait duration for the given attempt.
func (r *RetryStore) backoff(try int) time.Duration {
	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(try))
	if wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// Add ±20% jitter.
	jitter := wait * 0.2 * (2*rand.Float64() - 1)
	wait += jitter

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
