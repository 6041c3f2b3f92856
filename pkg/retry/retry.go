// Package retry implements exponential-backoff retry loops, used wherever a
// sudoku node needs to keep trying an operation until it succeeds or its
// context is canceled (most notably, connecting to a bootstrap peer).
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Operation is a unit of work that can be retried.
type Operation func(ctx context.Context) error

// Config controls the backoff schedule. A MaxAttempts of 0 means retry
// forever: §4.3 of the join protocol requires indefinite retries against a
// bootstrap peer, so unlike a typical bounded-retry helper this one must
// support "never give up".
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	OnRetry      func(attempt int, err error, nextDelay time.Duration)
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  0,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}
}

type Option func(*Config)

func WithMaxAttempts(n int) Option { return func(c *Config) { c.MaxAttempts = n } }

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) { c.InitialDelay = d }
}

func WithMaxDelay(d time.Duration) Option { return func(c *Config) { c.MaxDelay = d } }

func WithOnRetry(fn func(attempt int, err error, nextDelay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// Do runs op until it succeeds, ctx is canceled, or MaxAttempts is
// exhausted (if nonzero). Delay between attempts doubles each time,
// starting at InitialDelay and capped at MaxDelay, matching the "initial 1
// s, double each failure" schedule required for the bootstrap join.
func Do(ctx context.Context, op Operation, opts ...Option) error {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: context canceled before attempt %d: %w", attempt, err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return fmt.Errorf("retry: giving up after %d attempts: %w", attempt, err)
		}

		delay := calculateDelay(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: context canceled during backoff: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func calculateDelay(attempt int, cfg *Config) time.Duration {
	delay := math.Min(
		float64(cfg.MaxDelay),
		float64(cfg.InitialDelay)*math.Pow(cfg.Multiplier, float64(attempt-1)),
	)
	return time.Duration(delay)
}
