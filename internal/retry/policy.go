// Package retry provides the exponential backoff policy shared by the
// embedding client and the vector store clients.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted indicates every attempt failed with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures exponential backoff with jitter.
//
// The delay before attempt n+1 is BaseDelay * Multiplier^(n-1), capped at
// MaxDelay and randomized by +/- Jitter (a factor in [0,1]).
type Policy struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	Multiplier  float64       `koanf:"multiplier"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	Jitter      float64       `koanf:"jitter"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
		Jitter:      0.5,
	}
}

// ApplyDefaults fills zero fields from DefaultPolicy.
func (p *Policy) ApplyDefaults() {
	d := DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = d.MaxDelay
	}
}

// Validate checks the policy for nonsensical values.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be > 0, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max_delay (%s) must be >= base_delay (%s)", p.MaxDelay, p.BaseDelay)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be within [0,1], got %v", p.Jitter)
	}
	return nil
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Always retries every error.
func Always(error) bool { return true }

// Option customizes a single Do call.
type Option func(*options)

type options struct {
	onRetry func(attempt int, err error, wait time.Duration)
}

// OnRetry registers a callback invoked before each backoff sleep.
func OnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do runs op until it succeeds, fails with an error the classifier rejects,
// the context ends, or MaxAttempts is reached. Exhaustion is reported as
// ErrExhausted wrapping the last error.
func Do[T any](ctx context.Context, p Policy, retryable Classifier, op func(context.Context) (T, error), opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if retryable == nil {
		retryable = Always
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	attempt := 0
	permanent := false
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if o.onRetry != nil {
				o.onRetry(attempt, err, wait)
			}
		}),
	)
	if err == nil {
		return v, nil
	}

	var zero T
	switch {
	case permanent:
		return zero, err
	case ctx.Err() != nil:
		return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, err)
	default:
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
}

// DoErr is Do for operations without a result value.
func DoErr(ctx context.Context, p Policy, retryable Classifier, op func(context.Context) error, opts ...Option) error {
	_, err := Do(ctx, p, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}
