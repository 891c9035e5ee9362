package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/errs"
	"github.com/okian/transferwire/pkg/logger"
	"github.com/okian/transferwire/pkg/metrics"
)

// Retry defaults.
const (
	DefaultAttempts       = 3
	DefaultBaseBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultAttemptTimeout = 15 * time.Second
)

// Retrying retries transient fetch failures with exponential backoff. Each
// attempt runs under its own timeout, so a hung request only costs one attempt.
type Retrying struct {
	next           Fetcher
	attempts       int
	base           time.Duration
	max            time.Duration
	attemptTimeout time.Duration
	log            logger.Logger
}

// RetryOption configures Retrying.
type RetryOption func(*Retrying)

// WithAttempts sets the total number of attempts.
func WithAttempts(n int) RetryOption {
	return func(r *Retrying) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff sets the first delay and its cap.
func WithBackoff(base, maxDelay time.Duration) RetryOption {
	return func(r *Retrying) {
		if base >= 0 {
			r.base = base
		}
		if maxDelay >= base {
			r.max = maxDelay
		}
	}
}

// WithAttemptTimeout bounds a single attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(r *Retrying) {
		if d >= 0 {
			r.attemptTimeout = d
		}
	}
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l logger.Logger) RetryOption {
	return func(r *Retrying) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRetrying wraps next.
func NewRetrying(next Fetcher, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:           next,
		attempts:       DefaultAttempts,
		base:           DefaultBaseBackoff,
		max:            DefaultMaxBackoff,
		attemptTimeout: DefaultAttemptTimeout,
		log:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) Fetch(ctx context.Context, src model.Source) ([]model.Signal, error) {
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		signals, err := r.once(ctx, src)
		if err == nil {
			return signals, nil
		}
		last = err
		if ctx.Err() != nil {
			return nil, errs.Wrap("ingest.retry", errs.KindIngestion, ctx.Err())
		}
		if !errs.IsTransient(err) || attempt == r.attempts {
			break
		}

		delay := r.backoff(attempt)
		metrics.RecordFetchRetry()
		r.log.Warn(ctx, "fetch failed, retrying",
			logger.String("source_id", src.ID),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", delay),
			logger.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.Wrap("ingest.retry", errs.KindIngestion, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", src.ID, last)
}

func (r *Retrying) once(ctx context.Context, src model.Source) ([]model.Signal, error) {
	actx := ctx
	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}
	signals, err := r.next.Fetch(actx, src)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !errs.IsTransient(err) {
		return nil, errs.Transient("ingest.attempt", errs.KindIngestion, err)
	}
	return signals, err
}

func (r *Retrying) backoff(attempt int) time.Duration {
	d := r.base << (attempt - 1)
	if d > r.max || d < 0 {
		return r.max
	}
	return d
}
