package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/sirupsen/logrus"
)

// Classifier reports whether a failed attempt may be retried.
type Classifier func(error) bool

// Policy retries remote calls with capped exponential backoff. Every remote
// call site goes through Execute or Do; callers only supply a classifier.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	CallTimeout     time.Duration
	Log             *logrus.Entry
}

func DefaultPolicy(log *logrus.Entry) Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		CallTimeout:     30 * time.Second,
		Log:             log,
	}
}

// retryAfterBackOff stretches the next interval to the server's Retry-After
// hint carried by the last failed attempt.
type retryAfterBackOff struct {
	backoff.BackOff
	lastErr *error
}

func (b retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if after := apperr.RetryAfter(*b.lastErr); after > next {
		return after
	}
	return next
}

func (p Policy) backOff(ctx context.Context, lastErr *error) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	hinted := retryAfterBackOff{BackOff: exp, lastErr: lastErr}
	return backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(attempts-1)), ctx)
}

// Execute runs fn until it succeeds, classify rejects the error, attempts
// run out or ctx ends. Each attempt gets its own CallTimeout deadline.
func (p Policy) Execute(ctx context.Context, op string, fn func(ctx context.Context) error, classify Classifier) error {
	if classify == nil {
		classify = apperr.Retryable
	}

	attempt := 0
	var lastErr error
	operation := func() error {
		attempt++
		callCtx, cancel := p.callContext(ctx)
		defer cancel()

		err := fn(callCtx)
		lastErr = err
		if err == nil {
			return nil
		}
		if !classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.Log != nil {
			p.Log.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt,
				"wait":    wait.String(),
				"error":   err.Error(),
			}).Warn("retrying remote call")
		}
	}

	return backoff.RetryNotify(operation, p.backOff(ctx, &lastErr), notify)
}

func (p Policy) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.CallTimeout)
}

// Do is Execute for calls that return a value.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error), classify Classifier) (T, error) {
	var out T
	err := p.Execute(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, classify)
	return out, err
}
