package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindDataFormat     Kind = "data_format"
	KindCreate         Kind = "create"
	KindPublish        Kind = "publish"
	KindTransient      Kind = "transient"
	KindRateLimit      Kind = "rate_limit"
	KindAuth           Kind = "auth"
	KindValidation     Kind = "validation"
	KindProxyPoolEmpty Kind = "proxy_pool_empty"
	KindReplyFailed    Kind = "reply_failed"
	KindNotFound       Kind = "not_found"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNoAffiliate    = errors.New("no affiliate for content")
	ErrProxyPoolEmpty = errors.New("proxy pool exhausted")
	ErrAlreadyRan     = errors.New("schedule slot already ran")
)

// Error carries a failure Kind through wrapping so callers can classify
// without string matching. Kinds nest: a create failure caused by a
// transient remote error reports both.
type Error struct {
	Kind       Kind
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the outermost kind in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable is the default retry classifier: transient and rate-limit
// failures are retried, everything else is permanent.
func Retryable(err error) bool {
	return Is(err, KindTransient) || Is(err, KindRateLimit)
}

func RetryAfter(err error) time.Duration {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.RetryAfter > 0 {
			return e.RetryAfter
		}
		err = e.Err
	}
	return 0
}
