package apperr_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestIsWalksNestedKinds(t *testing.T) {
	inner := apperr.New(apperr.KindTransient, "threads.create", errors.New("502"))
	outer := apperr.New(apperr.KindCreate, "publisher.create", inner)
	wrapped := fmt.Errorf("account A1: %w", outer)

	assert.True(t, apperr.Is(wrapped, apperr.KindCreate))
	assert.True(t, apperr.Is(wrapped, apperr.KindTransient))
	assert.False(t, apperr.Is(wrapped, apperr.KindAuth))
	assert.Equal(t, apperr.KindCreate, apperr.KindOf(wrapped))
}

func TestRetryable(t *testing.T) {
	assert.True(t, apperr.Retryable(apperr.New(apperr.KindRateLimit, "", errors.New("429"))))
	assert.True(t, apperr.Retryable(apperr.New(apperr.KindTransient, "", errors.New("timeout"))))
	assert.False(t, apperr.Retryable(apperr.New(apperr.KindValidation, "", errors.New("bad text"))))
	assert.False(t, apperr.Retryable(errors.New("plain")))
	assert.False(t, apperr.Retryable(nil))
}

func TestRetryAfter(t *testing.T) {
	err := &apperr.Error{Kind: apperr.KindRateLimit, Err: errors.New("slow down"), RetryAfter: 3 * time.Second}
	assert.Equal(t, 3*time.Second, apperr.RetryAfter(apperr.New(apperr.KindPublish, "op", err)))
	assert.Zero(t, apperr.RetryAfter(errors.New("x")))
}

func TestErrorMessage(t *testing.T) {
	err := apperr.Errorf(apperr.KindDataFormat, "sync.contents", "missing column %q", "body_text")
	assert.Equal(t, `sync.contents: data_format: missing column "body_text"`, err.Error())
	assert.Equal(t, `auth: expired`, apperr.New(apperr.KindAuth, "", errors.New("expired")).Error())
}
