package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	t.Run("type and message", func(t *testing.T) {
		err := NotFoundError("api key")
		assert.Equal(t, "not_found: api key not found", err.Error())
	})

	t.Run("includes code and cause", func(t *testing.T) {
		cause := errors.New("dial tcp: refused")
		err := TransientError("redis unavailable", cause).WithCode("KV_DOWN")

		assert.Contains(t, err.Error(), "transient")
		assert.Contains(t, err.Error(), "code=KV_DOWN")
		assert.Contains(t, err.Error(), "cause=dial tcp: refused")
	})

	t.Run("includes context", func(t *testing.T) {
		err := RateLimitError("identity ip:10.0.0.1", 42)
		assert.Contains(t, err.Error(), "retry_after=42")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapper", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestIsType(t *testing.T) {
	t.Run("matching type", func(t *testing.T) {
		assert.True(t, IsType(InvalidCredentialError("signature mismatch"), ErrTypeInvalidCredential))
		assert.True(t, IsType(InvariantError("key already revoked"), ErrTypeInvariant))
	})

	t.Run("wrapped AppError still matches", func(t *testing.T) {
		inner := NotFoundError("tier")
		wrapped := fmt.Errorf("resolving config: %w", inner)
		assert.True(t, IsType(wrapped, ErrTypeNotFound))
	})

	t.Run("non-matching type", func(t *testing.T) {
		assert.False(t, IsType(NotFoundError("key"), ErrTypeRateLimit))
	})

	t.Run("nil error", func(t *testing.T) {
		assert.False(t, IsType(nil, ErrTypeNotFound))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, IsType(errors.New("plain"), ErrTypeInternal))
	})
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeTransient, GetType(TransientError("down", nil)))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}

func TestRateLimitError_CarriesRetryAfter(t *testing.T) {
	err := RateLimitError("key:abc", 17)

	assert.Equal(t, ErrTypeRateLimit, err.Type)
	assert.Equal(t, 17, err.Context["retry_after"])
}
