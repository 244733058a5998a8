package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("loading attempt: %w", NotFound("attempt", "a-1"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindValidation))
}

func TestKindOf_PlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestIsExternal(t *testing.T) {
	assert.True(t, IsExternal(RateLimited(time.Second, nil)))
	assert.True(t, IsExternal(Unavailable("down", nil)))
	assert.False(t, IsExternal(Validation("bad")))
	assert.False(t, IsExternal(nil))
}

func TestRateLimited_KeepsRetryAfter(t *testing.T) {
	cause := errors.New("429")
	err := RateLimited(3*time.Second, cause)

	var e *Error
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", err), &e))
	assert.Equal(t, 3*time.Second, e.RetryAfter)
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindValidation, http.StatusBadRequest},
		{KindPermissionDenied, http.StatusForbidden},
		{KindConfiguration, http.StatusUnprocessableEntity},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindResourceExhausted, http.StatusInsufficientStorage},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind), string(tt.kind))
	}
}

func TestValidationFields(t *testing.T) {
	err := ValidationFields("invalid progress update", "Status", "Score")
	assert.Equal(t, []string{"Status", "Score"}, err.Fields)
	assert.Contains(t, err.Error(), "invalid progress update")
}
