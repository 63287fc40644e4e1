package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(AccessDenied, "nope")
	assert.Equal(t, AccessDenied, KindOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, AccessDenied, KindOf(wrapped))

	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Unknown, KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(SourceUnavailable, cause, "stat failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "stat failed")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{AccessDenied, http.StatusForbidden},
		{NotSatisfiableRange, http.StatusRequestedRangeNotSatisfiable},
		{InvalidParameter, http.StatusBadRequest},
		{ConcurrencyLimitExceeded, http.StatusServiceUnavailable},
		{SourceUnavailable, http.StatusInternalServerError},
		{SubprocessFailure, http.StatusInternalServerError},
		{Unknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(New(tc.kind, "x")), "kind %d", tc.kind)
	}

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestIs(t *testing.T) {
	err := New(InvalidParameter, "bad offset")
	assert.True(t, Is(err, InvalidParameter))
	assert.False(t, Is(err, AccessDenied))
}
