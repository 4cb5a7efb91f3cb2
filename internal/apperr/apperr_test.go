package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Conflict, "auction is not active", cause)

	assert.Equal(t, Conflict, KindOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain error")))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		Unauthenticated: http.StatusUnauthorized,
		Forbidden:       http.StatusForbidden,
		NotFound:        http.StatusNotFound,
		Conflict:        http.StatusConflict,
		BadRequest:      http.StatusBadRequest,
		TooManyRequests: http.StatusTooManyRequests,
		Timeout:         http.StatusGatewayTimeout,
		Internal:        http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, HTTPStatus(kind), "kind %s", kind)
	}
}
