package crosslogin

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrDuplicateInput, http.StatusConflict},
		{ErrExpired, http.StatusGone},
		{ErrNotValid, http.StatusUnauthorized},
		{ErrLocked, http.StatusUnauthorized},
		{ErrUnknownProvider, http.StatusBadRequest},
		{fmt.Errorf("reading request: %w", ErrExpired), http.StatusGone},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrExpired, ErrCodeCodeExpired},
		{ErrNotValid, ErrCodeInvalidCreds},
		{ErrDuplicateInput, ErrCodeInputExists},
		{ErrLocked, ErrCodeAccountLocked},
		{ErrLastInput, ErrCodeLastInput},
		{ErrNotValidated, ErrCodeNotValidated},
		{fmt.Errorf("boom"), ErrCodeInvalidInput},
	}
	for _, c := range cases {
		if got := ErrorCode(c.err); got != c.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestAuthError(t *testing.T) {
	e := NewAuthError(ErrCodeMissingField, "input is required", "input")
	if got := e.Error(); got != "missing_field: input is required (field: input)" {
		t.Errorf("Error() = %q", got)
	}
	bare := NewAuthError(ErrCodeConflict, "version mismatch", "")
	if got := bare.Error(); got != "conflict: version mismatch" {
		t.Errorf("Error() = %q", got)
	}
}
