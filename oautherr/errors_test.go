package oautherr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "simple error",
			err:  New(CodeInvalidRequest, "Missing required parameter", http.StatusBadRequest),
			want: "invalid_request: Missing required parameter",
		},
		{
			name: "error with empty description",
			err:  New(CodeInternalServerError, "", http.StatusInternalServerError),
			want: "internal_server_error: ",
		},
		{
			name: "wrapped cause",
			err:  InvalidGrant("bad code").Wrap(errors.New("boom")),
			want: "invalid_grant: bad code: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   string
		status int
		param  string
	}{
		{"invalid_request", InvalidRequest("x"), CodeInvalidRequest, http.StatusBadRequest, ""},
		{"invalid_client", InvalidClient("x"), CodeInvalidClient, http.StatusUnauthorized, ""},
		{"invalid_grant", InvalidGrant("x"), CodeInvalidGrant, http.StatusBadRequest, ""},
		{"unauthorized_client", UnauthorizedClient("x"), CodeUnauthorizedClient, http.StatusBadRequest, ""},
		{"invalid_scope", InvalidScope("x"), CodeInvalidScope, http.StatusBadRequest, "scope"},
		{"invalid_request_object", InvalidRequestObject("x"), CodeInvalidRequestObject, http.StatusBadRequest, "request"},
		{"invalid_request_uri", InvalidRequestURI("x"), CodeInvalidRequestURI, http.StatusBadRequest, "request_uri"},
		{"request_not_supported", RequestNotSupported("x"), CodeRequestNotSupported, http.StatusBadRequest, "request"},
		{"request_uri_not_supported", RequestURINotSupported("x"), CodeRequestURINotSupported, http.StatusBadRequest, "request_uri"},
		{"unsupported_token_type", UnsupportedTokenType("x"), CodeUnsupportedTokenType, http.StatusBadRequest, "token_type_hint"},
		{"internal_server_error", InternalServerError("x"), CodeInternalServerError, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
			if tt.err.Parameter != tt.param {
				t.Errorf("Parameter = %q, want %q", tt.err.Parameter, tt.param)
			}
		})
	}
}

func TestFrom(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if From(nil) != nil {
			t.Error("From(nil) should be nil")
		}
	})

	t.Run("wrapped oauth error is preserved", func(t *testing.T) {
		orig := InvalidGrant("code expired")
		got := From(fmt.Errorf("exchange: %w", orig))
		if got != orig {
			t.Errorf("From() = %v, want original error", got)
		}
	})

	t.Run("plain error becomes internal_server_error", func(t *testing.T) {
		cause := errors.New("database unavailable")
		got := From(cause)
		if got.Code != CodeInternalServerError {
			t.Errorf("Code = %q, want %q", got.Code, CodeInternalServerError)
		}
		if got.Params()["error_description"] == cause.Error() {
			t.Error("internal cause leaked into description")
		}
		if !errors.Is(got, cause) {
			t.Error("cause should be reachable through Unwrap")
		}
	})
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidScope("nope"))
	if !Is(err, CodeInvalidScope) {
		t.Error("Is() = false, want true")
	}
	if Is(err, CodeInvalidRequest) {
		t.Error("Is() = true for wrong code")
	}
	if Is(errors.New("x"), CodeInvalidScope) {
		t.Error("Is() = true for non OAuth error")
	}
}

func TestParams(t *testing.T) {
	p := AccessDenied("").Params()
	if _, ok := p["error_description"]; ok {
		t.Error("empty description should be omitted")
	}
	if p["error"] != CodeAccessDenied {
		t.Errorf("error = %q, want %q", p["error"], CodeAccessDenied)
	}
}
