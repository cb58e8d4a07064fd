package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "no upstream id", incoming: "", keep: false},
		{name: "valid upstream id", incoming: "req-123_abc", keep: true},
		{name: "header injection attempt", incoming: "abc\r\nX-Evil: 1", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest("GET", "/", nil)
			if tt.incoming != "" {
				r.Header[RequestIDHeader] = []string{tt.incoming}
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if seen == "" {
				t.Fatal("request ID missing from context")
			}
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header = %q, context = %q", got, seen)
			}
			if (seen == tt.incoming) != tt.keep {
				t.Errorf("kept upstream id = %v, want %v", seen == tt.incoming, tt.keep)
			}
		})
	}
}
