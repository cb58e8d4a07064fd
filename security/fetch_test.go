package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("eyJhbGciOiJub25lIn0.e30."))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("a", 2048)))
		case "/redirect":
			http.Redirect(w, r, "/ok", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{AllowPrivateNetworks: true, AllowHTTP: true, MaxBodyBytes: 1024, Timeout: time.Second})

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "ok", path: "/ok"},
		{name: "body too large", path: "/big", wantErr: true},
		{name: "redirect not followed", path: "/redirect", wantErr: true},
		{name: "not found", path: "/missing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := f.Fetch(context.Background(), srv.URL+tt.path, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(body) == 0 {
				t.Error("empty body")
			}
		})
	}
}

func TestFetcher_BlocksPrivateDestinations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secret"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{AllowHTTP: true})
	_, err := f.Fetch(context.Background(), srv.URL, "")
	if !errors.Is(err, ErrFetchBlocked) {
		t.Errorf("Fetch() error = %v, want ErrFetchBlocked", err)
	}
}

func TestFetcher_RejectsPlainHTTPByDefault(t *testing.T) {
	f := NewFetcher(FetcherConfig{})
	_, err := f.Fetch(context.Background(), "http://example.com/request.jwt", "")
	if !errors.Is(err, ErrFetchBlocked) {
		t.Errorf("Fetch() error = %v, want ErrFetchBlocked", err)
	}
}
