package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

const (
	// DefaultFetchTimeout bounds a single outbound fetch.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultFetchMaxBodyBytes bounds the size of a fetched document.
	DefaultFetchMaxBodyBytes int64 = 64 << 10
)

// ErrFetchBlocked is returned when the SSRF guard refuses a destination.
var ErrFetchBlocked = errors.New("destination address is not allowed")

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// Timeout bounds the whole request including reading the body.
	// Default: 5s
	Timeout time.Duration

	// MaxBodyBytes bounds the response body. Larger bodies fail.
	// Default: 64 KiB
	MaxBodyBytes int64

	// AllowPrivateNetworks disables the SSRF guard. Only for tests and
	// closed deployments.
	AllowPrivateNetworks bool

	// AllowHTTP permits plain http URLs.
	AllowHTTP bool

	// UserAgent sent with every request.
	UserAgent string
}

// Fetcher performs the synchronous outbound GETs needed for request_uri
// and jwks_uri resolution.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
}

// NewFetcher creates a Fetcher. Redirects are never followed.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultFetchMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "oauth-engine"
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if !cfg.AllowPrivateNetworks {
		dialer.Control = guardDestination
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch GETs rawURL and returns the body of a 200 response.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, accept string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && f.cfg.AllowHTTP:
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrFetchBlocked, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL must have a host")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned HTTP %d", u.Redacted(), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", f.cfg.MaxBodyBytes)
	}
	return body, nil
}

// guardDestination runs after DNS resolution, on the address actually being
// dialled, so rebinding a public name to an internal address is caught too.
func guardDestination(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: %s", ErrFetchBlocked, host)
	}
	if !IsPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrFetchBlocked, ip)
	}
	return nil
}

// IsPublicIP reports whether ip is routable on the public internet, i.e. not
// loopback, private, link-local, multicast or unspecified.
func IsPublicIP(ip net.IP) bool {
	switch {
	case ip == nil,
		ip.IsUnspecified(),
		ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast():
		return false
	}
	return true
}
