package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var attrKind = attribute.Key("kind")

// Metrics holds the metric instruments. All Record methods are nil-safe so
// components built without instrumentation can call them unconditionally.
type Metrics struct {
	AuthorizationRequests metric.Int64Counter
	RequestObjectsLoaded  metric.Int64Counter

	TokensIssued       metric.Int64Counter
	TokenErrors        metric.Int64Counter
	TokensRevoked      metric.Int64Counter
	TokensIntrospected metric.Int64Counter
	ClientAuthFailures metric.Int64Counter

	CodeReuseDetected    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter

	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

type counterSpec struct {
	dst  *metric.Int64Counter
	name string
	desc string
	unit string
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.AuthorizationRequests, "oauth.authorization.requests", "Authorization requests processed", "{request}"},
		{&m.RequestObjectsLoaded, "oauth.request_object.loaded", "Request objects loaded by value or reference", "{object}"},
		{&m.TokensIssued, "oauth.token.issued", "Access tokens issued at the token endpoint", "{token}"},
		{&m.TokenErrors, "oauth.token.errors", "Token endpoint requests that failed", "{error}"},
		{&m.TokensRevoked, "oauth.token.revoked", "Tokens revoked", "{token}"},
		{&m.TokensIntrospected, "oauth.token.introspected", "Tokens introspected", "{token}"},
		{&m.ClientAuthFailures, "oauth.client_auth.failures", "Client authentication failures", "{failure}"},
		{&m.CodeReuseDetected, "oauth.code.reuse_detected", "Authorization code reuse attempts detected", "{attempt}"},
		{&m.PKCEValidationFailed, "oauth.pkce.validation_failed", "PKCE validation failures", "{failure}"},
		{&m.RateLimitExceeded, "oauth.rate_limit.exceeded", "Rate limit violations", "{violation}"},
		{&m.StorageOperationTotal, "storage.operation.total", "Total number of storage operations", "{operation}"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.StorageOperationDuration, err = meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// RecordAuthorizationRequest records the outcome of an authorization request
// ("issued", "login", "consent", "denied", "error").
func (m *Metrics) RecordAuthorizationRequest(ctx context.Context, responseType, outcome string) {
	if m == nil {
		return
	}
	m.AuthorizationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("response_type", responseType),
		attribute.String("outcome", outcome),
	))
}

// RecordRequestObjectLoaded records a request object loaded from "value" or "reference".
func (m *Metrics) RecordRequestObjectLoaded(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.RequestObjectsLoaded.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordTokenIssued records a successful token endpoint response
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string, withRefresh bool) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.Bool("refresh_token", withRefresh),
	))
}

// RecordTokenError records a failed token endpoint request
func (m *Metrics) RecordTokenError(ctx context.Context, grantType, code string) {
	if m == nil {
		return
	}
	m.TokenErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("error", code),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, tokenType string) {
	if m == nil {
		return
	}
	m.TokensRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("token_type", tokenType)))
}

// RecordIntrospection records an introspection result
func (m *Metrics) RecordIntrospection(ctx context.Context, active bool) {
	if m == nil {
		return
	}
	m.TokensIntrospected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}

// RecordClientAuthFailure records a failed client authentication
func (m *Metrics) RecordClientAuthFailure(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.ClientAuthFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter_type", limiterType)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
