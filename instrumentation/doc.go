// Package instrumentation provides OpenTelemetry tracing and metrics for the
// authorization server.
//
// When Enabled is false every provider is a no-op. When Enabled is true and no
// providers are supplied, an SDK tracer provider is created with the service
// resource; a meter provider must be supplied by the application (for
// example one backed by a Prometheus or OTLP exporter), otherwise metrics are
// no-ops.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "oauth-engine",
//		ServiceVersion: version,
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
// # Metrics
//
// Authorization endpoint:
//   - oauth.authorization.requests{response_type, outcome}
//   - oauth.request_object.loaded{source}
//
// Token endpoint:
//   - oauth.token.issued{grant_type}
//   - oauth.token.errors{grant_type, error}
//   - oauth.token.revoked{token_type}
//   - oauth.token.introspected{active}
//   - oauth.client_auth.failures{method}
//
// Security:
//   - oauth.code.reuse_detected
//   - oauth.pkce.validation_failed{method}
//   - oauth.rate_limit.exceeded{limiter_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.size{kind} (observable)
//
// Span attributes never carry credential values; see the Attr constants.
package instrumentation
