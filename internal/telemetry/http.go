package telemetry

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// WithHTTPRoute tags the current span with the matched ServeMux pattern and renames it
// after the pattern. otelhttp wraps the mux, so it never sees the route itself.
func WithHTTPRoute(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Pattern != "" {
			span := oteltrace.SpanFromContext(r.Context())
			span.SetName(r.Pattern)
			span.SetAttributes(semconv.HTTPRoute(r.Pattern))
		}
		h(w, r)
	}
}

// InstrumentHandler starts a server span per request under the fixed name service.
// Routed handlers rename it through WithHTTPRoute; unmatched requests keep the fixed name.
func InstrumentHandler(h http.Handler, service string, opts ...otelhttp.Option) http.Handler {
	return otelhttp.NewHandler(h, service, opts...)
}

// NewHTTPClient returns a client that propagates trace context to downstream services.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
