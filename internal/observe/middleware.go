package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// recordingsPrefix is the path prefix of the recording control routes.
const recordingsPrefix = "/v1/recordings/"

// unmatchedRoute labels requests that no mux pattern served, so that scans
// of random paths cannot grow the metric's label set.
const unmatchedRoute = "unmatched"

// statusRecorder captures the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware wraps the control API, health and metrics mux.
//
// It continues any W3C trace context from the caller, echoes the trace ID as
// X-Correlation-ID and names the request span after the matched route
// pattern (for example "POST /v1/recordings/stop"). Requests to the
// recording routes carry a recording.action span attribute. Durations are
// recorded per route and status code.
//
// Start, stop and failed requests are logged at info or above; health,
// scrape and status polling traffic is logged at debug.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			// The mux fills in Pattern on the request it was handed.
			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			span.SetName("HTTP " + route)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))
			if route != unmatchedRoute {
				span.SetAttributes(semconv.HTTPRoute(routePath(route)))
			}
			action := recordingAction(r.URL.Path)
			if action != "" {
				span.SetAttributes(attribute.String("recording.action", action))
			}

			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("route", route),
					attribute.String("status", strconv.Itoa(rec.statusCode)),
				),
			)

			slog.LogAttrs(ctx, logLevel(action, rec.statusCode), "request completed",
				slog.String("trace_id", cid),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}

// recordingAction returns "start", "stop" or "status" for the recording
// control routes and "" for every other path.
func recordingAction(path string) string {
	action, ok := strings.CutPrefix(path, recordingsPrefix)
	if !ok || strings.Contains(action, "/") {
		return ""
	}
	return action
}

// routePath strips the method from a mux pattern such as "GET /readyz".
func routePath(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

func logLevel(action string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest && status != http.StatusNotFound:
		return slog.LevelWarn
	case action == "start" || action == "stop":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
