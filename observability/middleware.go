package observability

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware records a span and request metrics. route labels the
// request; nil uses the URL path.
func HTTPMiddleware(tracer trace.Tracer, rec Recorder, route func(r *http.Request) string) func(http.Handler) http.Handler {
	if rec == nil {
		rec = NoopRecorder{}
	}

	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := r.Context()

			var span trace.Span
			if tracer != nil {
				ctx, span = tracer.Start(ctx, "http.request",
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						attribute.String("http.method", r.Method),
						attribute.String("http.path", r.URL.Path),
					),
				)
				defer span.End()
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(ctx)

			next.ServeHTTP(wrapped, r)

			if span != nil {
				span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
				if wrapped.statusCode >= 500 {
					span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
				}
			}

			rec.RecordHTTPRequest(ctx, r.Method, route(r), wrapped.statusCode, time.Since(start))
		})
	}
}

// responseWriter captures the status code and keeps streaming working.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
