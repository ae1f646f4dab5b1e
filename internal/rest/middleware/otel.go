package middleware

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	otelint "github.com/pbinitiative/zenbpm-embedded/internal/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type respWriterWrapper struct {
	http.ResponseWriter

	written     int64
	statusCode  int
	err         error
	wroteHeader bool
}

func (w *respWriterWrapper) Header() http.Header {
	return w.ResponseWriter.Header()
}

func (w *respWriterWrapper) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	w.err = err
	return n, err
}

func (w *respWriterWrapper) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Opentelemetry returns middleware that will trace and meter incoming requests.
// Instruments are read when a request is served, SetupOtel must run before the first one.
func Opentelemetry() func(next http.Handler) http.Handler {
	tracer := otel.GetTracerProvider().Tracer("http-request-middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, "request", trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			r = r.WithContext(ctx)

			rww := &respWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			startTime := time.Now()
			// serve the request to the next middleware and get route pattern
			next.ServeHTTP(rww, r)

			routePattern := "unknown"
			if routeContext := chi.RouteContext(r.Context()); routeContext != nil && routeContext.RoutePattern() != "" {
				routePattern = routeContext.RoutePattern()
			}
			span.SetName(r.Method + " " + routePattern)
			setAfterServeTracing(span, routePattern, rww)
			otelint.Requests.Record(r.Context(), routePattern, r.Method, rww.statusCode, rww.written, time.Since(startTime))
		})
	}
}

func setAfterServeTracing(span trace.Span, routePattern string, rww *respWriterWrapper) {
	attributes := []attribute.KeyValue{
		otelint.RouteKey.String(routePattern),
		otelint.StatusCodeKey.Int(rww.statusCode),
	}
	if rww.written > 0 {
		attributes = append(attributes, otelint.WroteBytesKey.Int64(rww.written))
	}
	if rww.err != nil && rww.err != io.EOF {
		attributes = append(attributes, otelint.WriteErrorKey.String(rww.err.Error()))
	}
	if rww.statusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(rww.statusCode))
	}
	span.SetAttributes(attributes...)
}
