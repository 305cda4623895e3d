package api

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// withTracing starts a server span per request, continuing a trace the
// client propagated in its headers.
func (s *Server) withTracing(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.target", r.URL.Path),
		)
		span.SetAttributes(pathAttributes(r.URL.Path)...)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
		}
	})
}

// pathAttributes tags spans with the session, slot and export kind a
// request addresses.
func pathAttributes(path string) []attribute.KeyValue {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return nil
	}

	var attrs []attribute.KeyValue
	switch parts[1] {
	case "sessions":
		attrs = append(attrs, attribute.String("pixelframe.session_id", parts[2]))
		if len(parts) >= 5 && parts[3] == "slots" {
			attrs = append(attrs, attribute.String("pixelframe.slot", parts[4]))
		}
		if len(parts) >= 5 && parts[3] == "export" {
			attrs = append(attrs, attribute.String("pixelframe.kind", parts[4]))
		}
	case "jobs":
		attrs = append(attrs, attribute.String("pixelframe.job_id", parts[2]))
	}
	return attrs
}
