package telemetry

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Middleware opens a server span per request, continuing any incoming trace
// context, and records request count and duration by route.
func Middleware() echo.MiddlewareFunc {
	meter := otel.Meter(InstrumentationName)
	count, _ := meter.Int64Counter("http.server.request.count")
	duration, _ := meter.Float64Histogram("http.server.request.duration", metric.WithUnit("ms"))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := otel.Tracer(InstrumentationName).Start(ctx, req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			attrs := metric.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			count.Add(ctx, 1, attrs)
			duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
			return err
		}
	}
}
