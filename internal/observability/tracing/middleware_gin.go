package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/leakradar/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const cronRoutePrefix = "/api/cron/"

// GinMiddleware opens a server span per request. Routes listed in untraced are served without a
// span. Cron routes are tagged as scan triggers so they sample like scan runs.
func GinMiddleware(untraced ...string) gin.HandlerFunc {
	tracer := otel.Tracer("leakradar/http")
	skip := make(map[string]struct{}, len(untraced))
	for _, route := range untraced {
		skip[strings.TrimSpace(route)] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := skip[route]; ok {
			c.Next()
			return
		}
		if route == "" {
			route = "unmatched"
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		startAttrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		}
		if strings.HasPrefix(route, cronRoutePrefix) {
			startAttrs = append(startAttrs, AttrScanTrigger.String("cron"))
		}
		ctx, span := tracer.Start(ctx, strings.ToUpper(c.Request.Method)+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(startAttrs...),
		)
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withBaggage(ctx, "request_id", requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		// Org and actor are resolved by handlers further down the chain.
		span.SetAttributes(ContextAttributes(c.Request.Context())...)
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func withBaggage(ctx context.Context, key, value string) context.Context {
	member, err := baggage.NewMember(key, value)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
