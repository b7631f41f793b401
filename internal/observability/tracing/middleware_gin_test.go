package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/leakradar/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedEngine(t *testing.T) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	r := gin.New()
	r.Use(GinMiddleware("/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/revenue/snapshot/latest", func(c *gin.Context) {
		ctx := obscontext.WithOrgID(c.Request.Context(), "1001")
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})
	r.POST("/api/cron/daily-revenue-check", func(c *gin.Context) {
		ctx := obscontext.WithActor(c.Request.Context(), "system", "cron")
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})
	return r, recorder
}

func spanAttr(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, attr := range attrs {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestGinMiddlewareSkipsUntracedRoutes(t *testing.T) {
	r, recorder := newTracedEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, recorder.Ended())
}

func TestGinMiddlewareTagsOrganization(t *testing.T) {
	r, recorder := newTracedEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/revenue/snapshot/latest", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/revenue/snapshot/latest", spans[0].Name())
	org, ok := spanAttr(spans[0].Attributes(), AttrOrgID)
	require.True(t, ok)
	assert.Equal(t, "1001", org.AsString())
	_, isTrigger := spanAttr(spans[0].Attributes(), AttrScanTrigger)
	assert.False(t, isTrigger)
}

func TestGinMiddlewareMarksCronAsScanTrigger(t *testing.T) {
	r, recorder := newTracedEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cron/daily-revenue-check", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	trigger, ok := spanAttr(spans[0].Attributes(), AttrScanTrigger)
	require.True(t, ok)
	assert.Equal(t, "cron", trigger.AsString())
	actor, ok := spanAttr(spans[0].Attributes(), AttrActorID)
	require.True(t, ok)
	assert.Equal(t, "cron", actor.AsString())
}
