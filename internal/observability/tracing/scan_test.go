package tracing

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/leakradar/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	testTraceID = trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	testSpanID  = trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
)

func TestSamplerKeepsScanRootsAndDropsRequests(t *testing.T) {
	sampler := NewSampler(0, 1)

	cases := []struct {
		name  string
		span  string
		attrs []attribute.KeyValue
		want  sdktrace.SamplingDecision
	}{
		{name: "scan run", span: "revenue.scan.run", want: sdktrace.RecordAndSample},
		{name: "scan organization", span: "revenue.scan.organization", want: sdktrace.RecordAndSample},
		{name: "cron request", span: "POST /api/cron/daily-revenue-check", attrs: []attribute.KeyValue{AttrScanTrigger.String("cron")}, want: sdktrace.RecordAndSample},
		{name: "read request", span: "GET /api/revenue/issues/today", want: sdktrace.Drop},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := sampler.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       testTraceID,
				Name:          tc.span,
				Attributes:    tc.attrs,
			})
			assert.Equal(t, tc.want, res.Decision)
		})
	}
}

func TestSamplerFollowsSampledParent(t *testing.T) {
	sampler := NewSampler(0, 0)
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    testTraceID,
		SpanID:     testSpanID,
		TraceFlags: trace.FlagsSampled,
	}))

	res := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parent,
		TraceID:       testTraceID,
		Name:          "revenue.scan.pass",
	})
	assert.Equal(t, sdktrace.RecordAndSample, res.Decision)
}

func TestContextAttributes(t *testing.T) {
	assert.Empty(t, ContextAttributes(context.Background()))

	ctx := obscontext.WithOrgID(context.Background(), "42")
	ctx = obscontext.WithRunID(ctx, "01JRUN")
	ctx = obscontext.WithActor(ctx, "system", "cron")

	assert.ElementsMatch(t, []attribute.KeyValue{
		AttrOrgID.String("42"),
		AttrRunID.String("01JRUN"),
		AttrActorType.String("system"),
		AttrActorID.String("cron"),
	}, ContextAttributes(ctx))
}
