package tracing

import (
	"context"
	"fmt"
	"strings"

	obscontext "github.com/smallbiznis/leakradar/internal/observability/context"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	// ScanSpanPrefix names every span opened by the revenue scan.
	ScanSpanPrefix = "revenue.scan"

	// AttrScanTrigger marks a request span that starts a scan run.
	AttrScanTrigger = attribute.Key("scan.trigger")

	AttrOrgID     = attribute.Key("org_id")
	AttrRunID     = attribute.Key("scan.run_id")
	AttrActorType = attribute.Key("actor.type")
	AttrActorID   = attribute.Key("actor.id")
)

// NewSampler samples scan root spans at scanRatio and every other root span at ratio. Child spans
// follow their parent.
func NewSampler(ratio, scanRatio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(scanAwareSampler{
		scan:  sdktrace.TraceIDRatioBased(scanRatio),
		other: sdktrace.TraceIDRatioBased(ratio),
	})
}

type scanAwareSampler struct {
	scan  sdktrace.Sampler
	other sdktrace.Sampler
}

func (s scanAwareSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if isScanRoot(p) {
		return s.scan.ShouldSample(p)
	}
	return s.other.ShouldSample(p)
}

func (s scanAwareSampler) Description() string {
	return fmt.Sprintf("ScanAware{scan:%s,other:%s}", s.scan.Description(), s.other.Description())
}

func isScanRoot(p sdktrace.SamplingParameters) bool {
	if strings.HasPrefix(p.Name, ScanSpanPrefix) {
		return true
	}
	for _, attr := range p.Attributes {
		if attr.Key == AttrScanTrigger {
			return true
		}
	}
	return false
}

// ContextAttributes returns the org, run and actor identifiers carried on ctx.
func ContextAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if orgID := obscontext.OrgIDFromContext(ctx); orgID != "" {
		attrs = append(attrs, AttrOrgID.String(orgID))
	}
	if runID := obscontext.RunIDFromContext(ctx); runID != "" {
		attrs = append(attrs, AttrRunID.String(runID))
	}
	if kind, id := obscontext.ActorFromContext(ctx); kind != "" {
		attrs = append(attrs, AttrActorType.String(kind), AttrActorID.String(id))
	}
	return attrs
}
