package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("issue_type", "chargeback"),
		attribute.String("customer_email", "a@example.com"),
		attribute.String("org_id", "123"),
		attribute.String("reason", "rate_limited"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "customer_email" || attr.Key == "org_id" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordIssuesDetected(context.Background(), "chargeback", 2)
	m.RecordRateLimitDenied(context.Background(), "/api/cron/daily-revenue-check", "rate")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "leakradar"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordEventPublished(context.Background(), "revenue.scan.completed", "ok")
}
