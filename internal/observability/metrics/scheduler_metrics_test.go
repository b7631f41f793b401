package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected pg errors to be retryable")
	}
	if IsSchedulerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found to be terminal")
	}
}

func TestSchedulerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "leakradar", Environment: "test"})

	m.IncJobRun("daily_revenue_scan")
	m.IncJobSkipped("daily_revenue_scan", SchedulerSkipReasonAlreadyRan)
	m.IncJobError("daily_revenue_scan", context.DeadlineExceeded)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("daily_revenue_scan")); got != 1 {
		t.Fatalf("expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobSkipped.WithLabelValues("daily_revenue_scan", SchedulerSkipReasonAlreadyRan)); got != 1 {
		t.Fatalf("expected 1 skip, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("daily_revenue_scan", SchedulerJobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 deadline error, got %v", got)
	}
}

func TestScanMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewScanMetrics(registry, Config{Environment: "test"})

	m.IncOrganization(ScanOutcomePartial)
	m.IncSourceFailure("expiring_cards", "rate_limited")
	m.AddIssues("chargeback", 3)
	m.AddIssues("chargeback", 0)

	if got := testutil.ToFloat64(m.orgs.WithLabelValues(ScanOutcomePartial)); got != 1 {
		t.Fatalf("expected 1 partial org, got %v", got)
	}
	if got := testutil.ToFloat64(m.sourceFailures.WithLabelValues("expiring_cards", "rate_limited")); got != 1 {
		t.Fatalf("expected 1 source failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.issues.WithLabelValues("chargeback")); got != 3 {
		t.Fatalf("expected 3 chargeback issues, got %v", got)
	}
}
