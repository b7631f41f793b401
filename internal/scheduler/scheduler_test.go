package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/leakradar/internal/clock"
	obsmetrics "github.com/smallbiznis/leakradar/internal/observability/metrics"
	"github.com/smallbiznis/leakradar/internal/revenue/scan"
	"go.uber.org/zap/zaptest"
)

type fakeScanner struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakeScanner) RunDailyScan(ctx context.Context) (scan.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return scan.RunResult{}, err
		}
	}
	return scan.RunResult{RunID: "run", Date: "2026-03-15", OrganizationsProcessed: 2, IssuesFound: 5}, nil
}

func (f *fakeScanner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	sched    *Scheduler
	scanner  *fakeScanner
	clock    *clock.FakeClock
	registry *prometheus.Registry
}

func newHarness(t *testing.T, start time.Time, cfg Config) *harness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	registry := prometheus.NewRegistry()
	scanner := &fakeScanner{}
	clk := clock.NewFakeClock(start)

	sched, err := New(Params{
		Log:     zaptest.NewLogger(t),
		GenID:   node,
		Clock:   clk,
		Scanner: scanner,
		Config:  cfg,
		Metrics: obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "leakradar", Environment: "test"}),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return &harness{sched: sched, scanner: scanner, clock: clk, registry: registry}
}

func TestNewRequiresScanner(t *testing.T) {
	_, err := New(Params{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDailyScanWaitsForScanHour(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 15, 5, 59, 0, 0, time.UTC), Config{ScanHourUTC: 6})

	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := h.scanner.Calls(); got != 0 {
		t.Fatalf("expected no scan before the scan hour, got %d", got)
	}

	h.clock.Advance(time.Minute)
	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := h.scanner.Calls(); got != 1 {
		t.Fatalf("expected one scan at the scan hour, got %d", got)
	}
}

func TestDailyScanRunsOncePerDay(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC), Config{ScanHourUTC: 6})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.sched.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
		h.clock.Advance(15 * time.Minute)
	}
	if got := h.scanner.Calls(); got != 1 {
		t.Fatalf("expected a single scan for the day, got %d", got)
	}

	h.clock.Set(time.Date(2026, 3, 16, 6, 5, 0, 0, time.UTC))
	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := h.scanner.Calls(); got != 2 {
		t.Fatalf("expected the next day to scan again, got %d", got)
	}

	expected := `
# HELP leakradar_scheduler_job_skipped_total Scheduler ticks that did not run a job, by reason.
# TYPE leakradar_scheduler_job_skipped_total counter
leakradar_scheduler_job_skipped_total{env="test",job="daily_revenue_scan",reason="already_ran",service="leakradar"} 2
`
	if err := testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "leakradar_scheduler_job_skipped_total"); err != nil {
		t.Fatalf("unexpected skip metrics: %v", err)
	}
}

func TestFailedScanIsRetriedNextTick(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), Config{})
	h.scanner.errs = []error{errors.New("list organizations: connection refused")}
	ctx := context.Background()

	err := h.sched.RunOnce(ctx)
	if err == nil || !strings.Contains(err.Error(), JobDailyRevenueScan) {
		t.Fatalf("expected wrapped job error, got %v", err)
	}

	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := h.scanner.Calls(); got != 2 {
		t.Fatalf("expected a retry after failure, got %d calls", got)
	}

	expected := `
# HELP leakradar_scheduler_job_errors_total Scheduler job errors by low-cardinality reason.
# TYPE leakradar_scheduler_job_errors_total counter
leakradar_scheduler_job_errors_total{env="test",job="daily_revenue_scan",reason="unknown",service="leakradar"} 1
`
	if err := testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "leakradar_scheduler_job_errors_total"); err != nil {
		t.Fatalf("unexpected error metrics: %v", err)
	}
}

func TestScanHeldByAnotherReplicaCountsAsRan(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), Config{})
	h.scanner.errs = []error{scan.ErrScanInProgress}
	ctx := context.Background()

	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := h.scanner.Calls(); got != 1 {
		t.Fatalf("expected the held day to be skipped afterwards, got %d calls", got)
	}
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), Config{})

	err := h.sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expected := `
# HELP leakradar_scheduler_job_timeouts_total Scheduler job timeouts.
# TYPE leakradar_scheduler_job_timeouts_total counter
leakradar_scheduler_job_timeouts_total{env="test",job="timeout_job",service="leakradar"} 1
`
	if err := testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "leakradar_scheduler_job_timeouts_total"); err != nil {
		t.Fatalf("unexpected timeout metrics: %v", err)
	}
}

func TestDisabledJobDoesNotRun(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), Config{EnabledJobs: []string{"something_else"}})

	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := h.scanner.Calls(); got != 0 {
		t.Fatalf("expected disabled job to be skipped, got %d calls", got)
	}
}

func TestProvideConfigDefaults(t *testing.T) {
	cfg := Config{ScanHourUTC: 30}.withDefaults()
	if cfg.RunInterval != 15*time.Minute || cfg.ScanHourUTC != 6 || cfg.ScanTimeout != 2*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
