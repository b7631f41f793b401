package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/clock"
	obsmetrics "github.com/smallbiznis/leakradar/internal/observability/metrics"
	"github.com/smallbiznis/leakradar/internal/revenue/scan"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Scanner runs one daily revenue scan across all linked organizations.
type Scanner interface {
	RunDailyScan(ctx context.Context) (scan.RunResult, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Scanner Scanner
	Config  Config                       `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	scanner Scanner
	metrics *obsmetrics.SchedulerMetrics

	mu          sync.Mutex
	lastScanDay string
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Scanner == nil {
		return nil, ErrInvalidConfig
	}
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		scanner: p.Scanner,
		metrics: m,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		// Soft timeout: the next tick retries the day.
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobDailyRevenueScan, s.isJobEnabled(JobDailyRevenueScan), s.DailyRevenueScanJob},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty means every job runs.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// DailyRevenueScanJob runs the scan at most once per UTC day, on the first tick at or after
// the configured hour. A failed day is retried on the next tick.
func (s *Scheduler) DailyRevenueScanJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	day := now.Format(time.DateOnly)

	if now.Hour() < s.cfg.ScanHourUTC {
		s.metrics.IncJobSkipped(JobDailyRevenueScan, obsmetrics.SchedulerSkipReasonNotDue)
		return nil
	}
	if s.ranOn(day) {
		s.metrics.IncJobSkipped(JobDailyRevenueScan, obsmetrics.SchedulerSkipReasonAlreadyRan)
		return nil
	}

	return s.runJob(ctx, JobDailyRevenueScan, s.cfg.ScanTimeout, func(ctx context.Context) error {
		run := jobRunFromContext(ctx)
		result, err := s.scanner.RunDailyScan(ctx)
		if errors.Is(err, scan.ErrScanInProgress) {
			s.metrics.IncJobSkipped(JobDailyRevenueScan, obsmetrics.SchedulerSkipReasonLockHeld)
			s.logger(ctx).Info("scheduler.scan.skipped", zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld))
			s.markRan(day)
			return nil
		}
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.scan.failed", JobDailyRevenueScan, err)
			return err
		}

		run.AddProcessed(result.OrganizationsProcessed)
		for i := 0; i < result.OrganizationsFailed; i++ {
			run.IncError()
		}
		s.markRan(day)
		s.logger(ctx).Info("scheduler.scan.completed",
			zap.String("scan_run_id", result.RunID),
			zap.String("date", result.Date),
			zap.Int("organizations_processed", result.OrganizationsProcessed),
			zap.Int("organizations_failed", result.OrganizationsFailed),
			zap.Int("issues_found", result.IssuesFound),
			zap.Int64("duration_ms", result.DurationMs),
		)
		return nil
	})
}

func (s *Scheduler) ranOn(day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScanDay == day
}

func (s *Scheduler) markRan(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScanDay = day
}
