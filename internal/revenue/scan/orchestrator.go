// Package scan runs the daily revenue scan across every organization with a linked billing account.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leakradar/internal/archive"
	"github.com/smallbiznis/leakradar/internal/billing"
	"github.com/smallbiznis/leakradar/internal/clock"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/events"
	obscontext "github.com/smallbiznis/leakradar/internal/observability/context"
	"github.com/smallbiznis/leakradar/internal/observability/logger"
	"github.com/smallbiznis/leakradar/internal/observability/metrics"
	"github.com/smallbiznis/leakradar/internal/observability/tracing"
	"github.com/smallbiznis/leakradar/internal/ratelimit"
	"github.com/smallbiznis/leakradar/internal/revenue/aggregator"
	"github.com/smallbiznis/leakradar/internal/revenue/anomaly"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	scanLockTTL       = 2 * time.Hour
	persistTimeout    = 30 * time.Second
	sinkTimeout       = 10 * time.Second
	anomalyWindowDays = 7

	sinkKafka      = "kafka"
	sinkClickHouse = "clickhouse"
)

var (
	ErrScanInProgress = errors.New("scan_in_progress")

	tracer = otel.Tracer("leakradar/revenue")
)

type State string

const (
	StatePending   State = "pending"
	StateScanning  State = "scanning"
	StatePartial   State = "partial"
	StateComplete  State = "complete"
	StatePersisted State = "persisted"
	StateFailed    State = "failed"
)

// ClientResolver lists the organizations to scan and builds their billing clients.
type ClientResolver interface {
	ListLinkedOrganizations(ctx context.Context) ([]snowflake.ID, error)
	ClientFor(ctx context.Context, orgID snowflake.ID) (billing.Client, error)
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Repo      domain.Repository
	Resolver  ClientResolver
	Config    *config.ScanConfigHolder
	Metrics   *metrics.ScanMetrics `optional:"true"`
	OTel      *metrics.Metrics     `optional:"true"`
	Locker    *ratelimit.Locker    `optional:"true"`
	Publisher events.Publisher     `optional:"true"`
	Archiver  archive.Archiver     `optional:"true"`
}

type Orchestrator struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	genID     *snowflake.Node
	repo      domain.Repository
	resolver  ClientResolver
	cfg       *config.ScanConfigHolder
	metrics   *metrics.ScanMetrics
	otel      *metrics.Metrics
	locker    *ratelimit.Locker
	publisher events.Publisher
	archiver  archive.Archiver
}

func NewOrchestrator(p Params) *Orchestrator {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	archiver := p.Archiver
	if archiver == nil {
		archiver = archive.NoopArchiver{}
	}
	return &Orchestrator{
		db:        p.DB,
		log:       log.Named("revenue.scan"),
		clock:     clk,
		genID:     p.GenID,
		repo:      p.Repo,
		resolver:  p.Resolver,
		cfg:       p.Config,
		metrics:   p.Metrics,
		otel:      p.OTel,
		locker:    p.Locker,
		publisher: publisher,
		archiver:  archiver,
	}
}

type RunResult struct {
	RunID                  string `json:"runId"`
	Date                   string `json:"date"`
	OrganizationsProcessed int    `json:"processed"`
	OrganizationsFailed    int    `json:"failed"`
	IssuesFound            int    `json:"totalIssuesFound"`
	DurationMs             int64  `json:"executionTimeMs"`
}

// OrgResult describes one organization's outcome. Err is set only when nothing was persisted.
type OrgResult struct {
	OrgID              snowflake.ID
	SnapshotID         snowflake.ID
	State              State
	Issues             int
	TotalRevenueAtRisk float64
	CurrentMRR         float64
	IsPartial          bool
	IsTruncated        bool
	Err                error
}

// RunDailyScan scans every linked organization for the current UTC day. It only fails as a whole
// when the organization list cannot be loaded or another replica already holds the day's lock.
func (o *Orchestrator) RunDailyScan(ctx context.Context) (RunResult, error) {
	started := time.Now()
	day := domain.Day(o.clock.Now())
	runID := ulid.Make().String()
	ctx = obscontext.WithRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "revenue.scan.run", trace.WithAttributes(tracing.ContextAttributes(ctx)...))
	defer span.End()

	result := RunResult{RunID: runID, Date: day.Format(time.DateOnly)}
	log := logger.WithContext(ctx, o.log).With(zap.String("snapshot_date", result.Date))

	run := func(ctx context.Context) error {
		var err error
		result, err = o.run(ctx, runID, day)
		return err
	}

	var err error
	if o.locker != nil {
		err = o.locker.WithLock(ctx, lockKey(day), scanLockTTL, run)
		if errors.Is(err, ratelimit.ErrLockHeld) {
			log.Warn("scan.run.skipped", zap.String("reason", "lock_held"))
			span.SetAttributes(attribute.Bool("scan.skipped", true))
			return result, ErrScanInProgress
		}
	} else {
		err = run(ctx)
	}

	result.DurationMs = time.Since(started).Milliseconds()
	o.metrics.ObserveRun(time.Since(started))
	span.SetAttributes(
		attribute.Int("scan.organizations_processed", result.OrganizationsProcessed),
		attribute.Int("scan.organizations_failed", result.OrganizationsFailed),
	)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "scan run failed")
		log.Error("scan.run.failed", zap.Error(err), zap.Int64("duration_ms", result.DurationMs))
		return result, err
	}

	log.Info("scan.run.completed",
		zap.Int("organizations_processed", result.OrganizationsProcessed),
		zap.Int("organizations_failed", result.OrganizationsFailed),
		zap.Int("issues_found", result.IssuesFound),
		zap.Int64("duration_ms", result.DurationMs),
	)
	return result, nil
}

func lockKey(day time.Time) string {
	return "leakradar:scan:" + day.Format(time.DateOnly)
}

func (o *Orchestrator) run(ctx context.Context, runID string, day time.Time) (RunResult, error) {
	result := RunResult{RunID: runID, Date: day.Format(time.DateOnly)}

	orgIDs, err := o.resolver.ListLinkedOrganizations(ctx)
	if err != nil {
		return result, fmt.Errorf("list linked organizations: %w", err)
	}

	cfg := o.cfg.Get()
	limit := cfg.Concurrency
	if limit < 1 {
		limit = 1
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(limit)

	logger.WithContext(ctx, o.log).Info("scan.run.started",
		zap.Int("organizations", len(orgIDs)),
		zap.Int("concurrency", limit),
	)

	for _, orgID := range orgIDs {
		g.Go(func() error {
			res := o.scanOrganization(ctx, orgID, day, cfg)
			mu.Lock()
			defer mu.Unlock()
			if res.Err != nil {
				result.OrganizationsFailed++
				return nil
			}
			result.OrganizationsProcessed++
			result.IssuesFound += res.Issues
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

// ScanOrganization scans a single organization for the current UTC day outside the daily run.
func (o *Orchestrator) ScanOrganization(ctx context.Context, orgID snowflake.ID) OrgResult {
	ctx = obscontext.WithRunID(ctx, ulid.Make().String())
	return o.scanOrganization(ctx, orgID, domain.Day(o.clock.Now()), o.cfg.Get())
}

func (o *Orchestrator) scanOrganization(ctx context.Context, orgID snowflake.ID, day time.Time, cfg config.ScanConfig) (res OrgResult) {
	started := time.Now()
	res = OrgResult{OrgID: orgID, State: StatePending}

	ctx = obscontext.WithOrgID(ctx, orgID.String())
	ctx, span := tracer.Start(ctx, "revenue.scan.organization", trace.WithAttributes(tracing.ContextAttributes(ctx)...))
	defer span.End()

	log := logger.WithOrg(logger.WithContext(ctx, o.log), orgID.String())
	o.logState(log, StatePending)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("scan panicked: %v", r)
			log.Error("scan.org.panic", zap.Any("panic", r), zap.Stack("stack"))
		}
		if res.Err != nil {
			res.State = StateFailed
			span.RecordError(tracing.SafeError(res.Err))
			span.SetStatus(codes.Error, "scan failed")
			o.logState(log, StateFailed, zap.Error(res.Err))
			o.metrics.IncOrganization(metrics.ScanOutcomeFailed)
		}
		o.metrics.ObserveOrganization(time.Since(started))
	}()

	client, err := o.resolver.ClientFor(ctx, orgID)
	if err != nil {
		res.Err = fmt.Errorf("resolve billing client: %w", err)
		return res
	}

	res.State = StateScanning
	o.logState(log, StateScanning)

	scanCtx := ctx
	if cfg.OrgTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, cfg.OrgTimeout)
		defer cancel()
	}

	collected := aggregator.New(aggregator.Options{
		Log:     o.log,
		Clock:   o.clock,
		Config:  cfg,
		Metrics: o.metrics,
	}).Collect(scanCtx, client)

	issues := collected.Issues
	anomalyIssue, err := o.detectAnomaly(ctx, orgID, day, collected.CurrentMRR, cfg)
	if err != nil {
		log.Warn("scan.anomaly.skipped", zap.Error(err))
	} else if anomalyIssue != nil {
		issues = append(issues, *anomalyIssue)
	}

	res.State = StateComplete
	if collected.IsPartial() {
		res.State = StatePartial
	}
	o.logState(log, res.State, zap.Int("issues", len(issues)), zap.Any("sources", collected.Sources))

	snapshot := o.buildSnapshot(orgID, day, issues, collected)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := o.persist(persistCtx, &snapshot, issues); err != nil {
		res.Err = fmt.Errorf("persist snapshot: %w", err)
		return res
	}

	res.State = StatePersisted
	res.SnapshotID = snapshot.ID
	res.Issues = len(issues)
	res.TotalRevenueAtRisk = snapshot.TotalRevenueAtRisk
	res.CurrentMRR = snapshot.CurrentMRR
	res.IsPartial = snapshot.IsPartial
	res.IsTruncated = snapshot.IsTruncated
	o.logState(log, StatePersisted,
		zap.String("snapshot_id", snapshot.ID.String()),
		zap.Float64("total_revenue_at_risk", snapshot.TotalRevenueAtRisk),
		zap.Float64("current_mrr", snapshot.CurrentMRR),
		zap.Bool("is_partial", snapshot.IsPartial),
	)

	outcome := metrics.ScanOutcomeComplete
	if snapshot.IsPartial {
		outcome = metrics.ScanOutcomePartial
	}
	o.metrics.IncOrganization(outcome)
	for issueType, count := range snapshot.IssueCountByType.Data() {
		o.metrics.AddIssues(string(issueType), count)
		o.otel.RecordIssuesDetected(ctx, string(issueType), count)
	}

	o.emit(persistCtx, log, snapshot, issues)
	return res
}

func (o *Orchestrator) logState(log *zap.Logger, state State, fields ...zap.Field) {
	log.Info("scan.org.state", append([]zap.Field{zap.String("state", string(state))}, fields...)...)
}

// detectAnomaly compares today's MRR with yesterday's snapshot and the last week of complete ones.
func (o *Orchestrator) detectAnomaly(ctx context.Context, orgID snowflake.ID, day time.Time, currentMRR float64, cfg config.ScanConfig) (*domain.Issue, error) {
	yesterday, err := o.repo.FindSnapshot(ctx, o.db, orgID, day.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("load yesterday snapshot: %w", err)
	}
	history, err := o.repo.FindSnapshotsInRange(ctx, o.db, orgID, day.AddDate(0, 0, -anomalyWindowDays), day, true)
	if err != nil {
		return nil, fmt.Errorf("load snapshot history: %w", err)
	}

	in := anomaly.Input{
		CurrentMRR:   currentMRR,
		DetectedAt:   o.clock.Now().UTC(),
		ThresholdPct: cfg.AnomalyThresholdPct,
	}
	if yesterday != nil && !yesterday.IsPartial {
		b := anomaly.BaselineFrom(*yesterday)
		in.Yesterday = &b
	}
	for _, s := range history {
		in.History = append(in.History, anomaly.BaselineFrom(s))
	}
	return anomaly.Detect(in)
}

func (o *Orchestrator) buildSnapshot(orgID snowflake.ID, day time.Time, issues []domain.Issue, collected aggregator.Result) domain.Snapshot {
	totals := Summarize(issues, collected.CurrentMRR)
	return domain.Snapshot{
		ID:                    o.genID.Generate(),
		OrgID:                 orgID,
		SnapshotDate:          day,
		TotalRevenueAtRisk:    totals.TotalRevenueAtRisk,
		MRRAffectedPercentage: totals.MRRAffectedPercentage,
		CurrentMRR:            totals.CurrentMRR,
		IssueCountByType:      datatypes.NewJSONType(totals.CountByType),
		SourceStatus:          datatypes.NewJSONType(collected.Sources),
		IsPartial:             collected.IsPartial(),
		IsTruncated:           collected.IsTruncated(),
	}
}

// persist writes the snapshot and replaces its issues atomically so readers never observe a half
// replaced issue set.
func (o *Orchestrator) persist(ctx context.Context, snapshot *domain.Snapshot, issues []domain.Issue) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.repo.UpsertSnapshot(ctx, tx, snapshot); err != nil {
			return err
		}
		if err := o.repo.DeleteIssuesForSnapshot(ctx, tx, snapshot.ID); err != nil {
			return err
		}
		for i := range issues {
			issues[i].Assign(o.genID.Generate(), snapshot.ID, snapshot.OrgID)
		}
		return o.repo.CreateIssues(ctx, tx, issues)
	})
}

func (o *Orchestrator) emit(ctx context.Context, log *zap.Logger, snapshot domain.Snapshot, issues []domain.Issue) {
	sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	event := events.NewScanCompleted(obscontext.RunIDFromContext(ctx), snapshot, issues, o.clock.Now())
	if err := o.publisher.PublishScanCompleted(sinkCtx, event); err != nil {
		log.Warn("scan.sink.failed", zap.String("sink", sinkKafka), zap.Error(err))
		o.metrics.IncSinkFailure(sinkKafka)
	}
	if err := o.archiver.ArchiveSnapshot(sinkCtx, snapshot, issues); err != nil {
		log.Warn("scan.sink.failed", zap.String("sink", sinkClickHouse), zap.Error(err))
		o.metrics.IncSinkFailure(sinkClickHouse)
	}
}

type Totals struct {
	TotalRevenueAtRisk    float64
	MRRAffectedPercentage float64
	CurrentMRR            float64
	CountByType           domain.IssueCounts
}

// Summarize derives the snapshot totals from its issues. The percentage is zero when MRR is zero.
func Summarize(issues []domain.Issue, currentMRR float64) Totals {
	counts := make(domain.IssueCounts, len(domain.IssueTypes))
	for _, t := range domain.IssueTypes {
		counts[t] = 0
	}

	risk := decimal.Zero
	for _, issue := range issues {
		risk = risk.Add(decimal.NewFromFloat(issue.Amount))
		counts[issue.Type]++
	}
	risk = risk.Round(2)

	mrr := decimal.NewFromFloat(currentMRR).Round(2)
	pct := decimal.Zero
	if mrr.IsPositive() {
		pct = risk.Div(mrr).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return Totals{
		TotalRevenueAtRisk:    risk.InexactFloat64(),
		MRRAffectedPercentage: pct.InexactFloat64(),
		CurrentMRR:            mrr.InexactFloat64(),
		CountByType:           counts,
	}
}

var Module = fx.Module("revenue.scan",
	fx.Provide(NewOrchestrator),
)
