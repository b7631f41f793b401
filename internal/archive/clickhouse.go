// Package archive copies committed snapshots and issues into ClickHouse for long-range analytics.
package archive

import (
	"context"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	insertSnapshot = `INSERT INTO revenue_snapshots_archive
		(snapshot_id, org_id, snapshot_date, total_revenue_at_risk, mrr_affected_percentage, current_mrr, issue_count, is_partial, is_truncated, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertIssue = `INSERT INTO revenue_issues_archive
		(issue_id, snapshot_id, org_id, snapshot_date, type, priority, amount, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

type Archiver interface {
	ArchiveSnapshot(ctx context.Context, snapshot domain.Snapshot, issues []domain.Issue) error
}

type NoopArchiver struct{}

func (NoopArchiver) ArchiveSnapshot(context.Context, domain.Snapshot, []domain.Issue) error { return nil }

type Opts struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func Connect(opts Opts) (*sqlx.DB, error) {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	db, err := sqlx.Open("clickhouse", opts.DSN)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ClickHouseArchiver writes one batch per snapshot. ClickHouse tables are append-only, so a re-run
// of the same day adds rows; readers deduplicate on snapshot_id with the latest archived_at.
type ClickHouseArchiver struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewClickHouseArchiver(db *sqlx.DB) *ClickHouseArchiver {
	return &ClickHouseArchiver{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type snapshotRow struct {
	SnapshotID            uint64
	OrgID                 uint64
	SnapshotDate          time.Time
	TotalRevenueAtRisk    float64
	MRRAffectedPercentage float64
	CurrentMRR            float64
	IssueCount            uint32
	IsPartial             uint8
	IsTruncated           uint8
	ArchivedAt            time.Time
}

type issueRow struct {
	IssueID      uint64
	SnapshotID   uint64
	OrgID        uint64
	SnapshotDate time.Time
	Type         string
	Priority     string
	Amount       float64
	DetectedAt   time.Time
}

func toRows(snapshot domain.Snapshot, issues []domain.Issue, archivedAt time.Time) (snapshotRow, []issueRow) {
	s := snapshotRow{
		SnapshotID:            uint64(snapshot.ID.Int64()),
		OrgID:                 uint64(snapshot.OrgID.Int64()),
		SnapshotDate:          domain.Day(snapshot.SnapshotDate),
		TotalRevenueAtRisk:    snapshot.TotalRevenueAtRisk,
		MRRAffectedPercentage: snapshot.MRRAffectedPercentage,
		CurrentMRR:            snapshot.CurrentMRR,
		IssueCount:            uint32(len(issues)),
		IsPartial:             boolToUInt8(snapshot.IsPartial),
		IsTruncated:           boolToUInt8(snapshot.IsTruncated),
		ArchivedAt:            archivedAt,
	}
	rows := make([]issueRow, 0, len(issues))
	for _, issue := range issues {
		rows = append(rows, issueRow{
			IssueID:      uint64(issue.ID.Int64()),
			SnapshotID:   s.SnapshotID,
			OrgID:        s.OrgID,
			SnapshotDate: s.SnapshotDate,
			Type:         string(issue.Type),
			Priority:     string(issue.Priority),
			Amount:       issue.Amount,
			DetectedAt:   issue.DetectedAt.UTC(),
		})
	}
	return s, rows
}

func (a *ClickHouseArchiver) ArchiveSnapshot(ctx context.Context, snapshot domain.Snapshot, issues []domain.Issue) error {
	s, rows := toRows(snapshot, issues, a.now())

	if _, err := a.db.ExecContext(ctx, insertSnapshot,
		s.SnapshotID, s.OrgID, s.SnapshotDate, s.TotalRevenueAtRisk, s.MRRAffectedPercentage,
		s.CurrentMRR, s.IssueCount, s.IsPartial, s.IsTruncated, s.ArchivedAt,
	); err != nil {
		return fmt.Errorf("archive snapshot %d: %w", s.SnapshotID, err)
	}
	if len(rows) == 0 {
		return nil
	}

	// clickhouse-go sends a prepared insert inside a transaction as one block.
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, insertIssue)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.IssueID, r.SnapshotID, r.OrgID, r.SnapshotDate, r.Type, r.Priority, r.Amount, r.DetectedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("archive issue %d: %w", r.IssueID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive issues for snapshot %d: %w", s.SnapshotID, err)
	}
	return nil
}

// DailyTotal is one row of the long-range risk trend.
type DailyTotal struct {
	SnapshotDate       time.Time `db:"snapshot_date"`
	TotalRevenueAtRisk float64   `db:"total_revenue_at_risk"`
	CurrentMRR         float64   `db:"current_mrr"`
}

// Trend reads the latest archived total per day for one organization.
func (a *ClickHouseArchiver) Trend(ctx context.Context, orgID uint64, from, to time.Time) ([]DailyTotal, error) {
	const q = `
		SELECT snapshot_date,
		       argMax(total_revenue_at_risk, archived_at) AS total_revenue_at_risk,
		       argMax(current_mrr, archived_at) AS current_mrr
		FROM revenue_snapshots_archive
		WHERE org_id = ? AND snapshot_date >= ? AND snapshot_date < ?
		GROUP BY snapshot_date
		ORDER BY snapshot_date ASC`
	var out []DailyTotal
	if err := a.db.SelectContext(ctx, &out, q, orgID, domain.Day(from), domain.Day(to)); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToUInt8(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// NewArchiver connects to ClickHouse when a DSN is configured. A failed connection falls back to
// the no-op archiver so the scan is never blocked on analytics.
func NewArchiver(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Archiver {
	if !cfg.ClickHouse.Enabled() {
		log.Info("clickhouse disabled; snapshots are not archived")
		return NoopArchiver{}
	}
	db, err := Connect(Opts{DSN: cfg.ClickHouse.DSN, MaxOpenConns: cfg.ClickHouse.MaxOpenConns})
	if err != nil {
		log.Warn("clickhouse unavailable; snapshots are not archived", zap.Error(err))
		return NoopArchiver{}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return NewClickHouseArchiver(db)
}

var Module = fx.Module("archive",
	fx.Provide(NewArchiver),
)
