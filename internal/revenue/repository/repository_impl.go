package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/revenue/domain"
	"github.com/smallbiznis/leakradar/pkg/db"
	"gorm.io/gorm"
)

const issueBatchSize = 200

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) FindSnapshot(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := db.WithContext(ctx).
		Where("org_id = ? AND snapshot_date = ?", orgID, domain.Day(date)).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repository) FindSnapshotsInRange(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time, excludePartial bool) ([]domain.Snapshot, error) {
	query := db.WithContext(ctx).
		Where("org_id = ? AND snapshot_date >= ? AND snapshot_date < ?", orgID, domain.Day(from), domain.Day(to))
	if excludePartial {
		query = query.Where("is_partial = ?", false)
	}

	var snapshots []domain.Snapshot
	if err := query.Order("snapshot_date ASC").Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

// UpsertSnapshot keys on (org_id, snapshot_date). The snapshot keeps the stored id and
// created_at when a row for that day already exists.
func (r *repository) UpsertSnapshot(ctx context.Context, tx *gorm.DB, snapshot *domain.Snapshot) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}
	snapshot.SnapshotDate = domain.Day(snapshot.SnapshotDate)

	existing, err := r.FindSnapshot(ctx, tx, snapshot.OrgID, snapshot.SnapshotDate)
	if err != nil {
		return err
	}
	if existing != nil {
		return r.overwrite(ctx, tx, existing, snapshot)
	}

	// Savepoint so a lost insert race does not poison the outer transaction.
	err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return sp.Create(snapshot).Error
	})
	if err == nil {
		return nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return err
	}

	existing, err = r.FindSnapshot(ctx, tx, snapshot.OrgID, snapshot.SnapshotDate)
	if err != nil {
		return err
	}
	if existing == nil {
		return errors.New("snapshot vanished after duplicate key")
	}
	return r.overwrite(ctx, tx, existing, snapshot)
}

func (r *repository) overwrite(ctx context.Context, tx *gorm.DB, existing, snapshot *domain.Snapshot) error {
	snapshot.ID = existing.ID
	snapshot.CreatedAt = existing.CreatedAt
	snapshot.UpdatedAt = tx.NowFunc()

	return tx.WithContext(ctx).Model(&domain.Snapshot{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"total_revenue_at_risk":   snapshot.TotalRevenueAtRisk,
			"mrr_affected_percentage": snapshot.MRRAffectedPercentage,
			"current_mrr":             snapshot.CurrentMRR,
			"issue_count_by_type":     snapshot.IssueCountByType,
			"source_status":           snapshot.SourceStatus,
			"is_partial":              snapshot.IsPartial,
			"is_truncated":            snapshot.IsTruncated,
			"updated_at":              snapshot.UpdatedAt,
		}).Error
}

func (r *repository) DeleteIssuesForSnapshot(ctx context.Context, db *gorm.DB, snapshotID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("snapshot_id = ?", snapshotID).
		Delete(&domain.Issue{}).Error
}

func (r *repository) CreateIssues(ctx context.Context, db *gorm.DB, issues []domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(issues, issueBatchSize).Error
}

func (r *repository) LatestSnapshot(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("snapshot_date DESC").
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repository) ListIssues(ctx context.Context, db *gorm.DB, snapshotID snowflake.ID, limit, offset int) ([]domain.Issue, error) {
	var issues []domain.Issue
	err := db.WithContext(ctx).
		Where("snapshot_id = ?", snapshotID).
		Order("amount DESC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&issues).Error
	if err != nil {
		return nil, err
	}
	return issues, nil
}

func (r *repository) CountIssues(ctx context.Context, db *gorm.DB, snapshotID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Issue{}).
		Where("snapshot_id = ?", snapshotID).
		Count(&count).Error
	return count, err
}

func (r *repository) DeleteForOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error {
	if err := db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&domain.Issue{}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&domain.Snapshot{}).Error
}
