package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository methods take the handle to run against so callers can share a transaction.
type Repository interface {
	FindSnapshot(ctx context.Context, db *gorm.DB, orgID snowflake.ID, date time.Time) (*Snapshot, error)
	// FindSnapshotsInRange returns snapshots with from <= date < to, oldest first.
	FindSnapshotsInRange(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time, excludePartial bool) ([]Snapshot, error)
	UpsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *Snapshot) error
	DeleteIssuesForSnapshot(ctx context.Context, db *gorm.DB, snapshotID snowflake.ID) error
	CreateIssues(ctx context.Context, db *gorm.DB, issues []Issue) error

	LatestSnapshot(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Snapshot, error)
	ListIssues(ctx context.Context, db *gorm.DB, snapshotID snowflake.ID, limit, offset int) ([]Issue, error)
	CountIssues(ctx context.Context, db *gorm.DB, snapshotID snowflake.ID) (int64, error)
	DeleteForOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error
}
