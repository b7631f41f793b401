package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Link, error)
	FindByAccount(ctx context.Context, db *gorm.DB, provider, accountID string) (*Link, error)
	Upsert(ctx context.Context, db *gorm.DB, link *Link) error
	DeleteByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (bool, error)
	ListOrgIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
}
