package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/billinglink/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Link, error) {
	var link domain.Link
	err := db.WithContext(ctx).Where("org_id = ?", orgID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *repo) FindByAccount(ctx context.Context, db *gorm.DB, provider, accountID string) (*domain.Link, error) {
	var link domain.Link
	err := db.WithContext(ctx).
		Where("provider = ? AND account_id = ?", provider, accountID).
		Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, link *domain.Link) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"mode",
			"credential_ciphertext",
			"account_id",
			"account_name",
			"key_last4",
			"connected_at",
			"updated_at",
		}),
	}).Create(link).Error
}

func (r *repo) DeleteByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&domain.Link{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListOrgIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Link{}).
		Order("org_id ASC").
		Pluck("org_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
