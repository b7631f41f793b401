package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/billing"
	"github.com/smallbiznis/leakradar/internal/billinglink/domain"
	"github.com/smallbiznis/leakradar/internal/secret"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolver turns stored links into live billing clients for background jobs.
type Resolver struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	factory billing.Factory
	cipher  *secret.Cipher
}

func NewResolver(db *gorm.DB, log *zap.Logger, repo domain.Repository, factory billing.Factory, cipher *secret.Cipher) *Resolver {
	return &Resolver{
		db:      db,
		log:     log.Named("billinglink.resolver"),
		repo:    repo,
		factory: factory,
		cipher:  cipher,
	}
}

func (r *Resolver) ListLinkedOrganizations(ctx context.Context) ([]snowflake.ID, error) {
	return r.repo.ListOrgIDs(ctx, r.db)
}

func (r *Resolver) ClientFor(ctx context.Context, orgID snowflake.ID) (billing.Client, error) {
	link, err := r.repo.FindByOrg(ctx, r.db, orgID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrNotFound
	}

	apiKey, err := r.cipher.OpenString(secret.PurposeBillingCredential, link.Credential)
	if err != nil {
		r.log.Error("billinglink.credential.open_failed", zap.String("org_id", orgID.String()), zap.Error(err))
		return nil, fmt.Errorf("open credential: %w", err)
	}

	return r.factory.NewClient(billing.Credential{APIKey: apiKey, Mode: billing.Mode(link.Mode)})
}
