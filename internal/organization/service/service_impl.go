package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/leakradar/internal/clock"
	"github.com/smallbiznis/leakradar/internal/organization/domain"
	"github.com/smallbiznis/leakradar/internal/secret"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxSlugAttempts = 5
	maskedWebhook   = "https://hooks.slack.com/services/••••••••••••••••"
	webhookTailLen  = 16
)

type service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   domain.Repository
	genID  *snowflake.Node
	clock  clock.Clock
	cipher *secret.Cipher
}

func NewService(db *gorm.DB, log *zap.Logger, repo domain.Repository, genID *snowflake.Node, clk clock.Clock, cipher *secret.Cipher) domain.Service {
	return &service{
		db:     db,
		log:    log.Named("organization.service"),
		repo:   repo,
		genID:  genID,
		clock:  clk,
		cipher: cipher,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	org := domain.Organization{
		ID:           s.genID.Generate(),
		Name:         name,
		EmailEnabled: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orgSlug, err := s.uniqueSlug(ctx, repo, name, org.ID)
		if err != nil {
			return err
		}
		org.Slug = orgSlug
		return repo.CreateOrganization(ctx, org)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("organization.created", zap.String("org_id", org.ID.String()), zap.String("slug", org.Slug))
	resp := toResponse(org)
	return &resp, nil
}

// uniqueSlug falls back to the id suffix when the readable candidates are taken.
func (s *service) uniqueSlug(ctx context.Context, repo domain.Repository, name string, id snowflake.ID) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "org"
	}

	candidate := base
	for attempt := 2; attempt <= maxSlugAttempts+1; attempt++ {
		exists, err := repo.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt)
	}
	return fmt.Sprintf("%s-%s", base, id.String()), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	org, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toResponse(*org)
	return &resp, nil
}

func (s *service) GetAlertSettings(ctx context.Context, orgID string) (*domain.AlertSettingsResponse, error) {
	org, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.alertResponse(*org), nil
}

func (s *service) UpdateAlertSettings(ctx context.Context, orgID string, req domain.UpdateAlertSettingsRequest) (*domain.AlertSettingsResponse, error) {
	org, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if req.EmailEnabled != nil {
		org.EmailEnabled = *req.EmailEnabled
	}
	if req.SlackWebhookURL != nil {
		raw := strings.TrimSpace(*req.SlackWebhookURL)
		if raw == "" {
			org.SlackEnabled = false
			org.SlackWebhook = nil
		} else {
			if err := validateWebhook(raw); err != nil {
				return nil, err
			}
			sealed, err := s.cipher.SealString(secret.PurposeAlertWebhook, raw)
			if err != nil {
				return nil, err
			}
			org.SlackEnabled = true
			org.SlackWebhook = sealed
		}
	}
	org.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.UpdateAlertSettings(ctx, *org); err != nil {
		return nil, err
	}

	s.log.Info("organization.alerts.updated",
		zap.String("org_id", org.ID.String()),
		zap.Bool("email_enabled", org.EmailEnabled),
		zap.Bool("slack_enabled", org.SlackEnabled),
	)
	return s.alertResponse(*org), nil
}

func (s *service) load(ctx context.Context, rawID string) (*domain.Organization, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil || id <= 0 {
		return nil, domain.ErrInvalidOrganization
	}
	org, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrNotFound
	}
	return org, nil
}

func (s *service) alertResponse(org domain.Organization) *domain.AlertSettingsResponse {
	resp := &domain.AlertSettingsResponse{
		EmailEnabled: org.EmailEnabled,
		SlackEnabled: org.SlackEnabled,
	}
	if len(org.SlackWebhook) == 0 {
		return resp
	}

	plain, err := s.cipher.OpenString(secret.PurposeAlertWebhook, org.SlackWebhook)
	if err != nil {
		s.log.Warn("organization.alerts.webhook_unreadable", zap.String("org_id", org.ID.String()), zap.Error(err))
		masked := maskedWebhook
		resp.SlackWebhookURL = &masked
		return resp
	}
	masked := maskedWebhook + tail(plain, webhookTailLen)
	resp.SlackWebhookURL = &masked
	return resp
}

func validateWebhook(raw string) error {
	if !strings.HasPrefix(raw, domain.SlackWebhookPrefix) {
		return domain.ErrInvalidWebhook
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host != "hooks.slack.com" || len(strings.Trim(u.Path, "/")) == 0 {
		return domain.ErrInvalidWebhook
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func toResponse(org domain.Organization) domain.OrganizationResponse {
	return domain.OrganizationResponse{
		ID:        org.ID.String(),
		Name:      org.Name,
		Slug:      org.Slug,
		CreatedAt: org.CreatedAt,
	}
}
