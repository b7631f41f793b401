package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/billing"
	"github.com/smallbiznis/leakradar/internal/billinglink/domain"
	"github.com/smallbiznis/leakradar/internal/clock"
	"github.com/smallbiznis/leakradar/internal/observability/metrics"
	"github.com/smallbiznis/leakradar/internal/ratelimit"
	revenuedomain "github.com/smallbiznis/leakradar/internal/revenue/domain"
	"github.com/smallbiznis/leakradar/internal/secret"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testKeyPrefix = "sk_test_"
	liveKeyPrefix = "sk_live_"
	maskBullets   = "••••"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	RevenueRepo revenuedomain.Repository
	Factory     billing.Factory
	Cipher      *secret.Cipher
	Lockout     *ratelimit.Lockout `optional:"true"`
	OTel        *metrics.Metrics   `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	revenueRepo revenuedomain.Repository
	factory     billing.Factory
	cipher      *secret.Cipher
	lockout     *ratelimit.Lockout
	otel        *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("billinglink.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		revenueRepo: p.RevenueRepo,
		factory:     p.Factory,
		cipher:      p.Cipher,
		lockout:     p.Lockout,
		otel:        p.OTel,
	}
}

var _ domain.Service = (*Service)(nil)

// Connect verifies the key against the provider before anything is stored.
func (s *Service) Connect(ctx context.Context, orgID string, req domain.ConnectRequest) (*domain.AccountResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(req.APIKey)
	mode, err := parseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	keyMode, err := modeOfKey(apiKey)
	if err != nil {
		return nil, err
	}
	if keyMode != mode {
		return nil, domain.ErrModeMismatch
	}
	if !s.cipher.Configured() {
		return nil, secret.ErrKeyMissing
	}

	lockKey := "billing-connect:" + id.String()
	remaining, err := s.lockout.Locked(ctx, lockKey)
	if err != nil {
		s.log.Warn("billinglink.lockout.check_failed", zap.Error(err))
	}
	if remaining > 0 {
		s.otel.RecordCredentialCheck(ctx, s.factory.Provider(), "locked")
		return nil, domain.ErrTooManyAttempts
	}

	account, err := s.verify(ctx, billing.Credential{APIKey: apiKey, Mode: mode})
	if err != nil {
		if errors.Is(err, domain.ErrVerificationFailed) {
			locked, lerr := s.lockout.RecordFailure(ctx, lockKey)
			if lerr != nil {
				s.log.Warn("billinglink.lockout.record_failed", zap.Error(lerr))
			}
			if locked {
				s.log.Warn("billinglink.connect.locked", zap.String("org_id", id.String()))
			}
		}
		return nil, err
	}

	other, err := s.repo.FindByAccount(ctx, s.db, s.factory.Provider(), account.ID)
	if err != nil {
		return nil, err
	}
	if other != nil && other.OrgID != id {
		s.otel.RecordCredentialCheck(ctx, s.factory.Provider(), "linked_elsewhere")
		return nil, domain.ErrAccountLinkedElsewhere
	}

	sealed, err := s.cipher.SealString(secret.PurposeBillingCredential, apiKey)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	link := domain.Link{
		ID:          s.genID.Generate(),
		OrgID:       id,
		Provider:    s.factory.Provider(),
		Mode:        string(mode),
		Credential:  sealed,
		AccountID:   account.ID,
		AccountName: account.Name,
		KeyLast4:    last4(apiKey),
		ConnectedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	existing, err := s.repo.FindByOrg(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		link.ID = existing.ID
		link.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.Upsert(ctx, s.db, &link); err != nil {
		return nil, err
	}
	if err := s.lockout.Reset(ctx, lockKey); err != nil {
		s.log.Warn("billinglink.lockout.reset_failed", zap.Error(err))
	}

	s.otel.RecordCredentialCheck(ctx, link.Provider, "connected")
	s.log.Info("billinglink.connected",
		zap.String("org_id", id.String()),
		zap.String("account_id", link.AccountID),
		zap.String("mode", link.Mode),
		zap.Bool("replaced", existing != nil),
	)

	resp := toResponse(link)
	return &resp, nil
}

func (s *Service) verify(ctx context.Context, cred billing.Credential) (*billing.Account, error) {
	provider := s.factory.Provider()

	client, err := s.factory.NewClient(cred)
	if err != nil {
		s.otel.RecordCredentialCheck(ctx, provider, "rejected")
		return nil, fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
	}

	account, err := client.VerifyAccount(ctx)
	if err != nil {
		kind := billing.ClassifyError(err)
		if kind.Retryable() {
			s.otel.RecordCredentialCheck(ctx, provider, "unavailable")
			s.log.Warn("billinglink.verify.unavailable", zap.String("error_type", string(kind)), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		s.otel.RecordCredentialCheck(ctx, provider, "rejected")
		return nil, fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
	}
	if account == nil || strings.TrimSpace(account.ID) == "" {
		s.otel.RecordCredentialCheck(ctx, provider, "rejected")
		return nil, domain.ErrVerificationFailed
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, orgID string) (*domain.AccountResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	link, err := s.repo.FindByOrg(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrNotFound
	}

	resp := toResponse(*link)
	return &resp, nil
}

// Disconnect removes the link together with every snapshot and issue of the organization.
func (s *Service) Disconnect(ctx context.Context, orgID string) error {
	id, err := parseOrgID(orgID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.repo.DeleteByOrg(ctx, tx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}
		return s.revenueRepo.DeleteForOrganization(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info("billinglink.disconnected", zap.String("org_id", id.String()))
	return nil
}

func parseOrgID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, domain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidOrganization
	}
	return id, nil
}

func parseMode(raw string) (billing.Mode, error) {
	switch billing.Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case billing.ModeTest:
		return billing.ModeTest, nil
	case billing.ModeLive:
		return billing.ModeLive, nil
	default:
		return "", domain.ErrInvalidMode
	}
}

func modeOfKey(apiKey string) (billing.Mode, error) {
	switch {
	case strings.HasPrefix(apiKey, testKeyPrefix) && len(apiKey) > len(testKeyPrefix)+4:
		return billing.ModeTest, nil
	case strings.HasPrefix(apiKey, liveKeyPrefix) && len(apiKey) > len(liveKeyPrefix)+4:
		return billing.ModeLive, nil
	default:
		return "", domain.ErrInvalidAPIKey
	}
}

func last4(value string) string {
	if len(value) <= 4 {
		return value
	}
	return value[len(value)-4:]
}

func maskKey(mode, last4 string) string {
	return "sk_" + mode + "_" + maskBullets + last4
}

func toResponse(link domain.Link) domain.AccountResponse {
	return domain.AccountResponse{
		Provider:    link.Provider,
		Mode:        link.Mode,
		AccountID:   link.AccountID,
		AccountName: link.AccountName,
		MaskedKey:   maskKey(link.Mode, link.KeyLast4),
		ConnectedAt: link.ConnectedAt,
	}
}
