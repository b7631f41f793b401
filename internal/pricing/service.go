// Package pricing recommends a subscription tier from the organization's own annual recurring revenue.
package pricing

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leakradar/internal/billing"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/revenue/mrr"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Tier string

const (
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"

	StarterMonthlyPrice = 499
	ProMonthlyPrice     = 999
)

var ErrInvalidOrganization = errors.New("invalid_organization")

type ClientSource interface {
	ClientFor(ctx context.Context, orgID snowflake.ID) (billing.Client, error)
}

type Quote struct {
	MRR           float64 `json:"mrr"`
	ARR           float64 `json:"arr"`
	Tier          Tier    `json:"tier"`
	MonthlyPrice  int     `json:"monthlyPrice"`
	Currency      string  `json:"currency"`
	Subscriptions int     `json:"subscriptionsCounted"`
	// Truncated is set when the page ceiling stopped the count early, so ARR is a lower bound.
	Truncated bool `json:"truncated"`
}

type Service struct {
	clients ClientSource
	cfg     *config.ScanConfigHolder
	log     *zap.Logger
}

func NewService(clients ClientSource, cfg *config.ScanConfigHolder, log *zap.Logger) *Service {
	return &Service{clients: clients, cfg: cfg, log: log.Named("pricing")}
}

// Calculate sums active subscription MRR with a tighter page ceiling than the daily scan, since it
// runs inline with a dashboard request.
func (s *Service) Calculate(ctx context.Context, orgID string) (*Quote, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(orgID))
	if err != nil || id == 0 {
		return nil, ErrInvalidOrganization
	}
	client, err := s.clients.ClientFor(ctx, id)
	if err != nil {
		return nil, err
	}

	cfg := s.cfg.Get()
	total := decimal.Zero
	count := 0
	stats, err := billing.Paginate(ctx, billing.PageRequest{PageSize: cfg.PageSize, MaxPages: cfg.PricingMaxPages},
		func(ctx context.Context, params billing.ListParams) (billing.Page[billing.Subscription], error) {
			return client.ListSubscriptions(ctx, billing.SubscriptionListParams{ListParams: params, Status: billing.SubscriptionStatusActive})
		},
		func(sub billing.Subscription) error {
			total = total.Add(mrr.SubscriptionDecimal(sub.Items))
			count++
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if stats.Truncated {
		s.log.Warn("pricing.arr.truncated", zap.String("org_id", id.String()), zap.Int("pages", stats.Pages))
	}

	quote := QuoteFor(total, cfg.PricingTierThreshold)
	quote.Subscriptions = count
	quote.Truncated = stats.Truncated
	return &quote, nil
}

// QuoteFor maps MRR onto a tier: starter while ARR stays at or below threshold, pro above it.
func QuoteFor(monthly decimal.Decimal, threshold float64) Quote {
	arr := monthly.Mul(decimal.NewFromInt(12))
	quote := Quote{
		MRR:          monthly.Round(2).InexactFloat64(),
		ARR:          arr.Round(2).InexactFloat64(),
		Tier:         TierStarter,
		MonthlyPrice: StarterMonthlyPrice,
		Currency:     "usd",
	}
	if arr.GreaterThan(decimal.NewFromFloat(threshold)) {
		quote.Tier = TierPro
		quote.MonthlyPrice = ProMonthlyPrice
	}
	return quote
}

var Module = fx.Module("pricing",
	fx.Provide(NewService),
)
