package pricing

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leakradar/internal/billing"
	"github.com/smallbiznis/leakradar/internal/billing/billingtest"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticSource struct{ client billing.Client }

func (s staticSource) ClientFor(context.Context, snowflake.ID) (billing.Client, error) {
	return s.client, nil
}

func TestQuoteFor(t *testing.T) {
	cases := []struct {
		name  string
		mrr   string
		tier  Tier
		price int
	}{
		{name: "small", mrr: "1000", tier: TierStarter, price: 499},
		{name: "at threshold", mrr: "833333.33", tier: TierStarter, price: 499},
		{name: "above threshold", mrr: "833333.34", tier: TierPro, price: 999},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quote := QuoteFor(decimal.RequireFromString(tc.mrr), 10_000_000)
			assert.Equal(t, tc.tier, quote.Tier)
			assert.Equal(t, tc.price, quote.MonthlyPrice)
		})
	}
}

func TestCalculateStopsAtPricingCeiling(t *testing.T) {
	client := billingtest.New()
	for i := 0; i < 120; i++ {
		client.Subscriptions = append(client.Subscriptions, billing.Subscription{
			ID:     fmt.Sprintf("sub_%03d", i),
			Status: "active",
			Items:  []billing.SubscriptionItem{{Quantity: 1, Price: billing.Price{UnitAmount: 10000, Interval: "month"}}},
		})
	}
	cfg := config.DefaultScanConfig()
	cfg.PageSize = 50
	cfg.PricingMaxPages = 2

	svc := NewService(staticSource{client: client}, config.NewStaticScanConfigHolder(cfg), zaptest.NewLogger(t))
	quote, err := svc.Calculate(context.Background(), "1234")
	require.NoError(t, err)

	assert.True(t, quote.Truncated)
	assert.Equal(t, 100, quote.Subscriptions)
	assert.Equal(t, 10000.0, quote.MRR)
	assert.Equal(t, 120000.0, quote.ARR)
	assert.Equal(t, TierStarter, quote.Tier)
}

func TestCalculateRejectsBadOrganization(t *testing.T) {
	svc := NewService(staticSource{}, config.NewStaticScanConfigHolder(config.DefaultScanConfig()), zaptest.NewLogger(t))
	_, err := svc.Calculate(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrInvalidOrganization)
}
