package main

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/archive"
	"github.com/smallbiznis/leakradar/internal/billing/stripe"
	"github.com/smallbiznis/leakradar/internal/billinglink"
	"github.com/smallbiznis/leakradar/internal/clock"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/events"
	"github.com/smallbiznis/leakradar/internal/observability"
	"github.com/smallbiznis/leakradar/internal/organization"
	"github.com/smallbiznis/leakradar/internal/pricing"
	"github.com/smallbiznis/leakradar/internal/ratelimit"
	"github.com/smallbiznis/leakradar/internal/revenue"
	"github.com/smallbiznis/leakradar/internal/secret"
	"github.com/smallbiznis/leakradar/pkg/db"
	"go.uber.org/fx"
)

// infrastructure is shared by every command that touches the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

// domains wires the billing, revenue and organization services on top of infrastructure.
func domains() fx.Option {
	return fx.Options(
		ratelimit.Module,
		secret.Module,
		stripe.Module,
		events.Module,
		archive.Module,
		organization.Module,
		billinglink.Module,
		revenue.Module,
		pricing.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}

// runOnce starts app, calls fn and stops the app regardless of the outcome.
func runOnce(ctx context.Context, app *fx.App, fn func(ctx context.Context) error) error {
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
