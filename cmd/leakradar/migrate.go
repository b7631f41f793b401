package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return withSQL(cmd.Context(), func(_ context.Context, sqlDB *sql.DB, _ config.Config, log *zap.Logger) error {
				if err := migration.Rollback(sqlDB, steps); err != nil {
					return err
				}
				log.Info("migration.rollback.completed", zap.Int("steps", steps))
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				var (
					conn *gorm.DB
					cfg  config.Config
					log  *zap.Logger
				)
				app := fx.New(infrastructure(), fx.Populate(&conn, &cfg, &log))
				return runOnce(cmd.Context(), app, func(context.Context) error {
					return migration.Apply(conn, cfg.DBType, log)
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSQL(cmd.Context(), func(_ context.Context, sqlDB *sql.DB, _ config.Config, _ *zap.Logger) error {
					version, dirty, err := migration.Version(sqlDB)
					if err != nil {
						return err
					}
					fmt.Printf("version=%d dirty=%t\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

// withSQL runs fn against the versioned postgres schema. Other database types are
// managed with AutoMigrate and have no version history.
func withSQL(ctx context.Context, fn func(context.Context, *sql.DB, config.Config, *zap.Logger) error) error {
	var (
		conn *gorm.DB
		cfg  config.Config
		log  *zap.Logger
	)
	app := fx.New(infrastructure(), fx.Populate(&conn, &cfg, &log))
	return runOnce(ctx, app, func(ctx context.Context) error {
		if cfg.DBType != "postgres" {
			return fmt.Errorf("schema versions are tracked for postgres only, got %q", cfg.DBType)
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return fn(ctx, sqlDB, cfg, log)
	})
}
