package main

import (
	"github.com/smallbiznis/leakradar/internal/metricspush"
	"github.com/smallbiznis/leakradar/internal/migration"
	"github.com/smallbiznis/leakradar/internal/scheduler"
	"github.com/smallbiznis/leakradar/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveWithScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []fx.Option{
			infrastructure(),
			migration.Module,
			domains(),
			server.Module,
		}
		if serveWithScheduler {
			opts = append(opts, scheduler.Module)
		}

		app := fx.New(opts...)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the in-process scheduler without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			infrastructure(),
			migration.Module,
			domains(),
			scheduler.Module,
			metricspush.PeriodicModule,
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithScheduler, "with-scheduler", false, "also run the daily scan scheduler in this process")
}
