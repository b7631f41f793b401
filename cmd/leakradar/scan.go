package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leakradar/internal/metricspush"
	"github.com/smallbiznis/leakradar/internal/revenue/scan"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type orgScanOutput struct {
	OrganizationID     string  `json:"organizationId"`
	SnapshotID         string  `json:"snapshotId,omitempty"`
	State              string  `json:"state"`
	Issues             int     `json:"issues"`
	TotalRevenueAtRisk float64 `json:"totalRevenueAtRisk"`
	CurrentMRR         float64 `json:"currentMRR"`
	IsPartial          bool    `json:"isPartial"`
	IsTruncated        bool    `json:"isTruncated"`
	Error              string  `json:"error,omitempty"`
}

func newScanCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the daily revenue scan once, for every linked organization or a single one",
		RunE: func(cmd *cobra.Command, args []string) error {
			var target snowflake.ID
			if raw := strings.TrimSpace(orgID); raw != "" {
				parsed, err := snowflake.ParseString(raw)
				if err != nil || parsed <= 0 {
					return fmt.Errorf("invalid --org %q", raw)
				}
				target = parsed
			}

			var (
				orchestrator *scan.Orchestrator
				pusher       metricspush.Pusher
				log          *zap.Logger
			)
			app := fx.New(
				infrastructure(),
				domains(),
				metricspush.Module,
				fx.Populate(&orchestrator, &pusher, &log),
			)

			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				defer metricspush.PushOnce(ctx, pusher, log)

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				if target != 0 {
					res := orchestrator.ScanOrganization(ctx, target)
					out := orgScanOutput{
						OrganizationID:     res.OrgID.String(),
						State:              string(res.State),
						Issues:             res.Issues,
						TotalRevenueAtRisk: res.TotalRevenueAtRisk,
						CurrentMRR:         res.CurrentMRR,
						IsPartial:          res.IsPartial,
						IsTruncated:        res.IsTruncated,
					}
					if res.SnapshotID != 0 {
						out.SnapshotID = res.SnapshotID.String()
					}
					if res.Err != nil {
						out.Error = res.Err.Error()
					}
					if err := enc.Encode(out); err != nil {
						return err
					}
					return res.Err
				}

				result, err := orchestrator.RunDailyScan(ctx)
				if err != nil {
					return err
				}
				return enc.Encode(result)
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "scan only this organization id")
	return cmd
}
