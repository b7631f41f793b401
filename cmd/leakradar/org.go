package main

import (
	"context"
	"encoding/json"
	"os"

	organizationdomain "github.com/smallbiznis/leakradar/internal/organization/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newOrgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
	}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an organization and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc organizationdomain.Service
			app := fx.New(infrastructure(), domains(), fx.Populate(&svc))
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				org, err := svc.Create(ctx, organizationdomain.CreateOrganizationRequest{Name: name})
				if err != nil {
					return err
				}
				return json.NewEncoder(os.Stdout).Encode(org)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "organization name")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}
