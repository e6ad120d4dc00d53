package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRegisterTenantCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register-tenant <name>",
		Short: "Register a new tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.open()
			if err != nil {
				return err
			}
			tenant, err := n.Coordinator.RegisterTenant(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tenant.Name)
			return err
		},
	}
}

func newListTenantsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-tenants",
		Short: "List registered tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.open()
			if err != nil {
				return err
			}
			names, err := n.Coordinator.ListTenants(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
