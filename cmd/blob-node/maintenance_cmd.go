package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/devrev/pairdb/blob-node/internal/service"
)

func newScrubCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scrub [tenant...]",
		Short: "Verify stored blobs against their checksums",
		Long:  "Verify every blob of the named tenants, or of all tenants when none are named.",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.open()
			if err != nil {
				return err
			}

			tenants := args
			if len(tenants) == 0 {
				if tenants, err = n.Coordinator.ListTenants(cmd.Context()); err != nil {
					return err
				}
			}

			var corrupt, missing int
			for _, tenant := range tenants {
				report, err := n.Cleanup.Scrub(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				if err := writeScrubReport(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Err != nil {
					return report.Err
				}
				corrupt += len(report.Corrupt)
				missing += len(report.Missing)
			}

			if corrupt+missing > 0 {
				return errors.NewStorageError(errors.ErrCodeIntegrityViolation,
					fmt.Sprintf("scrub found %d corrupt and %d missing blobs", corrupt, missing), nil)
			}
			return nil
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	var (
		grace  time.Duration
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove chunks that no blob record references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.open()
			if err != nil {
				return err
			}
			report, err := n.Cleanup.SweepOrphans(cmd.Context(), service.SweepOptions{
				GracePeriod: grace,
				DryRun:      dryRun,
			})
			if err != nil {
				return err
			}
			if err := writeSweepReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return report.Err
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 0, "skip chunks younger than this (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without removing them")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the storage root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.open()
			if err != nil {
				return err
			}
			report := n.Health.Check(cmd.Context())
			if err := writeYAML(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Ready() {
				return fmt.Errorf("node is %s", report.Status)
			}
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeYAML(cmd.OutOrStdout(), a.cfg)
		},
	})
	return cmd
}
