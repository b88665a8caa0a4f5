package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newScanCmd(), newHealthCmd())
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Reconcile the catalog with the bytes on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Store().Scan()
			if err != nil {
				return err
			}
			fmt.Printf("added %d, updated %d, deleted %d\n", result.Added, result.Updated, result.Deleted)
			for _, e := range result.Errors {
				fmt.Printf("  %s %s\n", red("!"), e)
			}
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Verify every cataloged blob against the filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.Store().HealthCheck()
			if err != nil {
				return err
			}
			fmt.Printf("%d blobs, %s\n", report.TotalBlobs, humanize.Bytes(uint64(report.TotalSize)))
			fmt.Printf("  %s %d\n", green("healthy"), report.Healthy)
			if report.Relocated > 0 {
				fmt.Printf("  %s %d\n", cyan("relocated"), report.Relocated)
			}
			if report.Modified > 0 {
				fmt.Printf("  %s %d\n", red("modified"), report.Modified)
			}
			if report.Missing > 0 {
				fmt.Printf("  %s %d\n", red("missing"), report.Missing)
			}
			return nil
		},
	}
}
