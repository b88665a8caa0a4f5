package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd(), newResetCmd())
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Flush pending changes to the server once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.SyncNow(cmd.Context())
			if err != nil {
				return err
			}
			if report.Submitted == 0 {
				fmt.Println("nothing to sync")
				return nil
			}
			fmt.Printf("submitted %d, %s %d, %s %d\n",
				report.Submitted, green("applied"), report.Applied, red("failed"), report.Failed)

			if errored, err := c.Buffer().Errors(); err == nil {
				for _, ch := range errored {
					fmt.Printf("  %s %s %s/%s: %s\n", red("!"), ch.ID[:8], ch.Table, ch.Op, ch.LastError)
				}
			}
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop queued changes and catalog state, then re-adopt blobs on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if !yes {
				return fmt.Errorf("reset drops the write queue and catalog; pass --yes to confirm")
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.ResetIdentity(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s re-adopted %d blobs\n", green("reset"), result.Added)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the reset")
	return cmd
}
