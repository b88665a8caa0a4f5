package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDevicesCmd())
}

func newDevicesCmd() *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "Show this principal's devices and what they hold",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.SDK().Device.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range resp.Devices {
				seen := time.UnixMilli(d.LastSeenAt)
				fmt.Printf("%s  %d blobs  last seen %s\n", cyan(d.DeviceID), d.BlobCount, humanize.Time(seen))
			}
			return nil
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view [device-id]",
		Short: "Show blob presence for a device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			deviceID := ""
			if len(args) > 0 {
				deviceID = args[0]
			}
			resp, err := c.SDK().Device.View(cmd.Context(), deviceID)
			if err != nil {
				return err
			}
			for _, b := range resp.Blobs {
				here, elsewhere := "-", "-"
				if b.PresentOnThisDevice {
					here = green("here")
				}
				if b.PresentElsewhere {
					elsewhere = cyan("elsewhere")
				}
				fmt.Printf("%s  %-6s %s\n", b.ContentHash[:12], here, elsewhere)
			}
			return nil
		},
	}

	orphanedCmd := &cobra.Command{
		Use:   "orphaned",
		Short: "List blobs that exist only on other devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.SDK().Device.Orphaned(cmd.Context())
			if err != nil {
				return err
			}
			if len(resp.Orphaned) == 0 {
				fmt.Println("no orphaned blobs")
				return nil
			}
			for _, b := range resp.Orphaned {
				fmt.Printf("%s  %-10s  %s\n", red(b.ContentHash[:12]), humanize.Bytes(uint64(b.Size)), b.Filename)
			}
			return nil
		},
	}

	devicesCmd.AddCommand(viewCmd, orphanedCmd)
	return devicesCmd
}
