package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPutCmd(), newRmCmd(), newLsCmd())
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>...",
		Short: "Store files in the local blob store and queue them for sync",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				rec, err := c.PutBlob(data, filepath.Base(path))
				if err != nil {
					return fmt.Errorf("put %s: %w", path, err)
				}
				fmt.Printf("%s %s (%s)\n", green(rec.ContentHash[:12]), rec.Filename, humanize.Bytes(uint64(rec.Size)))
			}
			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <hash>...",
		Short: "Remove blobs from this device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			for _, hash := range args {
				if err := c.DeleteBlob(hash); err != nil {
					return fmt.Errorf("rm %s: %w", hash, err)
				}
				fmt.Printf("%s %s\n", red("removed"), hash)
			}
			return nil
		},
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List blobs in the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			blobs, err := c.Store().List()
			if err != nil {
				return err
			}
			for _, rec := range blobs {
				fmt.Printf("%s  %-10s  %-12s  %s\n",
					cyan(rec.ContentHash[:12]),
					humanize.Bytes(uint64(rec.Size)),
					rec.Health,
					rec.Filename,
				)
			}
			fmt.Printf("%d blobs\n", len(blobs))
			return nil
		},
	}
}
