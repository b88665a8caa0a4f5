package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newNoteCmd())
}

func newNoteCmd() *cobra.Command {
	noteCmd := &cobra.Command{
		Use:   "note",
		Short: "Create, update and delete notes",
	}

	addCmd := &cobra.Command{
		Use:   "add <title> <content>",
		Short: "Create a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := c.SaveNote("", args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("queued"), id)
			return nil
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit <id> <title> <content>",
		Short: "Update a note",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.UpdateNote(args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("queued"), args[0])
			return nil
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.DeleteNote(args[0]); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", red("deleted"), args[0])
			return nil
		},
	}

	var noteID, contentHash string
	annotateCmd := &cobra.Command{
		Use:   "annotate <body>",
		Short: "Attach an annotation to a note or blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := c.SaveAnnotation("", noteID, contentHash, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("queued"), id)
			return nil
		},
	}
	annotateCmd.Flags().StringVarP(&noteID, "note", "n", "", "Note id to attach to")
	annotateCmd.Flags().StringVar(&contentHash, "blob", "", "Blob content hash to anchor at")

	noteCmd.AddCommand(addCmd, editCmd, rmCmd, annotateCmd)
	return noteCmd
}
