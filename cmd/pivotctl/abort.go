package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outofforest/pivot/updater"
)

func init() {
	rootCmd.AddCommand(newAbortCmd())
}

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <image>",
		Short: "Withdraw an update request before the swap has started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAbort(args[0])
		},
	}
}

func runAbort(imagePath string) error {
	return withUpdater(imagePath, func(u *updater.Updater) error {
		if err := u.AbortUpdate(); err != nil {
			return err
		}
		fmt.Println("update aborted")
		return nil
	})
}
