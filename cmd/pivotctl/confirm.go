package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outofforest/pivot/updater"
)

func init() {
	rootCmd.AddCommand(newConfirmCmd())
}

func newConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <image>",
		Short: "Confirm the currently running firmware, ending a trial boot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfirm(args[0])
		},
	}
}

func runConfirm(imagePath string) error {
	return withUpdater(imagePath, func(u *updater.Updater) error {
		if err := u.MarkBooted(); err != nil {
			return err
		}
		st, err := u.Status()
		if err != nil {
			return err
		}
		fmt.Printf("confirmed, state is %s\n", st)
		return nil
	})
}
