package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outofforest/pivot/updater"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <image>",
		Short: "Print the current update state of the image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(args[0])
		},
	}
}

func runStatus(imagePath string) error {
	return withUpdater(imagePath, func(u *updater.Updater) error {
		st, err := u.Status()
		if err != nil {
			return err
		}
		fmt.Println(st)
		return nil
	})
}
