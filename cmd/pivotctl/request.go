package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outofforest/pivot/updater"
)

func init() {
	rootCmd.AddCommand(newRequestCmd())
}

func newRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <image>",
		Short: "Request activation of the staged firmware on the next boot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(args[0])
		},
	}
}

func runRequest(imagePath string) error {
	return withUpdater(imagePath, func(u *updater.Updater) error {
		if err := u.MarkUpdated(); err != nil {
			return err
		}
		fmt.Println("update requested")
		return nil
	})
}
