package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outofforest/pivot/pkg/fileflash"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <image>",
		Short: "Create an erased flash image covering the layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0])
		},
	}
}

func runInit(path string) error {
	layout, err := loadLayout()
	if err != nil {
		return err
	}
	dev, err := fileflash.Create(path, layoutExtent(layout))
	if err != nil {
		return err
	}
	if err := dev.Close(); err != nil {
		return err
	}

	fmt.Printf("created %s, %d bytes, fully erased\n", path, layoutExtent(layout))
	return nil
}
