package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outofforest/pivot"
)

func init() {
	rootCmd.AddCommand(newBootCmd())
}

func newBootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot <image>",
		Short: "Simulate a reset: run the bootloader sequence against the image",
		Long: `boot runs the same decision the on-device bootloader runs after a reset:
it finishes any interrupted swap, reverts unconfirmed trial firmware and
reports which firmware would start.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(args[0])
		},
	}
}

func runBoot(imagePath string) error {
	layout, err := loadLayout()
	if err != nil {
		return err
	}
	dev, err := openImage(imagePath, layout)
	if err != nil {
		return err
	}
	defer func() {
		_ = dev.Close()
	}()

	b, err := pivot.New(dev, layout, pivot.WithLogger(logger()))
	if err != nil {
		return err
	}
	boot, err := b.Run()
	if err != nil {
		return err
	}
	fmt.Printf("boot: %s\n", boot)
	return nil
}
