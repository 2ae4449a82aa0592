package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/outofforest/pivot/updater"
)

func init() {
	rootCmd.AddCommand(newStageCmd())
}

func newStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <image> <firmware>",
		Short: "Write a firmware file into the update region",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(args[0], args[1])
		},
	}
}

func runStage(imagePath, firmwarePath string) error {
	layout, err := loadLayout()
	if err != nil {
		return err
	}
	firmware, err := os.ReadFile(firmwarePath)
	if err != nil {
		return errors.WithStack(err)
	}
	if len(firmware) == 0 {
		return errors.Errorf("firmware file %s is empty", firmwarePath)
	}
	if int64(len(firmware)) > layout.Update.Size() {
		return errors.Errorf("firmware of %d bytes does not fit the update region of %d bytes",
			len(firmware), layout.Update.Size())
	}

	// Pad to the write granularity with the erased value, which programs no
	// bits into the tail.
	if pad := int64(len(firmware)) % layout.WriteSize; pad != 0 {
		for ; pad < layout.WriteSize; pad++ {
			firmware = append(firmware, 0xFF)
		}
	}

	dev, err := openImage(imagePath, layout)
	if err != nil {
		return err
	}
	defer func() {
		_ = dev.Close()
	}()

	u, err := updater.New(dev, layout, updater.WithLogger(logger()))
	if err != nil {
		return err
	}
	if err := u.WriteBlock(0, firmware); err != nil {
		return err
	}

	fmt.Printf("staged %d bytes from %s\n", len(firmware), firmwarePath)
	return nil
}
