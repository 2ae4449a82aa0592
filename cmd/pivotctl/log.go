package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outofforest/pivot/flash"
	"github.com/outofforest/pivot/state"
)

func init() {
	rootCmd.AddCommand(newLogCmd())
}

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <image>",
		Short: "Dump every slot of the state log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(args[0])
		},
	}
}

func runLog(imagePath string) error {
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

	region, err := flash.NewRegion(dev, layout.State, layout.WriteSize)
	if err != nil {
		return err
	}

	// Erased slots are printed too: after a torn append or a partial
	// compaction the programmed slots are not necessarily contiguous.
	var erased, total int64
	buf := make([]byte, state.RecordSize)
	for off := int64(0); off < region.Size(); off += state.RecordSize {
		total++
		if err := region.Read(off, buf); err != nil {
			return err
		}
		if state.SlotErased(buf) {
			erased++
			continue
		}
		slot := off / state.RecordSize
		if st, ok := state.DecodeSlot(buf); ok {
			fmt.Printf("slot %4d: %s\n", slot, st)
		} else {
			fmt.Printf("slot %4d: invalid\n", slot)
		}
	}
	fmt.Printf("%d of %d slots free\n", erased, total)
	return nil
}
