package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/pivot/flash"
	"github.com/outofforest/pivot/pkg/fileflash"
	"github.com/outofforest/pivot/updater"
)

var (
	layoutPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pivotctl",
	Short: "Operate on flash images carrying the power-fail-safe A/B update layout",
	Long: `pivotctl manipulates flash image files laid out for the pivot update
subsystem: it stages firmware, drives the update cycle and simulates resets,
so the whole update lifecycle can be exercised on the host before a device is
ever flashed.

Every command reads the region layout from a YAML file (--layout):

  write_size: 8
  active:  {offset: 0,      page_size: 4096, pages: 64}
  update:  {offset: 262144, page_size: 4096, pages: 64}
  scratch: {offset: 524288, page_size: 4096, pages: 1}
  state:   {offset: 528384, page_size: 4096, pages: 4}`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&layoutPath, "layout", "l", "layout.yaml",
		"Path to the YAML layout description")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type geometryYAML struct {
	Offset   int64 `yaml:"offset"`
	PageSize int64 `yaml:"page_size"`
	Pages    int64 `yaml:"pages"`
}

func (g geometryYAML) geometry() flash.Geometry {
	return flash.Geometry{Offset: g.Offset, PageSize: g.PageSize, Pages: g.Pages}
}

type layoutYAML struct {
	WriteSize int64        `yaml:"write_size"`
	Active    geometryYAML `yaml:"active"`
	Update    geometryYAML `yaml:"update"`
	Scratch   geometryYAML `yaml:"scratch"`
	State     geometryYAML `yaml:"state"`
}

func loadLayout() (flash.Layout, error) {
	data, err := os.ReadFile(layoutPath)
	if err != nil {
		return flash.Layout{}, errors.WithStack(err)
	}
	var raw layoutYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return flash.Layout{}, errors.Wrapf(err, "parsing layout %s", layoutPath)
	}

	layout := flash.Layout{
		WriteSize: raw.WriteSize,
		Active:    raw.Active.geometry(),
		Update:    raw.Update.geometry(),
		Scratch:   raw.Scratch.geometry(),
		State:     raw.State.geometry(),
	}
	if err := layout.Validate(); err != nil {
		return flash.Layout{}, errors.Wrapf(err, "layout %s", layoutPath)
	}
	return layout, nil
}

// layoutExtent returns the smallest image size covering every region.
func layoutExtent(l flash.Layout) int64 {
	var extent int64
	for _, g := range []flash.Geometry{l.Active, l.Update, l.Scratch, l.State} {
		if end := g.Offset + g.Size(); end > extent {
			extent = end
		}
	}
	return extent
}

func openImage(path string, layout flash.Layout) (*fileflash.Dev, error) {
	dev, err := fileflash.Open(path)
	if err != nil {
		return nil, err
	}
	if dev.Size() < layoutExtent(layout) {
		_ = dev.Close()
		return nil, errors.Errorf("image %s holds %d bytes, the layout needs %d",
			path, dev.Size(), layoutExtent(layout))
	}
	return dev, nil
}

// withUpdater loads the layout, opens the image and hands an updater to fn.
func withUpdater(imagePath string, fn func(*updater.Updater) error) error {
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

	u, err := updater.New(dev, layout, updater.WithLogger(logger()))
	if err != nil {
		return err
	}
	return fn(u)
}

func logger() *slog.Logger {
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
