package flash_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/pivot/flash"
	"github.com/outofforest/pivot/pkg/memflash"
)

const (
	pageSize  = 64
	writeSize = 8
)

func TestNewRegionRejectsBadGeometry(t *testing.T) {
	requireT := require.New(t)

	dev := memflash.New(4*pageSize, pageSize, writeSize)

	_, err := flash.NewRegion(nil, flash.Geometry{PageSize: pageSize, Pages: 1}, writeSize)
	requireT.Error(err)
	_, err = flash.NewRegion(dev, flash.Geometry{PageSize: 0, Pages: 1}, writeSize)
	requireT.Error(err)
	_, err = flash.NewRegion(dev, flash.Geometry{PageSize: pageSize, Pages: 0}, writeSize)
	requireT.Error(err)
	_, err = flash.NewRegion(dev, flash.Geometry{Offset: 3, PageSize: pageSize, Pages: 1}, writeSize)
	requireT.Error(err)
	_, err = flash.NewRegion(dev, flash.Geometry{Offset: -pageSize, PageSize: pageSize, Pages: 1}, writeSize)
	requireT.Error(err)
	_, err = flash.NewRegion(dev, flash.Geometry{PageSize: pageSize, Pages: 1}, 7)
	requireT.Error(err)
	_, err = flash.NewRegion(dev, flash.Geometry{PageSize: pageSize, Pages: 1}, 0)
	requireT.Error(err)

	_, err = flash.NewRegion(dev, flash.Geometry{PageSize: pageSize, Pages: 2}, writeSize)
	requireT.NoError(err)
}

func TestRegionChecksBeforeDevice(t *testing.T) {
	requireT := require.New(t)

	dev := memflash.New(4*pageSize, pageSize, writeSize)
	r, err := flash.NewRegion(dev, flash.Geometry{Offset: pageSize, PageSize: pageSize, Pages: 2}, writeSize)
	requireT.NoError(err)

	buf := make([]byte, writeSize)
	requireT.ErrorIs(r.Read(-1, buf), flash.ErrOutOfRange)
	requireT.ErrorIs(r.Read(r.Size(), buf), flash.ErrOutOfRange)
	requireT.ErrorIs(r.Write(r.Size()-writeSize/2, buf), flash.ErrOutOfRange)
	requireT.ErrorIs(r.Write(writeSize/2, buf), flash.ErrMisaligned)
	requireT.ErrorIs(r.Write(0, make([]byte, writeSize-1)), flash.ErrMisaligned)
	requireT.ErrorIs(r.ErasePage(2), flash.ErrOutOfRange)
	requireT.ErrorIs(r.ErasePage(-1), flash.ErrOutOfRange)

	// Rejected calls never reach the device.
	requireT.Zero(dev.Ops())
}

func TestRegionWindowsDevice(t *testing.T) {
	requireT := require.New(t)

	dev := memflash.New(3*pageSize, pageSize, writeSize)
	a, err := flash.NewRegion(dev, flash.Geometry{Offset: 0, PageSize: pageSize, Pages: 1}, writeSize)
	requireT.NoError(err)
	b, err := flash.NewRegion(dev, flash.Geometry{Offset: pageSize, PageSize: pageSize, Pages: 1}, writeSize)
	requireT.NoError(err)

	p := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	requireT.NoError(b.Write(0, p))

	// The write landed at the region's device offset and is invisible through
	// the neighbouring region.
	requireT.Equal(p, dev.Snapshot()[pageSize:pageSize+writeSize])
	got := make([]byte, writeSize)
	requireT.NoError(a.Read(0, got))
	requireT.Equal([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, got)
}

func TestErasePageRestoresErasedState(t *testing.T) {
	requireT := require.New(t)

	dev := memflash.New(2*pageSize, pageSize, writeSize)
	r, err := flash.NewRegion(dev, flash.Geometry{Offset: 0, PageSize: pageSize, Pages: 2}, writeSize)
	requireT.NoError(err)

	p := make([]byte, pageSize)
	requireT.NoError(r.Write(0, p))
	requireT.NoError(r.ErasePage(0))

	got := make([]byte, pageSize)
	requireT.NoError(r.Read(0, got))
	for i, v := range got {
		requireT.EqualValues(0xFF, v, "byte %d", i)
	}

	// An erased page accepts programming again.
	requireT.NoError(r.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
}
