package updater

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/pivot/flash"
	"github.com/outofforest/pivot/pkg/memflash"
	"github.com/outofforest/pivot/state"
)

const (
	pageSize  = 64
	writeSize = 8
	imgPages  = 3
	devSize   = 13 * pageSize
)

func testLayout() flash.Layout {
	return flash.Layout{
		WriteSize: writeSize,
		Active:    flash.Geometry{Offset: 0, PageSize: pageSize, Pages: imgPages},
		Update:    flash.Geometry{Offset: 3 * pageSize, PageSize: pageSize, Pages: imgPages},
		Scratch:   flash.Geometry{Offset: 6 * pageSize, PageSize: pageSize, Pages: 1},
		State:     flash.Geometry{Offset: 7 * pageSize, PageSize: pageSize, Pages: 6},
	}
}

// newUpdater returns the updater under test plus a second store over the same
// state region, used to drive the cycle into states the updater cannot reach
// on its own.
func newUpdater(t *testing.T) (*Updater, *memflash.Dev, *state.Store) {
	requireT := require.New(t)

	dev := memflash.New(devSize, pageSize, writeSize)
	u, err := New(dev, testLayout())
	requireT.NoError(err)
	stateRegion, err := flash.NewRegion(dev, testLayout().State, writeSize)
	requireT.NoError(err)
	seeder, err := state.NewStore(stateRegion, imgPages)
	requireT.NoError(err)
	return u, dev, seeder
}

func TestWriteBlockStagesFirmware(t *testing.T) {
	requireT := require.New(t)

	u, _, _ := newUpdater(t)

	block := make([]byte, 2*pageSize+pageSize/2)
	for i := range block {
		block[i] = byte(i)
	}
	requireT.NoError(u.WriteBlock(0, block))

	got := make([]byte, len(block))
	requireT.NoError(u.update.Read(0, got))
	requireT.Equal(block, got)

	tail := make([]byte, pageSize/2)
	requireT.NoError(u.update.Read(int64(len(block)), tail))
	for i, b := range tail {
		requireT.EqualValues(0xFF, b, "byte %d past the staged block", i)
	}
}

func TestWriteBlockReplacesPage(t *testing.T) {
	requireT := require.New(t)

	u, _, _ := newUpdater(t)

	first := make([]byte, pageSize)
	for i := range first {
		first[i] = 0x11
	}
	second := make([]byte, pageSize)
	for i := range second {
		second[i] = 0x22
	}

	requireT.NoError(u.WriteBlock(pageSize, first))
	requireT.NoError(u.WriteBlock(pageSize, second))

	got := make([]byte, pageSize)
	requireT.NoError(u.update.Read(pageSize, got))
	requireT.Equal(second, got)
}

func TestWriteBlockRejectsMisaligned(t *testing.T) {
	requireT := require.New(t)

	u, _, _ := newUpdater(t)

	requireT.ErrorIs(u.WriteBlock(pageSize/2, make([]byte, writeSize)), flash.ErrMisaligned)
	requireT.ErrorIs(u.WriteBlock(0, make([]byte, writeSize-1)), flash.ErrMisaligned)
}

func TestWriteBlockRejectsOutOfRange(t *testing.T) {
	requireT := require.New(t)

	u, _, _ := newUpdater(t)

	requireT.ErrorIs(u.WriteBlock(imgPages*pageSize, make([]byte, pageSize)), flash.ErrOutOfRange)
	requireT.ErrorIs(u.WriteBlock(-pageSize, make([]byte, pageSize)), flash.ErrOutOfRange)
	requireT.ErrorIs(u.WriteBlock((imgPages-1)*pageSize, make([]byte, 2*pageSize)), flash.ErrOutOfRange)
}

func TestWriteBlockEmptyStagesNothing(t *testing.T) {
	requireT := require.New(t)

	u, dev, _ := newUpdater(t)

	staged := make([]byte, pageSize)
	for i := range staged {
		staged[i] = 0x5A
	}
	requireT.NoError(u.WriteBlock(0, staged))

	// A zero-length block must not reach the device: an erase here would
	// destroy the page staged above.
	ops := dev.Ops()
	requireT.NoError(u.WriteBlock(0, nil))
	requireT.NoError(u.WriteBlock(pageSize, []byte{}))
	requireT.Equal(ops, dev.Ops())

	got := make([]byte, pageSize)
	requireT.NoError(u.update.Read(0, got))
	requireT.Equal(staged, got)
}

func TestWriteBlockBusyDuringCycle(t *testing.T) {
	requireT := require.New(t)

	u, _, seeder := newUpdater(t)

	requireT.NoError(u.MarkUpdated())
	requireT.ErrorIs(u.WriteBlock(0, make([]byte, pageSize)), ErrBusy)

	requireT.NoError(seeder.Append(state.Status{Tag: state.TagTrialBoot}))
	requireT.ErrorIs(u.WriteBlock(0, make([]byte, pageSize)), ErrBusy)

	requireT.NoError(seeder.Append(state.Status{Tag: state.TagConfirmed}))
	requireT.NoError(u.WriteBlock(0, make([]byte, pageSize)))
}

func TestMarkUpdatedOpensCycle(t *testing.T) {
	requireT := require.New(t)

	u, _, _ := newUpdater(t)

	st, err := u.Status()
	requireT.NoError(err)
	requireT.Equal(state.TagIdle, st.Tag)

	requireT.NoError(u.MarkUpdated())

	st, err = u.Status()
	requireT.NoError(err)
	requireT.Equal(state.TagUpdateRequested, st.Tag)

	requireT.ErrorIs(u.MarkUpdated(), ErrBusy)
}

func TestMarkBootedConfirmsTrial(t *testing.T) {
	requireT := require.New(t)

	u, dev, seeder := newUpdater(t)

	requireT.NoError(seeder.Append(state.Status{Tag: state.TagTrialBoot}))
	requireT.NoError(u.MarkBooted())

	st, err := u.Status()
	requireT.NoError(err)
	requireT.Equal(state.TagConfirmed, st.Tag)

	// Confirming again must not touch flash.
	ops := dev.Ops()
	requireT.NoError(u.MarkBooted())
	requireT.Equal(ops, dev.Ops())
}

func TestMarkBootedIdleIsNoop(t *testing.T) {
	requireT := require.New(t)

	u, dev, _ := newUpdater(t)

	ops := dev.Ops()
	requireT.NoError(u.MarkBooted())
	requireT.Equal(ops, dev.Ops())

	st, err := u.Status()
	requireT.NoError(err)
	requireT.Equal(state.TagIdle, st.Tag)
}

func TestMarkBootedBusyMidSwap(t *testing.T) {
	requireT := require.New(t)

	u, _, seeder := newUpdater(t)

	requireT.NoError(seeder.Append(state.Status{Tag: state.TagSwapping, Page: 1, Phase: state.PhaseBacked}))
	requireT.ErrorIs(u.MarkBooted(), ErrBusy)
}

func TestAbortUpdateOnlyBeforeSwap(t *testing.T) {
	requireT := require.New(t)

	u, _, seeder := newUpdater(t)

	requireT.ErrorIs(u.AbortUpdate(), ErrBusy)

	requireT.NoError(u.MarkUpdated())
	requireT.NoError(u.AbortUpdate())

	st, err := u.Status()
	requireT.NoError(err)
	requireT.Equal(state.TagIdle, st.Tag)

	requireT.NoError(seeder.Append(state.Status{Tag: state.TagSwapping, Page: 0, Phase: state.PhaseBacked}))
	requireT.ErrorIs(u.AbortUpdate(), ErrBusy)
}

func TestNewRejectsUndersizedStateRegion(t *testing.T) {
	requireT := require.New(t)

	layout := testLayout()
	layout.State.Pages = 5 // 20 slots, one update cycle needs 23

	dev := memflash.New(devSize, pageSize, writeSize)
	_, err := New(dev, layout)
	requireT.Error(err)
}
