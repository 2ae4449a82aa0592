// Package updater is the write side of the update cycle, used by the running
// application: it stages a firmware image into the update region and moves the
// cycle between its settled states. It never swaps pages itself; requesting an
// update only records the request, and the bootloader performs the exchange on
// the next reset.
package updater

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/outofforest/pivot/flash"
	"github.com/outofforest/pivot/state"
)

// ErrBusy is returned when the requested transition is not legal in the
// current state of the update cycle.
var ErrBusy = errors.New("updater: busy")

// Updater stages firmware and drives the settled states of the update cycle.
type Updater struct {
	update flash.Region
	store  *state.Store
	log    *slog.Logger
}

// Option configures the updater.
type Option func(*Updater)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(u *Updater) {
		u.log = log
	}
}

// New returns an updater operating on the update and state regions of the layout.
func New(dev flash.Dev, layout flash.Layout, opts ...Option) (*Updater, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	update, err := flash.NewRegion(dev, layout.Update, layout.WriteSize)
	if err != nil {
		return nil, err
	}
	stateRegion, err := flash.NewRegion(dev, layout.State, layout.WriteSize)
	if err != nil {
		return nil, err
	}
	store, err := state.NewStore(stateRegion, layout.Update.Pages)
	if err != nil {
		return nil, err
	}

	u := &Updater{
		update: update,
		store:  store,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Status returns the current status of the update cycle.
func (u *Updater) Status() (state.Status, error) {
	return u.store.Status()
}

// WriteBlock stages firmware bytes into the update region. off must be
// page-aligned and len(p) a multiple of the write granularity; the pages the
// block covers are erased before programming, so every page may be written at
// most once per staging pass. Staging is refused while an update cycle is
// open: once the cycle leaves Idle/Confirmed the update region holds data the
// exchange depends on.
func (u *Updater) WriteBlock(off int64, p []byte) error {
	st, err := u.store.Status()
	if err != nil {
		return err
	}
	if !st.Tag.IsSettled() {
		return errors.Wrapf(ErrBusy, "cannot stage firmware in state %s", st)
	}

	pageSize := u.update.PageSize()
	if off%pageSize != 0 {
		return errors.Wrapf(flash.ErrMisaligned, "block offset %d is not page-aligned", off)
	}
	if int64(len(p))%u.update.WriteSize() != 0 {
		return errors.Wrapf(flash.ErrMisaligned, "block length %d is not a multiple of the write granularity %d",
			len(p), u.update.WriteSize())
	}
	if off < 0 || off+int64(len(p)) > u.update.Size() {
		return errors.Wrapf(flash.ErrOutOfRange, "block [%d, %d) exceeds the update region of %d bytes",
			off, off+int64(len(p)), u.update.Size())
	}

	// A zero-length block stages nothing and touches no page.
	if len(p) == 0 {
		return nil
	}

	for page := off / pageSize; page <= (off+int64(len(p))-1)/pageSize; page++ {
		if err := u.update.ErasePage(page); err != nil {
			return err
		}
	}
	if err := u.update.Write(off, p); err != nil {
		return err
	}

	u.log.Debug("firmware block staged", "offset", off, "length", len(p))
	return nil
}

// MarkUpdated records that a complete image has been staged and an exchange
// should run on the next reset.
func (u *Updater) MarkUpdated() error {
	st, err := u.store.Status()
	if err != nil {
		return err
	}
	if !st.Tag.IsSettled() {
		return errors.Wrapf(ErrBusy, "update cycle already open in state %s", st)
	}
	if err := u.store.Append(state.Status{Tag: state.TagUpdateRequested}); err != nil {
		return err
	}
	u.log.Info("update requested")
	return nil
}

// MarkBooted confirms the firmware that is currently running. Called by new
// firmware during its trial boot; once recorded, the bootloader stops trying
// to revert it. Confirming an already settled cycle is a no-op so firmware may
// call it unconditionally on every boot.
func (u *Updater) MarkBooted() error {
	st, err := u.store.Status()
	if err != nil {
		return err
	}
	switch st.Tag {
	case state.TagTrialBoot:
		if err := u.store.Append(state.Status{Tag: state.TagConfirmed}); err != nil {
			return err
		}
		u.log.Info("firmware confirmed")
		return nil
	case state.TagIdle, state.TagConfirmed:
		return nil
	default:
		return errors.Wrapf(ErrBusy, "cannot confirm in state %s", st)
	}
}

// AbortUpdate withdraws a requested update before the bootloader has touched
// any page. Once the exchange started the request cannot be aborted, only
// completed and reverted through a trial boot.
func (u *Updater) AbortUpdate() error {
	st, err := u.store.Status()
	if err != nil {
		return err
	}
	if st.Tag != state.TagUpdateRequested {
		return errors.Wrapf(ErrBusy, "no pending update to abort in state %s", st)
	}
	if err := u.store.Append(state.Status{Tag: state.TagIdle}); err != nil {
		return err
	}
	u.log.Info("update aborted")
	return nil
}
