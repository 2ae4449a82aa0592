// Package pivot keeps an A/B firmware update power-fail-safe. The bootloader
// runs once per reset, finishes whatever page exchange a previous power loss
// interrupted, reverts trial firmware that never confirmed itself, and then
// hands control to the image in the active region.
package pivot

import (
	"log/slog"

	"github.com/outofforest/pivot/flash"
	"github.com/outofforest/pivot/state"
	"github.com/outofforest/pivot/swap"
)

// Boot identifies the image the caller must transfer control to.
type Boot uint8

// BootActive tells the caller to run the firmware in the active region. It is
// the only decision: the exchange moves images, the boot target never moves.
const BootActive Boot = 0

func (b Boot) String() string {
	if b == BootActive {
		return "active"
	}
	return "unknown"
}

// Bootloader drives the update cycle at reset time.
type Bootloader struct {
	store  *state.Store
	engine *swap.Engine
	log    *slog.Logger
}

// Option configures the bootloader.
type Option func(*Bootloader)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bootloader) {
		b.log = log
	}
}

// New returns a bootloader for the given device layout. The layout is
// validated here, including the state region capacity needed by a worst-case
// update cycle, so a misconfigured device fails at construction instead of in
// the middle of an exchange.
func New(dev flash.Dev, layout flash.Layout, opts ...Option) (*Bootloader, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	active, err := flash.NewRegion(dev, layout.Active, layout.WriteSize)
	if err != nil {
		return nil, err
	}
	update, err := flash.NewRegion(dev, layout.Update, layout.WriteSize)
	if err != nil {
		return nil, err
	}
	scratch, err := flash.NewRegion(dev, layout.Scratch, layout.WriteSize)
	if err != nil {
		return nil, err
	}
	stateRegion, err := flash.NewRegion(dev, layout.State, layout.WriteSize)
	if err != nil {
		return nil, err
	}
	store, err := state.NewStore(stateRegion, layout.Active.Pages)
	if err != nil {
		return nil, err
	}

	b := &Bootloader{
		store: store,
		log:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}

	engine, err := swap.New(store, active, update, scratch, swap.WithLogger(b.log))
	if err != nil {
		return nil, err
	}
	b.engine = engine
	return b, nil
}

// Run executes one reset. It reads the last durable status, completes or
// reverts the update cycle as that status demands, and returns the boot
// decision. Run never decides anything from page contents: after a power loss
// the log alone says how far the exchange got.
func (b *Bootloader) Run() (Boot, error) {
	st, err := b.store.Status()
	if err != nil {
		return BootActive, err
	}
	b.log.Info("reset", "status", st.String())

	switch st.Tag {
	case state.TagIdle, state.TagConfirmed:
		// Nothing pending.

	case state.TagUpdateRequested, state.TagSwapping:
		if err := b.finishSwap(); err != nil {
			return BootActive, err
		}

	case state.TagTrialBoot:
		// The trial firmware ran and never confirmed itself.
		b.log.Warn("trial firmware unconfirmed, reverting")
		if err := b.store.Append(state.Status{Tag: state.TagRevertRequested}); err != nil {
			return BootActive, err
		}
		if err := b.finishRevert(); err != nil {
			return BootActive, err
		}

	case state.TagRevertRequested, state.TagReverting:
		if err := b.finishRevert(); err != nil {
			return BootActive, err
		}
	}

	b.log.Info("booting", "image", BootActive.String())
	return BootActive, nil
}

func (b *Bootloader) finishSwap() error {
	if err := b.engine.Run(state.TagSwapping); err != nil {
		return err
	}
	return b.store.Append(state.Status{Tag: state.TagTrialBoot})
}

func (b *Bootloader) finishRevert() error {
	if err := b.engine.Run(state.TagReverting); err != nil {
		return err
	}
	return b.store.Append(state.Status{Tag: state.TagIdle})
}
