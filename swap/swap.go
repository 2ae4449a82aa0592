// Package swap implements the crash-consistent page exchange between the active and
// update regions. The exchange pivots every page through a single spare flash page
// and logs each sub-phase to the state store before moving on, so after a power loss
// at any flash operation boundary it resumes exactly where the log says it stopped.
// The exchange is an involution: running it twice restores the original contents,
// which is why reverting a failed trial reuses the same algorithm under a different
// progress tag.
package swap

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/outofforest/pivot/flash"
	"github.com/outofforest/pivot/state"
)

// Engine exchanges the contents of the active and update regions page by page.
type Engine struct {
	store   *state.Store
	active  flash.Region
	update  flash.Region
	scratch flash.Region
	buf     []byte
	log     *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the logger used for progress reporting.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// New returns an engine bound to the three regions and the state store.
func New(store *state.Store, active, update, scratch flash.Region, opts ...Option) (*Engine, error) {
	if active.PageSize() != update.PageSize() {
		return nil, errors.Errorf("active and update regions use different page sizes: %d vs %d",
			active.PageSize(), update.PageSize())
	}
	if active.Pages() != update.Pages() {
		return nil, errors.Errorf("active and update regions hold different page counts: %d vs %d",
			active.Pages(), update.Pages())
	}
	if scratch.PageSize() != active.PageSize() {
		return nil, errors.Errorf("scratch page size %d does not match image page size %d",
			scratch.PageSize(), active.PageSize())
	}

	e := &Engine{
		store:   store,
		active:  active,
		update:  update,
		scratch: scratch,
		buf:     make([]byte, active.PageSize()),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run drives the exchange to completion under the given progress tag, resuming from
// whatever the state store recorded last. Pages are processed strictly in increasing
// order, one page open at a time:
//
//  1. active page -> scratch, log backed
//  2. update page -> active page, log committed
//  3. scratch -> update page, log done
//
// Interrupted steps are simply redone: the log slot, not the page content, decides
// how far the exchange got, and every redone step produces the same flash state it
// would have produced uninterrupted. On success the caller owns writing the next
// top-level status.
func (e *Engine) Run(tag state.Tag) error {
	if !tag.IsProgress() {
		return errors.Errorf("tag %s cannot record page progress", tag)
	}

	st, err := e.store.Status()
	if err != nil {
		return err
	}

	page, step := int64(0), state.PhaseBacked
	if st.Tag == tag {
		switch st.Phase {
		case state.PhaseBacked:
			page, step = st.Page, state.PhaseCommitted
		case state.PhaseCommitted:
			page, step = st.Page, state.PhaseDone
		case state.PhaseDone:
			page, step = st.Page+1, state.PhaseBacked
		}
	}

	pages := e.active.Pages()
	e.log.Info("page exchange running", "tag", tag.String(), "page", page, "pages", pages)

	for ; page < pages; page++ {
		if step == state.PhaseBacked {
			if err := e.copyPage(e.scratch, 0, e.active, page); err != nil {
				return err
			}
			if err := e.append(tag, page, state.PhaseBacked); err != nil {
				return err
			}
		}
		if step <= state.PhaseCommitted {
			if err := e.copyPage(e.active, page, e.update, page); err != nil {
				return err
			}
			if err := e.append(tag, page, state.PhaseCommitted); err != nil {
				return err
			}
		}
		if err := e.copyPage(e.update, page, e.scratch, 0); err != nil {
			return err
		}
		if err := e.append(tag, page, state.PhaseDone); err != nil {
			return err
		}
		step = state.PhaseBacked
	}

	e.log.Info("page exchange completed", "tag", tag.String(), "pages", pages)
	return nil
}

func (e *Engine) append(tag state.Tag, page int64, phase state.Phase) error {
	e.log.Debug("page progress", "tag", tag.String(), "page", page, "phase", phase.String())
	return e.store.Append(state.Status{Tag: tag, Page: page, Phase: phase})
}

func (e *Engine) copyPage(dst flash.Region, dstPage int64, src flash.Region, srcPage int64) error {
	if err := src.Read(srcPage*src.PageSize(), e.buf); err != nil {
		return err
	}
	if err := dst.ErasePage(dstPage); err != nil {
		return err
	}
	return dst.Write(dstPage*dst.PageSize(), e.buf)
}
