package state

import (
	"bytes"

	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/outofforest/pivot/flash"
)

// ErrStoreFull is returned if the state region is exhausted while an update cycle is
// open. Compaction is unsafe mid-swap, so this is fatal for the cycle; the capacity
// check in NewStore and compaction ahead of each cycle keep it out of reach as long
// as the region also carries some slack for slots torn by power cuts.
var ErrStoreFull = errors.New("state: region exhausted")

// Store is the append-only status log kept in the state region. Slots are written
// exactly once, in order; the current status is the newest structurally valid slot.
// Nothing is cached: every Status call re-reads flash from the last known offset, so
// the answer reflects what actually survived the last reset, not an in-memory
// assumption invalidated by it.
//
// A store instance assumes it is the only writer of the region for its lifetime,
// which the single-context execution model guarantees.
type Store struct {
	region flash.Region
	cycle  int64

	next    int64
	current Status
}

// NewStore returns a store over the state region for images of the given page count.
// Running out of slots mid-swap is unrecoverable, so the region must hold at least
// MinSlots(pages) slots; sizing is a construction-time contract, never handled
// mid-cycle.
func NewStore(region flash.Region, pages int64) (*Store, error) {
	if region.PageSize()%RecordSize != 0 {
		return nil, errors.Errorf("page size %d is not a multiple of the slot size %d",
			region.PageSize(), RecordSize)
	}
	if RecordSize%region.WriteSize() != 0 {
		return nil, errors.Errorf("slot size %d does not respect write granularity %d",
			RecordSize, region.WriteSize())
	}
	if slots := region.Size() / RecordSize; slots < MinSlots(pages) {
		return nil, errors.Errorf("state region holds %d slots, an image of %d pages needs %d",
			slots, pages, MinSlots(pages))
	}
	return &Store{
		region:  region,
		cycle:   MinSlots(pages) - 1,
		current: Status{Tag: TagIdle},
	}, nil
}

// Status returns the status encoded by the newest valid slot. Torn and corrupted
// slots carry no status and are skipped; an empty log means idle, which also makes
// the erase-then-rewrite window of compaction safe.
func (s *Store) Status() (Status, error) {
	if err := s.scan(); err != nil {
		return Status{}, err
	}
	return s.current, nil
}

// Append writes the status into the next free slot and verifies it by reading it
// back. Appends made in a settled state open (or could open) a new update cycle, so
// if the remaining slots cannot hold a worst-case cycle the log is compacted first,
// while compaction is still legal. Exhaustion in an open cycle surfaces as
// ErrStoreFull.
func (s *Store) Append(st Status) error {
	if err := s.scan(); err != nil {
		return err
	}

	free := (s.region.Size() - s.next) / RecordSize
	switch {
	case s.current.Tag.IsSettled() && free < s.cycle:
		if err := s.Compact(s.current); err != nil {
			return err
		}
	case free < 1:
		return errors.Wrapf(ErrStoreFull, "cannot compact while %s", s.current)
	}

	if err := s.writeSlot(s.next, st); err != nil {
		return err
	}
	s.next += RecordSize
	s.current = st
	return nil
}

// Compact erases the whole region and rewrites it as a single slot encoding the
// status. Only settled statuses may be compacted: a crash between the erase and the
// rewrite leaves an empty log, which decodes as idle and is equivalent.
func (s *Store) Compact(st Status) error {
	if !st.Tag.IsSettled() {
		return errors.Errorf("refusing to compact unsettled status %s", st)
	}

	// Reset the scan position first: if the erase or the rewrite is interrupted,
	// the next operation rescans from the start and derives the truth from flash.
	s.next = 0
	s.current = Status{Tag: TagIdle}

	for page := int64(0); page < s.region.Pages(); page++ {
		if err := s.region.ErasePage(page); err != nil {
			return err
		}
	}

	if err := s.writeSlot(0, st); err != nil {
		return err
	}
	s.next = RecordSize
	s.current = st
	return nil
}

// scan reads slots from the last known offset forward and keeps the newest valid
// one. Erased slots are skipped without consuming them: the append offset stays at
// the end of the last programmed slot, so space wasted by a torn write is never
// reused without an erase.
func (s *Store) scan() error {
	pageSize := s.region.PageSize()
	buf := make([]byte, pageSize)

	for off := s.next - s.next%pageSize; off < s.region.Size(); off += pageSize {
		if err := s.region.Read(off, buf); err != nil {
			return err
		}
		for so := int64(0); so < pageSize; so += RecordSize {
			if off+so < s.next {
				continue
			}
			slot := buf[so : so+RecordSize]
			if SlotErased(slot) {
				continue
			}
			s.next = off + so + RecordSize
			if st, ok := DecodeSlot(slot); ok {
				s.current = st
			}
		}
	}
	return nil
}

func (s *Store) writeSlot(off int64, st Status) error {
	rec := newRecord(st)
	b := photon.NewFromValue(&rec).B

	if err := s.region.Write(off, b); err != nil {
		return errors.Wrapf(err, "writing slot %s", st)
	}

	// Ordering of slot writes is what the crash-consistency argument rests on, so
	// every write is verified before the next one is allowed to happen.
	verify := make([]byte, RecordSize)
	if err := s.region.Read(off, verify); err != nil {
		return err
	}
	if !bytes.Equal(b, verify) {
		return errors.Errorf("slot verification failed at offset %d", off)
	}
	return nil
}

// MinSlots returns the number of slots the state region must hold for an image of
// the given page count: one consolidated base slot plus the worst-case update cycle,
// a full forward swap followed by a full revert with every transition logged, none
// of it compactable.
func MinSlots(pages int64) int64 {
	return 6*pages + 5
}
