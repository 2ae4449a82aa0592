package state

import (
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/outofforest/photon"
)

// Tag identifies the update phase recorded by a slot. Values are part of the on-flash
// format and are fixed for the device's lifetime. 0x00 and 0xFF are deliberately
// unused so neither an erased slot nor an all-zero one can ever decode as valid.
type Tag byte

// Update phases.
const (
	// TagIdle means no update is pending, the active region is authoritative.
	TagIdle Tag = iota + 1

	// TagUpdateRequested means the application asked for an update, the swap has not
	// started yet.
	TagUpdateRequested

	// TagSwapping is a per-page progress record of the forward swap.
	TagSwapping

	// TagTrialBoot means the swap completed and the new image awaits confirmation.
	TagTrialBoot

	// TagConfirmed means the trial image accepted itself, equivalent to TagIdle
	// going forward.
	TagConfirmed

	// TagRevertRequested means an unconfirmed trial was detected and the previous
	// image is about to be restored.
	TagRevertRequested

	// TagReverting is a per-page progress record of the revert swap.
	TagReverting
)

// IsProgress returns true for the two per-page progress tags.
func (t Tag) IsProgress() bool {
	return t == TagSwapping || t == TagReverting
}

// IsSettled returns true for the statuses meaning the active region is authoritative
// and no update cycle is open.
func (t Tag) IsSettled() bool {
	return t == TagIdle || t == TagConfirmed
}

func (t Tag) String() string {
	switch t {
	case TagIdle:
		return "idle"
	case TagUpdateRequested:
		return "update requested"
	case TagSwapping:
		return "swapping"
	case TagTrialBoot:
		return "trial boot"
	case TagConfirmed:
		return "confirmed"
	case TagRevertRequested:
		return "revert requested"
	case TagReverting:
		return "reverting"
	default:
		return "invalid"
	}
}

// Phase is the sub-phase of the per-page swap protocol.
type Phase byte

// Swap sub-phases, in protocol order.
const (
	// PhaseNone is used by records which carry no page progress.
	PhaseNone Phase = iota

	// PhaseBacked means the page has been copied to the scratch page.
	PhaseBacked

	// PhaseCommitted means the update page has been copied over the active page.
	PhaseCommitted

	// PhaseDone means the scratch page has been copied back to the update region,
	// the page exchange is complete.
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseBacked:
		return "backed"
	case PhaseCommitted:
		return "committed"
	case PhaseDone:
		return "done"
	default:
		return "invalid"
	}
}

// Status is the decoded meaning of a slot: the update phase plus, for progress
// records, the page the swap is working on.
type Status struct {
	Tag   Tag
	Page  int64
	Phase Phase
}

func (s Status) String() string {
	if s.Tag.IsProgress() {
		return fmt.Sprintf("%s: page %d %s", s.Tag, s.Page, s.Phase)
	}
	return s.Tag.String()
}

// recordVersion is the slot format version written by this implementation.
const recordVersion = 1

// Record is the on-flash layout of one slot. The struct is free of implicit padding
// so its photon byte view is the wire format: 16 bytes, field order fixed forever.
type Record struct {
	Checksum uint64
	Page     uint16
	Tag      Tag
	Phase    Phase
	Version  uint8
	Reserved [3]uint8
}

// RecordSize is the byte size of one slot.
const RecordSize = int64(unsafe.Sizeof(Record{}))

// ComputeChecksum computes the checksum of the record.
func (r Record) ComputeChecksum() uint64 {
	r.Checksum = 0
	return xxhash.Sum64(photon.NewFromValue(&r).B)
}

func newRecord(s Status) Record {
	r := Record{
		Page:    uint16(s.Page),
		Tag:     s.Tag,
		Phase:   s.Phase,
		Version: recordVersion,
	}
	r.Checksum = r.ComputeChecksum()
	return r
}

// DecodeSlot decodes one slot. The second result is false if the slot is torn,
// corrupted or otherwise not a structurally valid record; such slots carry no
// status and are skipped by the scan.
func DecodeSlot(b []byte) (Status, bool) {
	if int64(len(b)) < RecordSize {
		return Status{}, false
	}
	r := photon.NewFromBytes[Record](b)
	if r.V.Checksum != r.V.ComputeChecksum() {
		return Status{}, false
	}
	if r.V.Version != recordVersion {
		return Status{}, false
	}

	s := Status{
		Tag:   r.V.Tag,
		Page:  int64(r.V.Page),
		Phase: r.V.Phase,
	}
	switch {
	case s.Tag.IsProgress():
		if s.Phase < PhaseBacked || s.Phase > PhaseDone {
			return Status{}, false
		}
	case s.Tag >= TagIdle && s.Tag <= TagReverting:
		if s.Phase != PhaseNone || s.Page != 0 {
			return Status{}, false
		}
	default:
		return Status{}, false
	}
	return s, true
}

// SlotErased returns true if the slot is fully erased, meaning it has never been
// programmed and is free for the next append.
func SlotErased(b []byte) bool {
	for _, v := range b[:RecordSize] {
		if v != 0xFF {
			return false
		}
	}
	return true
}
