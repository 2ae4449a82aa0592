package memflash

import (
	"github.com/pkg/errors"
)

// ErrPowerCut is returned by every operation issued after an injected power cut,
// until PowerOn is called.
var ErrPowerCut = errors.New("memflash: power cut")

const erased = 0xFF

// Dev simulates a flash device in memory. Unlike a plain byte buffer it enforces
// flash semantics: writes must respect the program granularity and may only target
// erased bytes, erases cover whole pages. Deterministic power cuts can be injected
// at any operation boundary, which is how the crash-consistency properties of the
// swap algorithm are exercised.
type Dev struct {
	data      []byte
	pageSize  int64
	writeSize int64

	ops      int
	cutAfter int
	tear     bool
	dead     bool
}

// New returns a new device of the given size, fully erased.
func New(size, pageSize, writeSize int64) *Dev {
	if size <= 0 || pageSize <= 0 || writeSize <= 0 || size%pageSize != 0 || pageSize%writeSize != 0 {
		panic(errors.Errorf("invalid geometry: size %d, page %d, write %d", size, pageSize, writeSize))
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = erased
	}
	return &Dev{
		data:      data,
		pageSize:  pageSize,
		writeSize: writeSize,
		cutAfter:  -1,
	}
}

// Read reads data from the device.
func (d *Dev) Read(off int64, p []byte) error {
	if d.dead {
		return errors.WithStack(ErrPowerCut)
	}
	if err := d.bounds(off, int64(len(p))); err != nil {
		return err
	}
	copy(p, d.data[off:])
	return nil
}

// Write programs data into an erased range. Programming a byte which is not 0xFF
// is reported as an error because it means an erase was skipped.
func (d *Dev) Write(off int64, p []byte) error {
	if d.dead {
		return errors.WithStack(ErrPowerCut)
	}
	if err := d.bounds(off, int64(len(p))); err != nil {
		return err
	}
	if off%d.writeSize != 0 || int64(len(p))%d.writeSize != 0 {
		return errors.Errorf("write of %d bytes at %d does not respect granularity %d",
			len(p), off, d.writeSize)
	}
	for i, b := range p {
		if d.data[off+int64(i)] != erased && d.data[off+int64(i)] != b {
			return errors.Errorf("programming byte %d which is not erased", off+int64(i))
		}
	}

	n := int64(len(p))
	if cut, torn := d.cut(); cut {
		if torn {
			n = n / 2 / d.writeSize * d.writeSize
			copy(d.data[off:], p[:n])
		}
		return errors.WithStack(ErrPowerCut)
	}

	copy(d.data[off:], p[:n])
	return nil
}

// Erase erases whole pages, leaving the range all-0xFF.
func (d *Dev) Erase(off, length int64) error {
	if d.dead {
		return errors.WithStack(ErrPowerCut)
	}
	if err := d.bounds(off, length); err != nil {
		return err
	}
	if off%d.pageSize != 0 || length%d.pageSize != 0 {
		return errors.Errorf("erase of %d bytes at %d does not respect page size %d",
			length, off, d.pageSize)
	}

	if cut, torn := d.cut(); cut {
		if torn {
			// Half of the pages are gone, the rest keeps its old content.
			for i := off; i < off+length/2/d.pageSize*d.pageSize; i++ {
				d.data[i] = erased
			}
		}
		return errors.WithStack(ErrPowerCut)
	}

	for i := off; i < off+length; i++ {
		d.data[i] = erased
	}
	return nil
}

// CutAfter arranges for the power to fail once n further mutating operations have
// completed: the n+1-th write or erase fails without touching the device.
func (d *Dev) CutAfter(n int) {
	d.ops = 0
	d.cutAfter = n
	d.tear = false
}

// TearAfter is CutAfter with the failing operation half-applied, simulating a write
// or erase torn by the power loss.
func (d *Dev) TearAfter(n int) {
	d.ops = 0
	d.cutAfter = n
	d.tear = true
}

// PowerOn restores a device turned off by an injected power cut. No further cut is
// armed; content written before the cut is preserved.
func (d *Dev) PowerOn() {
	d.dead = false
	d.cutAfter = -1
	d.tear = false
}

// Ops returns the number of mutating operations completed since the last CutAfter,
// TearAfter or New. Running a scenario once on a healthy device gives the boundary
// count for an exhaustive crash sweep.
func (d *Dev) Ops() int {
	return d.ops
}

// Snapshot returns a copy of the device content.
func (d *Dev) Snapshot() []byte {
	s := make([]byte, len(d.data))
	copy(s, d.data)
	return s
}

func (d *Dev) bounds(off, length int64) error {
	if off < 0 || length < 0 || off+length > int64(len(d.data)) {
		return errors.Errorf("access of %d bytes at %d is out of range, device size %d",
			length, off, len(d.data))
	}
	return nil
}

func (d *Dev) cut() (bool, bool) {
	if d.cutAfter >= 0 && d.ops >= d.cutAfter {
		d.dead = true
		return true, d.tear
	}
	d.ops++
	return false, false
}
