package flash

import (
	"github.com/pkg/errors"
)

// Caller contract violations reported before any device operation is issued.
var (
	// ErrMisaligned is returned if an offset or length does not respect the device geometry.
	ErrMisaligned = errors.New("flash: misaligned access")

	// ErrOutOfRange is returned if an access does not fit inside the region.
	ErrOutOfRange = errors.New("flash: access out of range")
)

// Dev is the interface required from the flash device driver. Offsets are absolute
// device addresses. The core never assumes anything about the storage beyond these
// three operations plus the region geometry provided at construction.
//
// Write programs bytes into a previously erased range. Erase erases whole pages,
// leaving the range all-0xFF. Both may block the caller for the hardware-specified
// duration. Errors reported by the driver are propagated up, never ignored.
type Dev interface {
	Read(off int64, p []byte) error
	Write(off int64, p []byte) error
	Erase(off, length int64) error
}

// Geometry describes the placement of a single region on the device.
type Geometry struct {
	// Offset is the absolute byte address of the first page of the region.
	Offset int64

	// PageSize is the erase granularity of the region in bytes.
	PageSize int64

	// Pages is the number of pages in the region.
	Pages int64
}

// Size returns the byte size of the region described by the geometry.
func (g Geometry) Size() int64 {
	return g.PageSize * g.Pages
}

func (g Geometry) end() int64 {
	return g.Offset + g.Size()
}

func (g Geometry) overlaps(o Geometry) bool {
	return g.Offset < o.end() && o.Offset < g.end()
}

func (g Geometry) validate() error {
	if g.PageSize <= 0 {
		return errors.Errorf("invalid page size: %d", g.PageSize)
	}
	if g.Pages <= 0 {
		return errors.Errorf("invalid page count: %d", g.Pages)
	}
	if g.Offset < 0 || g.Offset%g.PageSize != 0 {
		return errors.Errorf("region offset %d is not aligned to page size %d", g.Offset, g.PageSize)
	}
	return nil
}

// Region is a page-aligned window of the device. All offsets passed to its methods
// are relative to the start of the region and are bounds-checked before the device
// is touched.
type Region struct {
	dev       Dev
	geometry  Geometry
	writeSize int64
}

// NewRegion returns a region bound to the device.
func NewRegion(dev Dev, geometry Geometry, writeSize int64) (Region, error) {
	if dev == nil {
		return Region{}, errors.New("nil device")
	}
	if err := geometry.validate(); err != nil {
		return Region{}, err
	}
	if writeSize <= 0 || geometry.PageSize%writeSize != 0 {
		return Region{}, errors.Errorf("write granularity %d does not divide page size %d",
			writeSize, geometry.PageSize)
	}
	return Region{
		dev:       dev,
		geometry:  geometry,
		writeSize: writeSize,
	}, nil
}

// PageSize returns the erase granularity of the region.
func (r Region) PageSize() int64 {
	return r.geometry.PageSize
}

// Pages returns the number of pages in the region.
func (r Region) Pages() int64 {
	return r.geometry.Pages
}

// Size returns the byte size of the region.
func (r Region) Size() int64 {
	return r.geometry.Size()
}

// WriteSize returns the program granularity of the device.
func (r Region) WriteSize() int64 {
	return r.writeSize
}

// Read reads len(p) bytes starting at the region-relative offset.
func (r Region) Read(off int64, p []byte) error {
	if err := r.contains(off, int64(len(p))); err != nil {
		return err
	}
	return r.dev.Read(r.geometry.Offset+off, p)
}

// Write programs len(p) bytes starting at the region-relative offset. The offset
// and length must respect the device's write granularity.
func (r Region) Write(off int64, p []byte) error {
	if err := r.contains(off, int64(len(p))); err != nil {
		return err
	}
	if off%r.writeSize != 0 || int64(len(p))%r.writeSize != 0 {
		return errors.Wrapf(ErrMisaligned, "write of %d bytes at %d, granularity %d",
			len(p), off, r.writeSize)
	}
	return r.dev.Write(r.geometry.Offset+off, p)
}

// ErasePage erases exactly one page, leaving its content all-0xFF.
func (r Region) ErasePage(page int64) error {
	if page < 0 || page >= r.geometry.Pages {
		return errors.Wrapf(ErrOutOfRange, "page %d of %d", page, r.geometry.Pages)
	}
	return r.dev.Erase(r.geometry.Offset+page*r.geometry.PageSize, r.geometry.PageSize)
}

func (r Region) contains(off, length int64) error {
	if length < 0 || off < 0 || off+length > r.geometry.Size() {
		return errors.Wrapf(ErrOutOfRange, "%d bytes at %d, region size %d",
			length, off, r.geometry.Size())
	}
	return nil
}
