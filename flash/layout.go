package flash

import (
	"math"

	"github.com/pkg/errors"
)

// Layout describes the four flash regions owned by the update subsystem. Regions are
// static for the device's life; the layout is validated once at construction and the
// same values must be compiled into every firmware version sharing the device.
type Layout struct {
	// WriteSize is the program granularity of the device in bytes.
	WriteSize int64

	// Active holds the image that will be booted next.
	Active Geometry

	// Update is the staging area for a new image awaiting activation. It must have
	// exactly the same page size and page count as Active.
	Update Geometry

	// Scratch is the single spare page used as the pivot during a swap.
	Scratch Geometry

	// State holds the append-only status log.
	State Geometry
}

// Validate checks the geometric invariants of the layout.
func (l Layout) Validate() error {
	if l.WriteSize <= 0 {
		return errors.Errorf("invalid write granularity: %d", l.WriteSize)
	}

	regions := map[string]Geometry{
		"active":  l.Active,
		"update":  l.Update,
		"scratch": l.Scratch,
		"state":   l.State,
	}
	for name, g := range regions {
		if err := g.validate(); err != nil {
			return errors.Wrapf(err, "%s region", name)
		}
		if g.PageSize%l.WriteSize != 0 {
			return errors.Errorf("%s region page size %d is not a multiple of write granularity %d",
				name, g.PageSize, l.WriteSize)
		}
	}

	if l.Active.PageSize != l.Update.PageSize {
		return errors.Errorf("active and update regions use different page sizes: %d vs %d",
			l.Active.PageSize, l.Update.PageSize)
	}
	if l.Active.Pages != l.Update.Pages {
		return errors.Errorf("active and update regions hold different page counts: %d vs %d",
			l.Active.Pages, l.Update.Pages)
	}
	if l.Active.Pages > math.MaxUint16 {
		return errors.Errorf("image of %d pages exceeds the maximum of %d", l.Active.Pages, math.MaxUint16)
	}
	if l.Scratch.PageSize != l.Active.PageSize {
		return errors.Errorf("scratch page size %d does not match image page size %d",
			l.Scratch.PageSize, l.Active.PageSize)
	}
	if l.Scratch.Pages != 1 {
		return errors.Errorf("scratch region must be exactly one page, got %d", l.Scratch.Pages)
	}

	names := []string{"active", "update", "scratch", "state"}
	for i, a := range names {
		for _, b := range names[i+1:] {
			if regions[a].overlaps(regions[b]) {
				return errors.Errorf("%s and %s regions overlap", a, b)
			}
		}
	}

	return nil
}
