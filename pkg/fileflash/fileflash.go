// Package fileflash implements the flash device interface on top of a regular
// file, so host-side tooling can operate on flash images before they are ever
// written to a device.
package fileflash

import (
	"os"

	"github.com/pkg/errors"
)

const erased = 0xFF

// Dev is a file-backed flash device.
type Dev struct {
	file *os.File
	size int64
}

// Create creates a new image file of the given size, fully erased.
func Create(path string, size int64) (*Dev, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid image size: %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	d := &Dev{file: f, size: size}
	if err := d.fill(0, size); err != nil {
		_ = f.Close()
		return nil, err
	}
	return d, nil
}

// Open opens an existing image file.
func Open(path string) (*Dev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.WithStack(err)
	}
	return &Dev{file: f, size: info.Size()}, nil
}

// Read reads data from the image.
func (d *Dev) Read(off int64, p []byte) error {
	if err := d.bounds(off, int64(len(p))); err != nil {
		return err
	}
	if _, err := d.file.ReadAt(p, off); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Write writes data to the image. Unlike real flash the file accepts any bit
// transition; the erase discipline is enforced by the layers above.
func (d *Dev) Write(off int64, p []byte) error {
	if err := d.bounds(off, int64(len(p))); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(p, off); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Erase sets the range to the erased state.
func (d *Dev) Erase(off, length int64) error {
	if err := d.bounds(off, length); err != nil {
		return err
	}
	return d.fill(off, length)
}

// Size returns the byte size of the image.
func (d *Dev) Size() int64 {
	return d.size
}

// Sync flushes the image to stable storage.
func (d *Dev) Sync() error {
	return fdatasync(d.file)
}

// Close syncs and closes the image.
func (d *Dev) Close() error {
	if err := d.Sync(); err != nil {
		_ = d.file.Close()
		return err
	}
	return errors.WithStack(d.file.Close())
}

func (d *Dev) fill(off, length int64) error {
	buf := make([]byte, 64*1024)
	for i := range buf {
		buf[i] = erased
	}
	for length > 0 {
		n := int64(len(buf))
		if length < n {
			n = length
		}
		if _, err := d.file.WriteAt(buf[:n], off); err != nil {
			return errors.WithStack(err)
		}
		off += n
		length -= n
	}
	return nil
}

func (d *Dev) bounds(off, length int64) error {
	if off < 0 || length < 0 || off+length > d.size {
		return errors.Errorf("access of %d bytes at %d is out of range, image size %d",
			length, off, d.size)
	}
	return nil
}
