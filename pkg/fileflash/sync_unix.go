//go:build linux || freebsd

package fileflash

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fdatasync skips the metadata flush: only the file content matters for the
// update state, and the file size never changes after creation.
func fdatasync(f *os.File) error {
	return errors.WithStack(unix.Fdatasync(int(f.Fd())))
}
