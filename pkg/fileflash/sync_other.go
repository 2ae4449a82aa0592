//go:build !linux && !freebsd

package fileflash

import (
	"os"

	"github.com/pkg/errors"
)

func fdatasync(f *os.File) error {
	return errors.WithStack(f.Sync())
}
