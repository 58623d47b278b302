//go:build unix

package nandsim

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps size bytes of the file at path read-write, creating the
// file when it does not exist. fresh reports a new or empty file.
func mapFile(path string, size int64) (mem []byte, fresh bool, sync, closeFn func() error, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, nil, nil, err
	}
	defer f.Close() // safe before return; mapping keeps pages alive

	info, err := f.Stat()
	if err != nil {
		return nil, false, nil, nil, err
	}
	switch info.Size() {
	case 0:
		if err := f.Truncate(size); err != nil {
			return nil, false, nil, nil, err
		}
		fresh = true
	case size:
	default:
		return nil, false, nil, nil, fmt.Errorf("image is %d bytes, geometry needs %d", info.Size(), size)
	}

	mem, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, false, nil, nil, err
	}
	sync = func() error { return unix.Msync(mem, unix.MS_SYNC) }
	closeFn = func() error {
		err := unix.Munmap(mem)
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return mem, fresh, sync, closeFn, nil
}
