//go:build !unix

package nandsim

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// mapFile reads the whole image when mmap is not available; sync writes it
// back.
func mapFile(path string, size int64) (mem []byte, fresh bool, sync, closeFn func() error, err error) {
	mem, err = os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) || (err == nil && len(mem) == 0):
		mem, fresh = make([]byte, size), true
	case err != nil:
		return nil, false, nil, nil, err
	case int64(len(mem)) != size:
		return nil, false, nil, nil, fmt.Errorf("image is %d bytes, geometry needs %d", len(mem), size)
	}
	sync = func() error { return os.WriteFile(path, mem, 0o644) }
	return mem, fresh, sync, sync, nil
}
