//go:build linux || darwin

package physmem

import (
	"errors"

	"golang.org/x/sys/unix"
)

// mapAnon maps size bytes of private anonymous memory. Pages are zero-filled
// and only committed by the host when first touched, so large simulated DRAM
// sizes are cheap.
func mapAnon(size int) ([]byte, func() error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return data, cleanup, nil
}
