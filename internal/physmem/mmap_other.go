//go:build !linux && !darwin

package physmem

// mapAnon falls back to heap memory where anonymous mmap is not available.
func mapAnon(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
