//go:build !unix

package pmm

func allocBacking(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
