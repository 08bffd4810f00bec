//go:build !unix

package mem

// reserve falls back to a plain Go allocation on platforms without a
// mmap-shaped syscall available through golang.org/x/sys in this module
// (e.g. windows, where the corpus carries no example of VirtualAlloc
// usage to ground against). The region still never moves for its
// lifetime since nothing ever reslices or appends to it.
func reserve(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func release(region []byte) error {
	return nil
}
