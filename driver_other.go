//go:build !linux

package v4l2

func openDriver(path string) (Driver, error) {
	return nil, newError("open "+path, KindConfiguration, ErrNotSupported)
}

func defaultAllocator() Allocator {
	return HeapAllocator{}
}
