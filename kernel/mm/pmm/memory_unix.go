//go:build unix

package pmm

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"procmm/kernel"
)

// reserveArena backs physical memory with an anonymous private mapping so it
// lives outside the Go heap and is zeroed by the host.
func reserveArena(size uintptr) ([]byte, *kernel.Error) {
	arena, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errMemoryMapFailed
	}
	return arena, nil
}

func releaseArena(arena []byte) *kernel.Error {
	if err := unix.Munmap(arena); err != nil {
		return errMemoryUnmapFailed
	}
	return nil
}

func kernelAddressOf(arena []byte) uintptr {
	return uintptr(unsafe.Pointer(&arena[0]))
}
