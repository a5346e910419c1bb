//go:build !unix

package pmm

import (
	"unsafe"

	"procmm/kernel"
)

// retainedArenas keeps heap-backed arenas reachable while kernel-visible
// addresses into them are in use.
var retainedArenas = map[uintptr][]byte{}

func reserveArena(size uintptr) ([]byte, *kernel.Error) {
	arena := make([]byte, size)
	retainedArenas[kernelAddressOf(arena)] = arena
	return arena, nil
}

func releaseArena(arena []byte) *kernel.Error {
	delete(retainedArenas, kernelAddressOf(arena))
	return nil
}

func kernelAddressOf(arena []byte) uintptr {
	return uintptr(unsafe.Pointer(&arena[0]))
}
