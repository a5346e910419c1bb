package pmm

import (
	"procmm/kernel"
	"procmm/kernel/mm"
)

var (
	// ErrOutOfMemory is returned when no free physical frames remain.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

	errInvalidMemorySize = &kernel.Error{Module: "pmm", Message: "physical memory size must be a non-zero multiple of the page size"}
	errMemoryMapFailed   = &kernel.Error{Module: "pmm", Message: "unable to reserve backing storage for physical memory"}
	errMemoryUnmapFailed = &kernel.Error{Module: "pmm", Message: "unable to release backing storage for physical memory"}
	errAddressOutOfRange = &kernel.Error{Module: "pmm", Message: "physical address outside of installed memory"}
)

// Memory models the machine's installed physical memory as a contiguous
// arena. Physical address p lives at kernel-visible address Base()+p.
type Memory struct {
	arena []byte
	base  uintptr
	size  uintptr
}

// NewMemory reserves size bytes of physical memory. Size must be a non-zero
// multiple of mm.PageSize.
func NewMemory(size uintptr) (*Memory, *kernel.Error) {
	if size == 0 || !mm.IsAligned(size) {
		return nil, errInvalidMemorySize
	}

	arena, err := reserveArena(size)
	if err != nil {
		return nil, err
	}

	return &Memory{
		arena: arena,
		base:  kernelAddressOf(arena),
		size:  size,
	}, nil
}

// Size returns the amount of installed physical memory in bytes.
func (m *Memory) Size() uintptr {
	return m.size
}

// FrameCount returns the number of physical frames.
func (m *Memory) FrameCount() uintptr {
	return m.size >> mm.PageShift
}

// Base returns the kernel-visible address of physical address 0.
func (m *Memory) Base() uintptr {
	return m.base
}

// PhysToVirt returns the kernel-visible address for the supplied physical
// address.
func (m *Memory) PhysToVirt(physAddr uintptr) (uintptr, *kernel.Error) {
	if physAddr >= m.size {
		return 0, errAddressOutOfRange
	}
	return m.base + physAddr, nil
}

// Contains returns true if the physical range [physAddr, physAddr+length)
// lies inside the installed memory.
func (m *Memory) Contains(physAddr, length uintptr) bool {
	return physAddr < m.size && length <= m.size-physAddr
}

// Close releases the backing storage. The Memory must not be used after
// Close returns.
func (m *Memory) Close() *kernel.Error {
	if m.arena == nil {
		return nil
	}

	err := releaseArena(m.arena)
	m.arena, m.base, m.size = nil, 0, 0
	return err
}
