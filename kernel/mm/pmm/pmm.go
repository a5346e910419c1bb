// Package pmm provides the machine's physical memory and the physical frame
// allocator.
package pmm

import (
	"procmm/kernel"
	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
)

var (
	// activeMemory is the physical memory installed by Init.
	activeMemory *Memory

	// frameAllocator is the standard allocator used by the kernel.
	frameAllocator BitmapAllocator

	errNotInitialized = &kernel.Error{Module: "pmm", Message: "physical memory has not been initialized"}
)

// Init installs size bytes of physical memory, sets up the frame allocator
// and registers it with the mm package. Frame 0 is kept reserved so that a
// zero physical address never refers to an allocated frame.
func Init(size uintptr) *kernel.Error {
	mem, err := NewMemory(size)
	if err != nil {
		return err
	}

	activeMemory = mem
	frameAllocator.Init(0, uint32(mem.FrameCount()))
	if err = frameAllocator.Reserve(0); err != nil {
		return err
	}

	mm.SetFrameAllocator(allocFrame)
	mm.SetFrameReleaser(freeFrame)

	kfmt.Logger("pmm").
		WithField("size", kfmt.Hex(size)).
		WithField("frames", frameAllocator.TotalCount()).
		Info("physical memory installed")
	return nil
}

// Shutdown unregisters the frame allocator and releases the physical memory.
func Shutdown() *kernel.Error {
	mm.SetFrameAllocator(nil)
	mm.SetFrameReleaser(nil)

	if activeMemory == nil {
		return nil
	}
	err := activeMemory.Close()
	activeMemory = nil
	return err
}

// PhysToVirt returns the kernel-visible address of a physical address in the
// installed memory. It returns 0 if the address is not backed by memory.
func PhysToVirt(physAddr uintptr) uintptr {
	if activeMemory == nil {
		return 0
	}

	virt, err := activeMemory.PhysToVirt(physAddr)
	if err != nil {
		return 0
	}
	return virt
}

// ActiveMemory returns the memory installed by Init.
func ActiveMemory() (*Memory, *kernel.Error) {
	if activeMemory == nil {
		return nil, errNotInitialized
	}
	return activeMemory, nil
}

// FreeFrameCount returns the number of unallocated frames.
func FreeFrameCount() uint32 {
	return frameAllocator.FreeCount()
}

func allocFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame()
}

func freeFrame(frame mm.Frame) *kernel.Error {
	return frameAllocator.FreeFrame(frame)
}
