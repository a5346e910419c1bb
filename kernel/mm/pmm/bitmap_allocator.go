package pmm

import (
	"math/bits"

	"procmm/kernel"
	"procmm/kernel/mm"
	"procmm/kernel/sync"
)

var (
	errFrameNotAllocated = &kernel.Error{Module: "pmm", Message: "attempted to release a frame that is not allocated"}
	errFrameOutOfRange   = &kernel.Error{Module: "pmm", Message: "frame does not belong to this allocator"}
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations using a bitmap where bit i corresponds to frame
// (startFrame + i). A set bit marks a reserved frame.
type BitmapAllocator struct {
	lock sync.Spinlock

	// startFrame is the frame number for the first frame tracked by the
	// allocator.
	startFrame mm.Frame

	// totalFrames is the number of frames tracked by the allocator.
	totalFrames uint32

	// freeCount tracks the available frames. The allocator uses it to fail
	// fast when no frames are left without scanning the bitmap.
	freeCount uint32

	// nextScan is the bitmap block where the next allocation scan starts.
	nextScan int

	freeBitmap []uint64
}

// Init sets up the allocator to track frameCount frames starting at
// startFrame. All frames are initially free.
func (alloc *BitmapAllocator) Init(startFrame mm.Frame, frameCount uint32) {
	alloc.startFrame = startFrame
	alloc.totalFrames = frameCount
	alloc.freeCount = frameCount
	alloc.nextScan = 0

	// To represent the free bitmap we need frameCount bits rounded up to a
	// multiple of 64. The unused tail bits are marked as reserved so the
	// scan never hands them out.
	alloc.freeBitmap = make([]uint64, (frameCount+63)>>6)
	if tail := frameCount & 63; tail != 0 {
		alloc.freeBitmap[len(alloc.freeBitmap)-1] = ^uint64(0) << tail
	}
}

// AllocFrame reserves and returns the next free frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if alloc.freeCount == 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	for scanned, block := 0, alloc.nextScan; scanned < len(alloc.freeBitmap); scanned, block = scanned+1, (block+1)%len(alloc.freeBitmap) {
		if alloc.freeBitmap[block] == ^uint64(0) {
			continue
		}

		bit := bits.TrailingZeros64(^alloc.freeBitmap[block])
		alloc.freeBitmap[block] |= 1 << uint(bit)
		alloc.freeCount--
		alloc.nextScan = block

		return alloc.startFrame + mm.Frame(block<<6+bit), nil
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame returns a previously reserved frame to the allocator.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	block, mask, err := alloc.locate(frame)
	if err != nil {
		return err
	}

	if alloc.freeBitmap[block]&mask == 0 {
		return errFrameNotAllocated
	}

	alloc.freeBitmap[block] &^= mask
	alloc.freeCount++
	return nil
}

// Reserve flags the supplied frame as reserved. It is used to keep frames
// with special meaning (e.g. frame 0) out of circulation.
func (alloc *BitmapAllocator) Reserve(frame mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	block, mask, err := alloc.locate(frame)
	if err != nil {
		return err
	}

	if alloc.freeBitmap[block]&mask == 0 {
		alloc.freeBitmap[block] |= mask
		alloc.freeCount--
	}
	return nil
}

// FreeCount returns the number of free frames.
func (alloc *BitmapAllocator) FreeCount() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.freeCount
}

// TotalCount returns the number of frames tracked by the allocator.
func (alloc *BitmapAllocator) TotalCount() uint32 {
	return alloc.totalFrames
}

func (alloc *BitmapAllocator) locate(frame mm.Frame) (int, uint64, *kernel.Error) {
	if frame < alloc.startFrame || frame >= alloc.startFrame+mm.Frame(alloc.totalFrames) {
		return 0, 0, errFrameOutOfRange
	}

	index := uint32(frame - alloc.startFrame)
	return int(index >> 6), 1 << (index & 63), nil
}
