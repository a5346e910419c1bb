package aspace

import (
	"sync/atomic"

	"procmm/kernel/mm"
	"procmm/kernel/mm/vmm"
)

// RegionFlag describes the protection and sharing attributes of a Region.
type RegionFlag uint32

const (
	// ProtRead allows reads from the region.
	ProtRead RegionFlag = 1 << iota

	// ProtWrite allows writes to the region.
	ProtWrite

	// ProtExec allows instruction fetches from the region.
	ProtExec

	// ProtUser makes the region accessible from user mode.
	ProtUser

	// MapShared marks a mapping whose updates are visible to other
	// mappings of the same file.
	MapShared

	// MapPrivate marks a private mapping.
	MapPrivate

	// MapAnonymous marks a mapping that is not backed by a file.
	MapAnonymous
)

// Region describes a contiguous, page-aligned virtual range [Start, End) of an
// address space together with its protection flags and optional backing file.
type Region struct {
	Start uintptr
	End   uintptr

	// PageOffset is the offset, in pages, of Start within the backing file.
	PageOffset uintptr

	Flags RegionFlag

	file atomic.Pointer[FileRef]
}

// NewRegion returns a region covering [start, end). Both bounds must be
// page-aligned, start must be lower than end and the range must lie inside
// the user half of the virtual address space. A nil file creates a region
// without a backing file; one may be attached later via AttachFile.
func NewRegion(start, end, pageOffset uintptr, flags RegionFlag, file *FileRef) (*Region, error) {
	if !mm.IsAligned(start) || !mm.IsAligned(end) {
		return nil, ErrMisaligned
	}

	if start >= end || end > vmm.UserSpaceEnd {
		return nil, ErrInvalidRegion
	}

	r := &Region{Start: start, End: end, PageOffset: pageOffset, Flags: flags}
	if file != nil {
		r.file.Store(file)
	}
	return r, nil
}

// Len returns the size of the region in bytes.
func (r *Region) Len() uintptr {
	return r.End - r.Start
}

// Contains returns true if addr lies within the region.
func (r *Region) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

// File returns the backing file of the region or nil for anonymous regions.
func (r *Region) File() *FileRef {
	return r.file.Load()
}

// AttachFile sets the backing file of a region that was created without one.
// A region's backing file can only be set once.
func (r *Region) AttachFile(file *FileRef) error {
	if file == nil || !r.file.CompareAndSwap(nil, file) {
		return ErrFileAlreadyAttached
	}
	return nil
}

// FileOffset returns the byte offset within the backing file that holds the
// contents of the page containing addr.
func (r *Region) FileOffset(addr uintptr) uintptr {
	return r.PageOffset<<mm.PageShift + (mm.AlignDown(addr) - r.Start)
}

// slice returns a new region covering [start, end) of r with the file page
// offset adjusted accordingly.
func (r *Region) slice(start, end uintptr) *Region {
	piece := &Region{
		Start:      start,
		End:        end,
		PageOffset: r.PageOffset + (start-r.Start)>>mm.PageShift,
		Flags:      r.Flags,
	}
	if file := r.file.Load(); file != nil {
		piece.file.Store(file)
	}
	return piece
}

// pteFlags returns the page table entry flags for pages of this region.
func (r *Region) pteFlags() vmm.PageTableEntryFlag {
	flags := vmm.FlagPresent
	if r.Flags&ProtWrite != 0 {
		flags |= vmm.FlagRW
	}
	if r.Flags&ProtUser != 0 {
		flags |= vmm.FlagUserAccessible
	}
	if r.Flags&ProtExec == 0 {
		flags |= vmm.FlagNoExecute
	}
	return flags
}
