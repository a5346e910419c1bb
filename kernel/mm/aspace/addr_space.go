// Package aspace manages process address spaces: the regions that make up
// each one, the page table that backs it, switching between address spaces
// and populating file-backed mappings on demand.
package aspace

//go:generate mockgen -destination=mock_pagetable_test.go -package=aspace . PageTable

import (
	"sync/atomic"

	"procmm/kernel"
	"procmm/kernel/cpu"
	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
	"procmm/kernel/mm/pmm"
	"procmm/kernel/mm/vmm"
	"procmm/kernel/sync"
)

// mappingFlags is the permission set used by MapRegion.
const mappingFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible

var (
	// nextID is the last identity handed out by Create.
	nextID atomic.Uint64

	// the following functions are mocked by tests.
	newPageTableFn = duplicateKernelLayout
	switchPDTFn    = cpu.SwitchPDT
	physToVirtFn   = pmm.PhysToVirt
	allocFrameFn   = mm.AllocFrame
	panicFn        = kfmt.Panic
	kernelRootFn   = kernelRoot
)

// PageTable is the hardware page table owned by an address space.
type PageTable interface {
	// MapRegion maps length bytes at virt to the physical range at phys.
	MapRegion(virt, phys, length uintptr, flags vmm.PageTableEntryFlag, allowHuge bool) *kernel.Error

	// UnmapRegion removes every mapping in [virt, virt+length).
	UnmapRegion(virt, length uintptr) *kernel.Error

	// RootAddress returns the physical address of the top-level table.
	RootAddress() uintptr

	// Release frees the tables that are private to this page table.
	Release()
}

func duplicateKernelLayout() (PageTable, *kernel.Error) {
	pdt, err := vmm.DuplicateKernelLayout()
	if err != nil {
		return nil, err
	}
	return pdt, nil
}

// AddressSpace describes the virtual memory of a process.
type AddressSpace struct {
	// lock guards every field below; it is never held during file I/O.
	lock sync.IrqSpinlock

	id        uint64
	regions   *RegionSet
	pageTable PageTable
	brk       uintptr

	// faultFrames tracks the frames allocated by HandleFault keyed by
	// the page they are mapped at.
	faultFrames map[uintptr]mm.Frame

	refCount atomic.Int64
}

// Create returns a new address space with a unique identity, no regions and a
// page table that shares the kernel mappings. The returned address space
// holds a single reference.
//
// Failing to allocate the page table is a fatal error.
func Create() *AddressSpace {
	pageTable, err := newPageTableFn()
	if err != nil {
		panicFn(err)
		return nil
	}

	as := &AddressSpace{
		id:          nextID.Add(1),
		regions:     NewRegionSet(),
		pageTable:   pageTable,
		faultFrames: make(map[uintptr]mm.Frame),
	}
	as.refCount.Store(1)

	kfmt.Logger("aspace").
		WithField("id", as.id).
		WithField("root", kfmt.Hex(pageTable.RootAddress())).
		Debug("created address space")
	return as
}

// ID returns the identity of the address space.
func (as *AddressSpace) ID() uint64 {
	return as.id
}

// Brk returns the current heap boundary.
func (as *AddressSpace) Brk() uintptr {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.brk
}

// SetBrk replaces the heap boundary. It does not change any mapping; callers
// are expected to page-align addr and map or unmap the heap to match.
func (as *AddressSpace) SetBrk(addr uintptr) {
	as.lock.Acquire()
	as.brk = addr
	as.lock.Release()
}

// MapRegion maps length bytes at virt to the physical range at phys with
// read, write, execute and user access. All arguments must be page-aligned
// and length must be non-zero. The range must lie below vmm.UserSpaceEnd.
// MapRegion only updates the page table; the caller is responsible for
// recording a Region.
func (as *AddressSpace) MapRegion(virt, phys, length uintptr, _ RegionFlag) error {
	if length == 0 || !mm.IsAligned(virt) || !mm.IsAligned(phys) || !mm.IsAligned(length) {
		return ErrMisaligned
	}

	if end := virt + length; end < virt || end > vmm.UserSpaceEnd {
		return ErrInvalidRegion
	}

	as.lock.Acquire()
	defer as.lock.Release()

	return as.mapLocked(virt, phys, length, mappingFlags)
}

// Mmap records r and maps it to the physical range starting at phys using the
// protections of r. If r overlaps an existing region or the mapping cannot be
// installed, the address space is left unchanged.
func (as *AddressSpace) Mmap(r *Region, phys uintptr) error {
	if !mm.IsAligned(phys) {
		return ErrMisaligned
	}

	as.lock.Acquire()
	defer as.lock.Release()

	if as.pageTable == nil {
		return errReleased
	}

	if r.End > vmm.UserSpaceEnd {
		return ErrInvalidRegion
	}

	if as.regions.Overlaps(r.Start, r.End) {
		return ErrRegionOverlap
	}

	if err := as.mapLocked(r.Start, phys, r.Len(), r.pteFlags()); err != nil {
		return err
	}

	return as.regions.Insert(r)
}

// Reserve records r without mapping it. Pages of a reserved region are
// installed by HandleFault when first accessed.
func (as *AddressSpace) Reserve(r *Region) error {
	as.lock.Acquire()
	defer as.lock.Release()

	if as.pageTable == nil {
		return errReleased
	}

	return as.regions.Insert(r)
}

// Munmap unmaps [start, start+length). Regions that intersect the range are
// removed, shrunk or split and frames allocated by HandleFault for pages in
// the range are released. Unmapping a range that contains no mappings is not
// an error.
func (as *AddressSpace) Munmap(start, length uintptr) error {
	if !mm.IsAligned(start) || !mm.IsAligned(length) {
		return ErrMisaligned
	}

	end := start + length
	if end < start || end > vmm.UserSpaceEnd {
		return ErrInvalidRegion
	}

	if length == 0 {
		return nil
	}

	as.lock.Acquire()
	defer as.lock.Release()

	if as.pageTable == nil {
		return errReleased
	}

	if err := as.pageTable.UnmapRegion(start, length); err != nil {
		return err
	}

	removed := as.regions.Remove(start, end)

	var released int
	for page, frame := range as.faultFrames {
		if page >= start && page < end {
			releaseFrame(frame)
			delete(as.faultFrames, page)
			released++
		}
	}

	kfmt.Logger("aspace").
		WithField("id", as.id).
		WithField("start", kfmt.Hex(start)).
		WithField("len", kfmt.Hex(length)).
		WithField("regions", len(removed)).
		WithField("frames", released).
		Debug("unmapped range")
	return nil
}

// FindRegion returns the region that contains addr.
func (as *AddressSpace) FindRegion(addr uintptr) (*Region, bool) {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.regions.Find(addr)
}

// VisitRegions calls fn for every region in ascending address order until fn
// returns false. fn must not call back into the address space.
func (as *AddressSpace) VisitRegions(fn func(*Region) bool) {
	as.lock.Acquire()
	defer as.lock.Release()
	as.regions.Ascend(fn)
}

// RegionCount returns the number of regions in the address space.
func (as *AddressSpace) RegionCount() int {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.regions.Len()
}

// Get acquires an additional reference to the address space.
func (as *AddressSpace) Get() *AddressSpace {
	as.refCount.Add(1)
	return as
}

// Put drops a reference to the address space. Dropping the last reference
// releases the page table and every frame allocated by HandleFault. If the
// address space is still active, the kernel page table is installed first.
func (as *AddressSpace) Put() {
	switch refs := as.refCount.Add(-1); {
	case refs > 0:
		return
	case refs < 0:
		panicFn(errRefCountUnderflow)
		return
	}

	as.lock.Acquire()
	if active.Load() == as {
		switchPDTFn(kernelRootFn())
		active.Store(nil)
	}
	for page, frame := range as.faultFrames {
		releaseFrame(frame)
		delete(as.faultFrames, page)
	}
	as.regions.Clear()
	if as.pageTable != nil {
		as.pageTable.Release()
		as.pageTable = nil
	}
	as.lock.Release()

	kfmt.Logger("aspace").WithField("id", as.id).Debug("released address space")
}

// mapLocked installs a mapping in the page table. as.lock must be held.
func (as *AddressSpace) mapLocked(virt, phys, length uintptr, flags vmm.PageTableEntryFlag) error {
	if as.pageTable == nil {
		return errReleased
	}

	if err := as.pageTable.MapRegion(virt, phys, length, flags, true); err != nil {
		return err
	}
	return nil
}

// releaseFrame returns frame to the frame allocator and logs a failure to do
// so.
func releaseFrame(frame mm.Frame) {
	if err := mm.ReleaseFrame(frame); err != nil {
		kfmt.Logger("aspace").
			WithField("frame", kfmt.Hex(frame.Address())).
			WithError(err).
			Warn("unable to release frame")
	}
}

func kernelRoot() uintptr {
	if pdt := vmm.KernelPDT(); pdt != nil {
		return pdt.RootAddress()
	}
	return 0
}
