package vmm

import (
	"unsafe"

	"procmm/kernel"
	"procmm/kernel/cpu"
	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
	"procmm/kernel/mm/pmm"
)

var (
	// switchPDTFn is used by tests to observe writes to the page-table
	// root register.
	switchPDTFn = cpu.SwitchPDT

	// flushTLBEntryFn is used by tests to count TLB invalidations.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// physToVirtFn resolves a physical address to its kernel-visible
	// address. Tests override it to place page tables in Go memory.
	physToVirtFn = pmm.PhysToVirt

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned when a mapping request targets a page
	// that is already mapped.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}

	// ErrMisaligned is returned when a mapping request uses addresses or
	// lengths that are not page-aligned.
	ErrMisaligned = &kernel.Error{Module: "vmm", Message: "mapping request is not page-aligned"}

	errNoHugePageSplit = &kernel.Error{Module: "vmm", Message: "partial unmap of a huge page is not supported"}
	errUnbackedFrame   = &kernel.Error{Module: "vmm", Message: "page table frame is not backed by physical memory"}
)

// PageDirectoryTable describes the top-most table in a multi-level paging
// scheme. Tables at every level live in physical frames obtained from
// mm.AllocFrame and are accessed through their kernel-visible addresses.
type PageDirectoryTable struct {
	pdtFrame mm.Frame
}

// NewPageDirectoryTable allocates and clears a frame for a new, empty page
// directory table.
func NewPageDirectoryTable() (*PageDirectoryTable, *kernel.Error) {
	frame, err := allocTableFrame()
	if err != nil {
		return nil, err
	}

	return &PageDirectoryTable{pdtFrame: frame}, nil
}

// RootAddress returns the physical address of the top-most table. This is the
// value loaded into the page-table root register when the table is activated.
func (pdt *PageDirectoryTable) RootAddress() uintptr {
	return pdt.pdtFrame.Address()
}

// Activate installs this page directory table in the page-table root
// register and flushes the TLB.
func (pdt *PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}

// Map establishes a mapping between a virtual page and a physical memory frame
// using this PDT. Missing intermediate tables are allocated with the supplied
// physical frame allocator. Mapping a page that is already present fails with
// ErrAlreadyMapped.
func (pdt *PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return pdt.mapAtLevel(page.Address(), frame, flags, pageLevels-1)
}

// MapRegion maps length bytes starting at virtAddr to the physical range
// starting at physAddr. All arguments must be page-aligned and length must be
// non-zero. When allowHuge is set, huge pages are used for every part of the
// range where both addresses are huge-page aligned and at least
// mm.HugePageSize bytes remain.
//
// MapRegion either maps the whole range or nothing: if a page cannot be
// mapped, the pages mapped by this call are removed before the error is
// returned.
func (pdt *PageDirectoryTable) MapRegion(virtAddr, physAddr, length uintptr, flags PageTableEntryFlag, allowHuge bool) *kernel.Error {
	if length == 0 || !mm.IsAligned(virtAddr) || !mm.IsAligned(physAddr) || !mm.IsAligned(length) {
		return ErrMisaligned
	}

	var (
		err    *kernel.Error
		mapped uintptr
	)

	for mapped < length {
		virt, phys, remaining := virtAddr+mapped, physAddr+mapped, length-mapped

		if allowHuge && remaining >= mm.HugePageSize && isHugeAligned(virt) && isHugeAligned(phys) {
			if err = pdt.mapAtLevel(virt, mm.FrameFromAddress(phys), flags|FlagHugePage, hugePageLevel); err == nil {
				mapped += mm.HugePageSize
				continue
			}

			// The huge slot is occupied by a table; fall back to
			// regular pages which may still fit.
			if err != ErrAlreadyMapped {
				break
			}
		}

		if err = pdt.mapAtLevel(virt, mm.FrameFromAddress(phys), flags, pageLevels-1); err != nil {
			break
		}
		mapped += mm.PageSize
	}

	if err != nil && mapped != 0 {
		_ = pdt.UnmapRegion(virtAddr, mapped)
	}

	return err
}

// mapAtLevel installs a leaf entry for virtAddr at the requested page level.
func (pdt *PageDirectoryTable) mapAtLevel(virtAddr uintptr, frame mm.Frame, flags PageTableEntryFlag, leafLevel uint8) *kernel.Error {
	var err *kernel.Error

	pdt.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the leaf level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == leafLevel {
			if pte.HasFlags(FlagPresent) {
				err = ErrAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | FlagPresent)
			flushTLBEntryFn(virtAddr)
			return false
		}

		if pte.HasFlags(FlagPresent | FlagHugePage) {
			err = ErrAlreadyMapped
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents. Intermediate
		// tables are permissive; the leaf entry decides the effective
		// access rights.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			if newTableFrame, err = allocTableFrame(); err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
		}

		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to Map.
func (pdt *PageDirectoryTable) Unmap(page mm.Page) *kernel.Error {
	var err *kernel.Error

	pdt.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// Next table is not present; this is an invalid mapping
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSplit
			return false
		}

		// If we reached the last level all we need to do is to clear
		// the entry and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			flushTLBEntryFn(page.Address())
		}

		return true
	})

	return err
}

// UnmapRegion removes all mappings in [virtAddr, virtAddr+length). Pages in
// the range that are not mapped are skipped. Huge pages must be unmapped as
// a whole; a range that covers only part of a huge page fails with
// errNoHugePageSplit before any entry is modified.
func (pdt *PageDirectoryTable) UnmapRegion(virtAddr, length uintptr) *kernel.Error {
	if !mm.IsAligned(virtAddr) || !mm.IsAligned(length) {
		return ErrMisaligned
	}

	end := virtAddr + length

	// Validate first so the operation never leaves the range half unmapped.
	for virt := virtAddr; virt < end; {
		pte, level := pdt.leafEntry(virt)
		if pte != nil && level == hugePageLevel {
			if !isHugeAligned(virt) || end-virt < mm.HugePageSize {
				return errNoHugePageSplit
			}
			virt += mm.HugePageSize
			continue
		}
		virt += mm.PageSize
	}

	for virt := virtAddr; virt < end; {
		pte, level := pdt.leafEntry(virt)
		if pte == nil {
			virt += mm.PageSize
			continue
		}

		*pte = 0
		flushTLBEntryFn(virt)

		if level == hugePageLevel {
			virt += mm.HugePageSize
		} else {
			virt += mm.PageSize
		}
	}

	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pdt *PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, level := pdt.leafEntry(virtAddr)
	if pte == nil {
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	offsetMask := uintptr(1)<<pageLevelShifts[level] - 1
	return pte.Frame().Address() + (virtAddr & offsetMask), nil
}

// EntryFlags returns the flags of the leaf entry that maps virtAddr.
func (pdt *PageDirectoryTable) EntryFlags(virtAddr uintptr) (PageTableEntryFlag, *kernel.Error) {
	pte, _ := pdt.leafEntry(virtAddr)
	if pte == nil {
		return 0, ErrInvalidMapping
	}
	return pte.Flags(), nil
}

// Release frees every table frame that belongs to the user half of this PDT
// and the top-level frame itself. Frames referenced by leaf entries are owned
// by whoever established the mapping and are not released. Kernel-half tables
// are shared with the kernel PDT and are left untouched.
func (pdt *PageDirectoryTable) Release() {
	if !pdt.pdtFrame.Valid() {
		return
	}

	root := tableEntries(pdt.pdtFrame)
	for index := 0; index < kernelHalfFirstEntry; index++ {
		if root[index].HasFlags(FlagPresent) {
			releaseTable(root[index].Frame(), 1)
		}
		root[index] = 0
	}

	releaseFrame(pdt.pdtFrame)
	pdt.pdtFrame = mm.InvalidFrame
}

// releaseTable releases the table in frame, which lives at the given level,
// together with all tables below it.
func releaseTable(frame mm.Frame, level uint8) {
	if level < pageLevels-1 {
		entries := tableEntries(frame)
		for index := range entries {
			if entries[index].HasFlags(FlagPresent) && !entries[index].HasFlags(FlagHugePage) {
				releaseTable(entries[index].Frame(), level+1)
			}
		}
	}

	releaseFrame(frame)
}

// releaseFrame returns a table frame to the frame allocator and logs a
// failure to do so.
func releaseFrame(frame mm.Frame) {
	if err := mm.ReleaseFrame(frame); err != nil {
		kfmt.Logger("vmm").
			WithField("frame", kfmt.Hex(frame.Address())).
			WithError(err).
			Warn("unable to release page table frame")
	}
}

// leafEntry returns the entry that maps virtAddr along with its page level or
// nil if the address is not mapped.
func (pdt *PageDirectoryTable) leafEntry(virtAddr uintptr) (*pageTableEntry, uint8) {
	var (
		entry *pageTableEntry
		level uint8
	)

	pdt.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			entry, level = pte, pteLevel
			return false
		}

		return true
	})

	return entry, level
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls the
// suppplied walkFn with the page table entry that corresponds to each page
// table level. The walk descends into the table referenced by the entry that
// walkFn was called with, so walkFn may install a missing table before
// returning true.
func (pdt *PageDirectoryTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableFrame := pdt.pdtFrame
	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)

		entries := tableEntries(tableFrame)
		pte := &entries[entryIndex]
		if !walkFn(level, pte) {
			return
		}

		tableFrame = pte.Frame()
	}
}

// tableEntries overlays a page table on top of the kernel-visible address of
// the supplied frame.
func tableEntries(frame mm.Frame) *[entriesPerTable]pageTableEntry {
	addr := physToVirtFn(frame.Address())
	if addr == 0 {
		panic(errUnbackedFrame)
	}
	return (*[entriesPerTable]pageTableEntry)(unsafe.Pointer(addr))
}

// allocTableFrame allocates a frame for a page table and clears it.
func allocTableFrame() (mm.Frame, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	addr := physToVirtFn(frame.Address())
	if addr == 0 {
		releaseFrame(frame)
		return mm.InvalidFrame, errUnbackedFrame
	}
	kernel.Memset(addr, 0, mm.PageSize)

	return frame, nil
}

func isHugeAligned(addr uintptr) bool {
	return addr&(mm.HugePageSize-1) == 0
}
