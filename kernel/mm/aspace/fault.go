package aspace

import (
	"procmm/kernel"
	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
)

// HandleFault installs the page containing addr. A frame is allocated for the
// page and mapped with the permissions of the region that covers addr. The
// page is then filled from the region's backing file or zeroed if the region
// is anonymous. A fault on a page that is already installed is a no-op.
//
// The address space lock is dropped before the page is filled. A concurrent
// fault on the same page may therefore return before the fill completes;
// callers that share a page across threads must serialize the first access.
//
// HandleFault only resolves not-present faults. Protection faults on present
// pages are rejected by the page fault handler before HandleFault runs.
func (as *AddressSpace) HandleFault(addr uintptr) error {
	page := mm.AlignDown(addr)

	frame, err := allocFrameFn()
	if err != nil {
		return err
	}

	virt := physToVirtFn(frame.Address())
	if virt == 0 {
		releaseFrame(frame)
		return errUnbackedRange
	}
	kernel.Memset(virt, 0, mm.PageSize)

	as.lock.Acquire()

	r, found := as.regions.Find(addr)
	if !found || as.pageTable == nil {
		as.lock.Release()
		releaseFrame(frame)
		return ErrSegmentationFault
	}

	if _, installed := as.faultFrames[page]; installed {
		as.lock.Release()
		releaseFrame(frame)
		return nil
	}

	if err = as.pageTable.MapRegion(page, frame.Address(), mm.PageSize, r.pteFlags(), false); err != nil {
		as.lock.Release()
		releaseFrame(frame)
		return err
	}
	as.faultFrames[page] = frame

	file, fileOffset := r.File(), r.FileOffset(page)
	as.lock.Release()

	kfmt.Logger("aspace").
		WithField("id", as.id).
		WithField("page", kfmt.Hex(page)).
		WithField("frame", kfmt.Hex(frame.Address())).
		Debug("page fault")

	if file == nil {
		return nil
	}
	return as.PopulateFromFile(frame.Address(), mm.PageSize, file, fileOffset)
}
