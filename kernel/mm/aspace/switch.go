package aspace

import (
	"sync/atomic"

	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
)

// active holds the address space whose page table is installed in the
// page-table root register. A nil value means that only the kernel layout is
// active.
var active atomic.Pointer[AddressSpace]

// Init resets the active address space marker and installs the page fault
// handlers. It is invoked once at boot after the kernel page directory table
// has been activated.
func Init() {
	active.Store(nil)
	installFaultHandlers()
	kfmt.Logger("aspace").Info("active address space marker initialized")
}

// ActiveID returns the identity of the active address space or 0 if no
// address space has been switched to since boot.
func ActiveID() uint64 {
	if as := active.Load(); as != nil {
		return as.id
	}
	return 0
}

// SwitchAddressSpace installs the page table of next unless prevID already
// identifies next, in which case it returns without touching the root
// register. The root is read and installed with local interrupts disabled.
//
// Switching to an address space with a malformed page table root is a fatal
// error.
func SwitchAddressSpace(prevID uint64, next *AddressSpace) {
	if prevID == next.ID() {
		return
	}

	next.lock.Acquire()

	var root uintptr
	if next.pageTable != nil {
		root = next.pageTable.RootAddress()
	}

	if root == 0 || !mm.IsAligned(root) {
		next.lock.Release()
		panicFn(errMalformedRoot)
		return
	}

	switchPDTFn(root)
	active.Store(next)
	next.lock.Release()

	kfmt.Logger("aspace").
		WithField("prev", prevID).
		WithField("next", next.id).
		WithField("root", kfmt.Hex(root)).
		Debug("switched address space")
}
