// Package cpu models the privileged state of the executing hart: the
// interrupt-enable flag, the page-table root register and the TLB.
//
// All goroutines share a single modelled hart. Interrupt suppression nests, so
// interrupts stay disabled for as long as at least one caller holds them off.
package cpu

import (
	"sync/atomic"

	"procmm/kernel"
)

var (
	// ErrHalted is the value Halt panics with.
	ErrHalted = &kernel.Error{Module: "cpu", Message: "cpu halted"}

	hart hartState
)

type hartState struct {
	// pdtRoot is the physical address loaded into the page-table root
	// register.
	pdtRoot atomic.Uintptr

	// irqOffDepth counts outstanding DisableInterrupts calls.
	irqOffDepth atomic.Int32

	// cr2 holds the address that triggered the last page fault.
	cr2 atomic.Uint64

	rootWrites atomic.Uint64
	tlbFlushes atomic.Uint64
}

// DisableInterrupts disables interrupt handling. Calls nest; each call must be
// balanced by a call to EnableInterrupts.
func DisableInterrupts() {
	hart.irqOffDepth.Add(1)
}

// EnableInterrupts undoes a previous call to DisableInterrupts. Interrupts are
// re-enabled once every DisableInterrupts call has been balanced.
func EnableInterrupts() {
	for {
		depth := hart.irqOffDepth.Load()
		if depth == 0 {
			return
		}
		if hart.irqOffDepth.CompareAndSwap(depth, depth-1) {
			return
		}
	}
}

// InterruptsEnabled returns true if interrupt handling is enabled.
func InterruptsEnabled() bool {
	return hart.irqOffDepth.Load() == 0
}

// Halt stops instruction execution on the current hart. The calling goroutine
// is unwound by a panic carrying ErrHalted.
func Halt() {
	panic(ErrHalted)
}

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(_ uintptr) {
	hart.tlbFlushes.Add(1)
}

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr) {
	hart.pdtRoot.Store(pdtPhysAddr)
	hart.rootWrites.Add(1)
	hart.tlbFlushes.Add(1)
}

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr {
	return hart.pdtRoot.Load()
}

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64 {
	return hart.cr2.Load()
}

// LoadCR2 records the address that caused a page fault. It is invoked by
// whoever raises the fault before the page fault handler is dispatched.
func LoadCR2(faultAddr uint64) {
	hart.cr2.Store(faultAddr)
}

// Stats describes counters collected by the hart model.
type Stats struct {
	// RootWrites counts writes to the page-table root register.
	RootWrites uint64

	// TLBFlushes counts single-entry and full TLB flushes.
	TLBFlushes uint64
}

// ReadStats returns a snapshot of the hart counters.
func ReadStats() Stats {
	return Stats{
		RootWrites: hart.rootWrites.Load(),
		TLBFlushes: hart.tlbFlushes.Load(),
	}
}
