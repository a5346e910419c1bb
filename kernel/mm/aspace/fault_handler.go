package aspace

import (
	"bytes"
	"strings"

	"procmm/kernel"
	"procmm/kernel/cpu"
	"procmm/kernel/gate"
	"procmm/kernel/kfmt"
)

var (
	// the following functions are mocked by tests.
	handleInterruptFn = gate.HandleInterrupt
	readCR2Fn         = cpu.ReadCR2

	errKernelPageFault   = &kernel.Error{Module: "aspace", Message: "page fault without an active address space"}
	errGeneralProtection = &kernel.Error{Module: "aspace", Message: "general protection fault"}
)

// pageFaultPresent is set in the page fault error code when the fault was
// caused by a protection check on a present page.
const pageFaultPresent = 1 << 0

func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, pageFaultHandler)
	handleInterruptFn(gate.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a PDT or PDT-entry is not present or when a
// RW protection check fails. Not-present faults inside a region of the active
// address space are resolved by installing the faulting page. Protection
// faults are never recoverable.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	if regs.Info&pageFaultPresent != 0 {
		nonRecoverablePageFault(faultAddress, regs, ErrProtectionFault)
		return
	}

	as := active.Load()
	if as == nil {
		nonRecoverablePageFault(faultAddress, regs, errKernelPageFault)
		return
	}

	if err := as.HandleFault(faultAddress); err != nil {
		nonRecoverablePageFault(faultAddress, regs, err)
	}
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Logger("aspace").
		WithField("addr", kfmt.Hex(uintptr(readCR2Fn()))).
		WithField("regs", dumpRegisters(regs)).
		Error("general protection fault")

	panicFn(errGeneralProtection)
}

func nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err error) {
	var reason string
	switch regs.Info {
	case 0:
		reason = "read from non-present page"
	case 1:
		reason = "page protection violation (read)"
	case 2:
		reason = "write to non-present page"
	case 3:
		reason = "page protection violation (write)"
	case 4:
		reason = "page-fault in user-mode"
	case 8:
		reason = "page table has reserved bit set"
	case 16:
		reason = "instruction fetch"
	default:
		reason = "unknown"
	}

	kfmt.Logger("aspace").
		WithField("addr", kfmt.Hex(faultAddress)).
		WithField("reason", reason).
		WithField("regs", dumpRegisters(regs)).
		WithError(err).
		Error("page fault")

	// TODO: deliver SIGSEGV to the faulting task once tasks exist.
	panicFn(err)
}

func dumpRegisters(regs *gate.Registers) string {
	var buf bytes.Buffer
	regs.DumpTo(&buf)
	return "\n" + strings.TrimSuffix(buf.String(), "\n")
}
