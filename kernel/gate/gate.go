// Package gate routes interrupts and exceptions to the handlers registered
// for them.
package gate

import (
	"fmt"
	"io"

	"procmm/kernel"
	"procmm/kernel/kfmt"
	"procmm/kernel/sync"
)

var (
	// handlers holds the handler registered for each interrupt number.
	handlers     [256]func(*Registers)
	handlersLock sync.Spinlock

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "no handler registered for interrupt"}
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the IRQ number for HW interrupts.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "RAX = %016x RBX = %016x\n", r.RAX, r.RBX)
	fmt.Fprintf(w, "RCX = %016x RDX = %016x\n", r.RCX, r.RDX)
	fmt.Fprintf(w, "RSI = %016x RDI = %016x\n", r.RSI, r.RDI)
	fmt.Fprintf(w, "RBP = %016x\n", r.RBP)
	fmt.Fprintf(w, "R8  = %016x R9  = %016x\n", r.R8, r.R9)
	fmt.Fprintf(w, "R10 = %016x R11 = %016x\n", r.R10, r.R11)
	fmt.Fprintf(w, "R12 = %016x R13 = %016x\n", r.R12, r.R13)
	fmt.Fprintf(w, "R14 = %016x R15 = %016x\n", r.R14, r.R15)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "RIP = %016x CS  = %016x\n", r.RIP, r.CS)
	fmt.Fprintf(w, "RSP = %016x SS  = %016x\n", r.RSP, r.SS)
	fmt.Fprintf(w, "RFL = %016x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)
)

// Init removes all registered handlers.
func Init() {
	handlersLock.Acquire()
	handlers = [256]func(*Registers){}
	handlersLock.Release()
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. Registering a handler for a number that
// already has one replaces it.
func HandleInterrupt(intNumber InterruptNumber, handler func(*Registers)) {
	handlersLock.Acquire()
	handlers[intNumber] = handler
	handlersLock.Release()
}

// Dispatch routes an interrupt to the handler registered for intNumber. Any
// changes the handler makes to regs are visible to the caller once Dispatch
// returns. Interrupts without a handler escalate to a kernel panic.
func Dispatch(intNumber InterruptNumber, regs *Registers) {
	handlersLock.Acquire()
	handler := handlers[intNumber]
	handlersLock.Release()

	if handler == nil {
		kfmt.Logger("gate").WithField("int", intNumber).Error("unhandled interrupt")
		panicFn(errUnhandledInterrupt)
		return
	}

	handler(regs)
}
