// Package sync provides synchronization primitive implementations for
// spinlocks.
package sync

import (
	"runtime"
	"sync/atomic"

	"procmm/kernel/cpu"
)

const attemptsBeforeYielding = 64

var (
	// yieldFn is invoked by spinning tasks after attemptsBeforeYielding
	// failed acquisition attempts.
	yieldFn = runtime.Gosched

	// the following functions are mocked by tests.
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); ; attempt++ {
		if atomic.LoadUint32(&l.state) == 0 && atomic.CompareAndSwapUint32(&l.state, 0, 1) {
			return
		}

		if attempt%attemptsBeforeYielding == 0 {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// IrqSpinlock is a Spinlock that keeps local interrupts disabled while it is
// held. Interrupts are disabled before spinning so an interrupt handler can
// never observe the lock held by the task it interrupted.
type IrqSpinlock struct {
	lock Spinlock
}

// Acquire disables interrupts and blocks until the lock can be acquired.
func (l *IrqSpinlock) Acquire() {
	disableInterruptsFn()
	l.lock.Acquire()
}

// Release relinquishes the lock and restores interrupt handling.
func (l *IrqSpinlock) Release() {
	l.lock.Release()
	enableInterruptsFn()
}
