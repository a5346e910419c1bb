package kfmt

import (
	"procmm/kernel"
	"procmm/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt
)

// Panic outputs the supplied error (if not nil) to the log sink and halts the
// CPU. Panic is reserved for violated kernel invariants; calls to Panic never
// return unless cpuHaltFn is mocked.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: "rt", Message: t}
	case error:
		err = &kernel.Error{Module: "rt", Message: t.Error()}
	}

	block := "\n-----------------------------------\n"
	if err != nil {
		block += "[" + err.Module + "] unrecoverable error: " + err.Message + "\n"
	}
	block += "*** kernel panic: system halted ***"
	block += "\n-----------------------------------\n"

	_, _ = output.Write([]byte(block))

	cpuHaltFn()
}
