// Package kmain boots the memory management subsystem.
package kmain

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"procmm/kernel"
	"procmm/kernel/gate"
	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
	"procmm/kernel/mm/aspace"
	"procmm/kernel/mm/pmm"
	"procmm/kernel/mm/vmm"
)

// minPhysMemSize is the smallest amount of physical memory Boot accepts.
const minPhysMemSize = 2 * mm.HugePageSize

var (
	// booted is set while a Machine is running.
	booted bool

	errAlreadyBooted     = &kernel.Error{Module: "kmain", Message: "machine already booted"}
	errInvalidMemorySize = &kernel.Error{Module: "kmain", Message: "physical memory size must be page-aligned and at least 4M"}
	errUnsupportedLayout = &kernel.Error{Module: "kmain", Message: "unsupported kernel page offset"}
	errInvalidLogLevel   = &kernel.Error{Module: "kmain", Message: "invalid log level"}
)

// Config describes the machine that Boot brings up.
type Config struct {
	// PhysMemSize is the amount of physical memory to install.
	PhysMemSize uintptr

	// KernelPageOffset is the virtual address where physical memory is
	// mapped in every address space. Only vmm.KernelPageOffset is
	// supported.
	KernelPageOffset uintptr

	LogLevel logrus.Level

	// LogSink receives kernel log output. If nil, output stays in the
	// early ring buffer.
	LogSink io.Writer
}

// DefaultConfig returns a configuration with 64M of physical memory that logs
// to stderr.
func DefaultConfig() Config {
	return Config{
		PhysMemSize:      64 * 1024 * 1024,
		KernelPageOffset: vmm.KernelPageOffset,
		LogLevel:         logrus.InfoLevel,
		LogSink:          os.Stderr,
	}
}

// Validate checks cfg for values that Boot cannot apply.
func (cfg Config) Validate() *kernel.Error {
	if cfg.PhysMemSize < minPhysMemSize || !mm.IsAligned(cfg.PhysMemSize) {
		return errInvalidMemorySize
	}

	if cfg.KernelPageOffset != vmm.KernelPageOffset {
		return errUnsupportedLayout
	}

	if cfg.LogLevel > logrus.TraceLevel {
		return errInvalidLogLevel
	}

	return nil
}

// Machine is a booted memory management subsystem.
type Machine struct {
	cfg Config
}

// Boot validates cfg and initializes logging, physical memory, the kernel page
// directory table, interrupt dispatch and the active address space marker. Only
// one Machine can be running at a time.
func Boot(cfg Config) (*Machine, *kernel.Error) {
	if booted {
		return nil, errAlreadyBooted
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kfmt.SetLevel(cfg.LogLevel)
	if cfg.LogSink != nil {
		kfmt.SetOutputSink(cfg.LogSink)
	}

	if err := pmm.Init(cfg.PhysMemSize); err != nil {
		return nil, err
	}

	if err := vmm.Init(cfg.PhysMemSize); err != nil {
		_ = pmm.Shutdown()
		return nil, err
	}

	gate.Init()
	aspace.Init()
	booted = true

	kfmt.Logger("kmain").
		WithField("mem", kfmt.Hex(cfg.PhysMemSize)).
		WithField("free_frames", pmm.FreeFrameCount()).
		Info("boot complete")
	return &Machine{cfg: cfg}, nil
}

// Config returns the configuration the machine was booted with.
func (m *Machine) Config() Config {
	return m.cfg
}

// Shutdown tears down the kernel page directory table and releases physical
// memory. Address spaces created while the machine was running must be
// released first.
func (m *Machine) Shutdown() *kernel.Error {
	if !booted {
		return nil
	}

	vmm.Shutdown()
	err := pmm.Shutdown()
	booted = false

	kfmt.Logger("kmain").Info("shutdown complete")
	return err
}
