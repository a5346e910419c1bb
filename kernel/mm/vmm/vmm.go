// Package vmm implements multi-level page directory tables and the kernel's
// base mapping layout that every address space inherits.
package vmm

import (
	"procmm/kernel"
	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
)

var (
	// kernelPDT holds the kernel mappings that are shared by every
	// address space. It is set up by Init.
	kernelPDT *PageDirectoryTable

	errKernelLayoutMissing = &kernel.Error{Module: "vmm", Message: "kernel page directory table has not been initialized"}
	errKernelLayoutExists  = &kernel.Error{Module: "vmm", Message: "kernel page directory table already initialized"}
)

// Init creates the kernel PDT, maps physMemSize bytes of physical memory at
// KernelPageOffset so the kernel can reach any physical address from every
// address space, and activates the kernel PDT.
func Init(physMemSize uintptr) *kernel.Error {
	if kernelPDT != nil {
		return errKernelLayoutExists
	}

	pdt, err := NewPageDirectoryTable()
	if err != nil {
		return err
	}

	if err = pdt.MapRegion(KernelPageOffset, 0, mm.AlignUp(physMemSize), FlagPresent|FlagRW|FlagGlobal|FlagNoExecute, true); err != nil {
		pdt.releaseAll()
		return err
	}

	kernelPDT = pdt
	kernelPDT.Activate()

	kfmt.Logger("vmm").
		WithField("root", kfmt.Hex(kernelPDT.RootAddress())).
		WithField("direct_map", kfmt.Hex(KernelPageOffset)).
		Info("kernel page directory table active")
	return nil
}

// Shutdown releases the kernel PDT. Address spaces created from it must be
// released first.
func Shutdown() {
	if kernelPDT == nil {
		return
	}
	kernelPDT.releaseAll()
	kernelPDT = nil
}

// KernelPDT returns the kernel page directory table or nil if Init has not
// been called.
func KernelPDT() *PageDirectoryTable {
	return kernelPDT
}

// DuplicateKernelLayout returns a new PDT whose kernel half references the
// same tables as the kernel PDT. The user half is empty. Kernel mappings
// therefore resolve identically under every PDT created by this function.
func DuplicateKernelLayout() (*PageDirectoryTable, *kernel.Error) {
	if kernelPDT == nil {
		return nil, errKernelLayoutMissing
	}

	pdt, err := NewPageDirectoryTable()
	if err != nil {
		return nil, err
	}

	var (
		src = tableEntries(kernelPDT.pdtFrame)
		dst = tableEntries(pdt.pdtFrame)
	)
	copy(dst[kernelHalfFirstEntry:], src[kernelHalfFirstEntry:])

	return pdt, nil
}

// releaseAll frees every table of a PDT that owns its kernel half.
func (pdt *PageDirectoryTable) releaseAll() {
	root := tableEntries(pdt.pdtFrame)
	for index := kernelHalfFirstEntry; index < entriesPerTable; index++ {
		if root[index].HasFlags(FlagPresent) {
			releaseTable(root[index].Frame(), 1)
		}
		root[index] = 0
	}
	pdt.Release()
}
