package main

import (
	"procmm/kernel/cpu"
	"procmm/kernel/gate"
	"procmm/kernel/kfmt"
	"procmm/kernel/kmain"
	"procmm/kernel/mm"
	"procmm/kernel/mm/aspace"
)

// main boots the memory management subsystem with the default configuration,
// brings up a single address space with an anonymous heap region, faults in
// its first page and shuts everything down again.
//
// Any error during this sequence is fatal and reported through kfmt.Panic.
func main() {
	machine, err := kmain.Boot(kmain.DefaultConfig())
	if err != nil {
		kfmt.Panic(err)
	}

	as := aspace.Create()
	aspace.SwitchAddressSpace(aspace.ActiveID(), as)

	heapStart := uintptr(0x400000)
	heap, regionErr := aspace.NewRegion(heapStart, heapStart+16*mm.PageSize, 0, aspace.ProtRead|aspace.ProtWrite|aspace.ProtUser|aspace.MapPrivate|aspace.MapAnonymous, nil)
	if regionErr == nil {
		regionErr = as.Reserve(heap)
	}
	if regionErr != nil {
		kfmt.Panic(regionErr)
	}
	as.SetBrk(heap.End)

	// Touch the first heap page from user mode
	cpu.LoadCR2(uint64(heapStart))
	gate.Dispatch(gate.PageFaultException, &gate.Registers{Info: 6})

	kfmt.Logger("main").
		WithField("id", as.ID()).
		WithField("brk", kfmt.Hex(as.Brk())).
		WithField("regions", as.RegionCount()).
		Info("address space ready")

	as.Put()
	if err = machine.Shutdown(); err != nil {
		kfmt.Panic(err)
	}
}
