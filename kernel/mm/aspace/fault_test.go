package aspace

import (
	"bytes"
	"testing"

	"golang.org/x/sync/errgroup"

	"procmm/kernel"
	"procmm/kernel/cpu"
	"procmm/kernel/mm"
	"procmm/kernel/mm/pmm"
	"procmm/kernel/mm/vmm"
)

// setupKernelLayout installs physical memory and the kernel page directory
// table so that Create returns address spaces backed by real page tables.
func setupKernelLayout(t *testing.T) {
	setupPhysicalMemory(t, 8*oneMb)

	if err := vmm.Init(8 * oneMb); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(vmm.Shutdown)

	Init()
}

// translate returns the contents of the page mapped at virt.
func translate(t *testing.T, as *AddressSpace, virt uintptr) []byte {
	t.Helper()

	phys, err := as.pageTable.(*vmm.PageDirectoryTable).Translate(virt)
	if err != nil {
		t.Fatalf("expected 0x%x to be mapped; got %v", virt, err)
	}
	return physBytes(mm.AlignDown(phys), mm.PageSize)
}

func TestHandleFaultAnonymous(t *testing.T) {
	setupKernelLayout(t)

	freeBefore := pmm.FreeFrameCount()

	as := Create()
	r := mustNewRegion(t, 0x400000, 0x404000, 0, ProtRead|ProtWrite|ProtUser|MapPrivate|MapAnonymous, nil)
	if err := as.Reserve(r); err != nil {
		t.Fatal(err)
	}

	if err := as.HandleFault(0x401234); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(translate(t, as, 0x401234), make([]byte, mm.PageSize)) {
		t.Fatal("expected anonymous page to be zeroed")
	}

	flags, err := as.pageTable.(*vmm.PageDirectoryTable).EntryFlags(0x401000)
	if err != nil {
		t.Fatal(err)
	}

	if exp := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible | vmm.FlagNoExecute; flags&exp != exp {
		t.Fatalf("expected page flags to include %x; got %x", exp, flags)
	}

	// A second fault on the same page leaves the mapping alone
	freeAfterFault := pmm.FreeFrameCount()
	if err := as.HandleFault(0x401000); err != nil {
		t.Fatal(err)
	}

	if got := pmm.FreeFrameCount(); got != freeAfterFault {
		t.Fatalf("expected repeated fault not to consume frames; free count %d, expected %d", got, freeAfterFault)
	}

	if _, err = as.pageTable.(*vmm.PageDirectoryTable).Translate(0x400000); err != vmm.ErrInvalidMapping {
		t.Fatalf("expected untouched pages to stay unmapped; got %v", err)
	}

	as.Put()

	if got := pmm.FreeFrameCount(); got != freeBefore {
		t.Fatalf("expected all frames to be released; free count %d, expected %d", got, freeBefore)
	}
}

func TestHandleFaultSegmentationFault(t *testing.T) {
	setupKernelLayout(t)

	as := Create()
	defer as.Put()

	if err := as.Reserve(mustNewRegion(t, 0x400000, 0x401000, 0, ProtRead|ProtUser, nil)); err != nil {
		t.Fatal(err)
	}

	freeBefore := pmm.FreeFrameCount()

	for _, addr := range []uintptr{0, 0x3fffff, 0x401000} {
		if err := as.HandleFault(addr); err != ErrSegmentationFault {
			t.Errorf("expected ErrSegmentationFault for 0x%x; got %v", addr, err)
		}
	}

	if got := pmm.FreeFrameCount(); got != freeBefore {
		t.Fatalf("expected failed faults not to leak frames; free count %d, expected %d", got, freeBefore)
	}
}

func TestHandleFaultAllocError(t *testing.T) {
	defer func(origAllocFrame func() (mm.Frame, *kernel.Error)) {
		allocFrameFn = origAllocFrame
	}(allocFrameFn)

	setupKernelLayout(t)

	as := Create()
	defer as.Put()

	if err := as.Reserve(mustNewRegion(t, 0x400000, 0x401000, 0, ProtRead|ProtUser, nil)); err != nil {
		t.Fatal(err)
	}

	allocFrameFn = func() (mm.Frame, *kernel.Error) {
		return mm.InvalidFrame, pmm.ErrOutOfMemory
	}

	if err := as.HandleFault(0x400000); err != pmm.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}
}

func TestHandleFaultFileBacked(t *testing.T) {
	setupKernelLayout(t)

	as := Create()
	defer as.Put()

	var (
		data = fileContents(3*int(mm.PageSize) + 100)
		file = NewFileRef(bytes.NewReader(data))
	)

	// The region maps the file starting at its second page
	r := mustNewRegion(t, 0x600000, 0x604000, 1, ProtRead|ProtUser|MapPrivate, file)
	if err := as.Reserve(r); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		addr   uintptr
		expSrc []byte
	}{
		{0x600000, data[mm.PageSize : 2*mm.PageSize]},
		{0x601010, data[2*mm.PageSize : 3*mm.PageSize]},
		{0x602fff, data[3*mm.PageSize:]},
		{0x603000, nil},
	}

	for specIndex, spec := range specs {
		if err := as.HandleFault(spec.addr); err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		exp := make([]byte, mm.PageSize)
		copy(exp, spec.expSrc)

		if !bytes.Equal(translate(t, as, spec.addr), exp) {
			t.Errorf("[spec %d] unexpected contents for page at 0x%x", specIndex, spec.addr)
		}
	}

	flags, err := as.pageTable.(*vmm.PageDirectoryTable).EntryFlags(0x600000)
	if err != nil {
		t.Fatal(err)
	}

	if flags&vmm.FlagRW != 0 {
		t.Fatal("expected read-only mapping")
	}
}

func TestHandleFaultConcurrent(t *testing.T) {
	setupKernelLayout(t)

	const pages = 32

	as := Create()
	defer as.Put()

	r := mustNewRegion(t, 0x800000, 0x800000+pages*mm.PageSize, 0, ProtRead|ProtWrite|ProtUser|MapAnonymous, nil)
	if err := as.Reserve(r); err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	for page := uintptr(0); page < pages; page++ {
		addr := r.Start + page*mm.PageSize
		g.Go(func() error {
			// Every page is faulted twice to exercise racing faults
			if err := as.HandleFault(addr); err != nil {
				return err
			}
			return as.HandleFault(addr + 8)
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := len(as.faultFrames); got != pages {
		t.Fatalf("expected %d installed pages; got %d", pages, got)
	}
}

func TestMunmapReleasesFaultFrames(t *testing.T) {
	setupKernelLayout(t)

	as := Create()
	defer as.Put()

	r := mustNewRegion(t, 0x400000, 0x404000, 0, ProtRead|ProtWrite|ProtUser|MapAnonymous, nil)
	if err := as.Reserve(r); err != nil {
		t.Fatal(err)
	}

	for addr := r.Start; addr < r.End; addr += mm.PageSize {
		if err := as.HandleFault(addr); err != nil {
			t.Fatal(err)
		}
	}

	freeBefore := pmm.FreeFrameCount()

	if err := as.Munmap(0x401000, 2*mm.PageSize); err != nil {
		t.Fatal(err)
	}

	if got, exp := pmm.FreeFrameCount(), freeBefore+2; got != exp {
		t.Fatalf("expected free frame count %d; got %d", exp, got)
	}

	pdt := as.pageTable.(*vmm.PageDirectoryTable)
	for _, addr := range []uintptr{0x401000, 0x402000} {
		if _, err := pdt.Translate(addr); err != vmm.ErrInvalidMapping {
			t.Errorf("expected 0x%x to be unmapped; got %v", addr, err)
		}
	}

	for _, addr := range []uintptr{0x400000, 0x403000} {
		if _, err := pdt.Translate(addr); err != nil {
			t.Errorf("expected 0x%x to stay mapped; got %v", addr, err)
		}
	}

	if err := as.HandleFault(0x401000); err != ErrSegmentationFault {
		t.Fatalf("expected ErrSegmentationFault inside the unmapped hole; got %v", err)
	}

	if got := as.RegionCount(); got != 2 {
		t.Fatalf("expected the region to be split in two; got %d regions", got)
	}
}

func TestSwitchAddressSpaceInstallsPageTable(t *testing.T) {
	setupKernelLayout(t)

	as := Create()
	defer as.Put()

	SwitchAddressSpace(0, as)

	if got, exp := cpu.ActivePDT(), as.pageTable.RootAddress(); got != exp {
		t.Fatalf("expected root 0x%x to be active; got 0x%x", exp, got)
	}
}

func TestPutActiveAddressSpace(t *testing.T) {
	setupKernelLayout(t)

	as := Create()
	SwitchAddressSpace(0, as)

	as.Put()

	if got := ActiveID(); got != 0 {
		t.Fatalf("expected no active address space after release; got %d", got)
	}

	if got, exp := cpu.ActivePDT(), vmm.KernelPDT().RootAddress(); got != exp {
		t.Fatalf("expected kernel root 0x%x to be active; got 0x%x", exp, got)
	}
}

func TestMapRegionRejectsKernelHalf(t *testing.T) {
	setupKernelLayout(t)

	a, b := Create(), Create()
	defer a.Put()
	defer b.Put()

	virt := vmm.KernelPageOffset + 64*oneMb
	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mm.ReleaseFrame(frame) }()

	if err := a.MapRegion(virt, frame.Address(), mm.PageSize, ProtRead); err != ErrInvalidRegion {
		t.Fatalf("expected ErrInvalidRegion; got %v", err)
	}

	for _, pdt := range []*vmm.PageDirectoryTable{
		vmm.KernelPDT(),
		b.pageTable.(*vmm.PageDirectoryTable),
	} {
		if _, err := pdt.Translate(virt); err != vmm.ErrInvalidMapping {
			t.Fatalf("expected 0x%x to stay unmapped in the shared layout; got %v", virt, err)
		}
	}
}

func TestMmapHonoursRegionProtections(t *testing.T) {
	setupKernelLayout(t)

	as := Create()
	defer as.Put()

	phys := allocPhys(t, 1)
	if err := as.Mmap(mustNewRegion(t, 0x400000, 0x401000, 0, ProtRead|ProtUser, nil), phys); err != nil {
		t.Fatal(err)
	}

	flags, err := as.pageTable.(*vmm.PageDirectoryTable).EntryFlags(0x400000)
	if err != nil {
		t.Fatal(err)
	}

	if flags&vmm.FlagRW != 0 {
		t.Fatal("expected read-only region to be mapped without write access")
	}

	if flags&vmm.FlagNoExecute == 0 {
		t.Fatal("expected non-executable region to be mapped with the NX bit")
	}

	if exp := vmm.FlagPresent | vmm.FlagUserAccessible; flags&exp != exp {
		t.Fatalf("expected flags to include %x; got %x", exp, flags)
	}
}
