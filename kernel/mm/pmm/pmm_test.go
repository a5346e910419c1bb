package pmm

import (
	"testing"

	"procmm/kernel"
	"procmm/kernel/mm"
)

func TestNewMemory(t *testing.T) {
	for specIndex, size := range []uintptr{0, mm.PageSize + 1} {
		if _, err := NewMemory(size); err != errInvalidMemorySize {
			t.Errorf("[spec %d] expected errInvalidMemorySize; got %v", specIndex, err)
		}
	}

	mem, err := NewMemory(4 * mm.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()

	if exp, got := uintptr(4), mem.FrameCount(); got != exp {
		t.Fatalf("expected %d frames; got %d", exp, got)
	}

	virt, err := mem.PhysToVirt(mm.PageSize + 16)
	if err != nil {
		t.Fatal(err)
	}

	if exp := mem.Base() + mm.PageSize + 16; virt != exp {
		t.Fatalf("expected kernel address 0x%x; got 0x%x", exp, virt)
	}

	if _, err = mem.PhysToVirt(4 * mm.PageSize); err != errAddressOutOfRange {
		t.Fatalf("expected errAddressOutOfRange; got %v", err)
	}

	// Memory is zeroed and writable through its kernel-visible address
	page := kernel.ByteSlice(virt, 16)
	for i, b := range page {
		if b != 0 {
			t.Fatalf("expected byte %d to be zero; got %x", i, b)
		}
	}
	page[0] = 0xAB
	if mem.arena[mm.PageSize+16] != 0xAB {
		t.Fatal("expected write through kernel address to reach the arena")
	}

	specs := []struct {
		phys, length uintptr
		exp          bool
	}{
		{0, 4 * mm.PageSize, true},
		{mm.PageSize, 3 * mm.PageSize, true},
		{mm.PageSize, 4 * mm.PageSize, false},
		{4 * mm.PageSize, 0, false},
	}
	for specIndex, spec := range specs {
		if got := mem.Contains(spec.phys, spec.length); got != spec.exp {
			t.Errorf("[spec %d] expected Contains(0x%x, 0x%x) to return %t; got %t", specIndex, spec.phys, spec.length, spec.exp, got)
		}
	}
}

func TestInitAndShutdown(t *testing.T) {
	defer func() { _ = Shutdown() }()

	if _, err := ActiveMemory(); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized before Init; got %v", err)
	}

	if got := PhysToVirt(0); got != 0 {
		t.Fatalf("expected PhysToVirt to return 0 before Init; got 0x%x", got)
	}

	if err := Init(16 * mm.PageSize); err != nil {
		t.Fatal(err)
	}

	// Frame 0 is reserved
	if exp, got := uint32(15), FreeFrameCount(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if frame == 0 {
		t.Fatal("expected frame 0 to never be allocated")
	}

	mem, err := ActiveMemory()
	if err != nil {
		t.Fatal(err)
	}

	if exp, got := mem.Base()+frame.Address(), PhysToVirt(frame.Address()); got != exp {
		t.Fatalf("expected PhysToVirt to return 0x%x; got 0x%x", exp, got)
	}

	if err = mm.ReleaseFrame(frame); err != nil {
		t.Fatal(err)
	}

	if err = Shutdown(); err != nil {
		t.Fatal(err)
	}

	if _, err = mm.AllocFrame(); err == nil {
		t.Fatal("expected AllocFrame to fail after Shutdown")
	}
}
