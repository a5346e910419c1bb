package kmain

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"procmm/kernel/cpu"
	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
	"procmm/kernel/mm/aspace"
	"procmm/kernel/mm/vmm"
)

func testConfig(sink *bytes.Buffer) Config {
	cfg := DefaultConfig()
	cfg.PhysMemSize = 8 * 1024 * 1024
	cfg.LogSink = sink
	return cfg
}

func TestConfigValidate(t *testing.T) {
	specs := []struct {
		mutate func(*Config)
		expErr error
	}{
		{func(*Config) {}, nil},
		{func(cfg *Config) { cfg.PhysMemSize = 0 }, errInvalidMemorySize},
		{func(cfg *Config) { cfg.PhysMemSize = minPhysMemSize - mm.PageSize }, errInvalidMemorySize},
		{func(cfg *Config) { cfg.PhysMemSize = minPhysMemSize + 1 }, errInvalidMemorySize},
		{func(cfg *Config) { cfg.KernelPageOffset = 0xffffc00000000000 }, errUnsupportedLayout},
		{func(cfg *Config) { cfg.LogLevel = logrus.TraceLevel + 1 }, errInvalidLogLevel},
	}

	for specIndex, spec := range specs {
		cfg := DefaultConfig()
		spec.mutate(&cfg)

		var err error
		if kErr := cfg.Validate(); kErr != nil {
			err = kErr
		}

		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

func TestBoot(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var sink bytes.Buffer
	m, err := Boot(testConfig(&sink))
	if err != nil {
		t.Fatal(err)
	}

	if _, err = Boot(testConfig(&sink)); err != errAlreadyBooted {
		t.Fatalf("expected errAlreadyBooted; got %v", err)
	}

	if exp, got := vmm.KernelPDT().RootAddress(), cpu.ActivePDT(); got != exp {
		t.Fatalf("expected kernel PDT root 0x%x to be active; got 0x%x", exp, got)
	}

	if got := aspace.ActiveID(); got != 0 {
		t.Fatalf("expected no active address space; got %d", got)
	}

	if !strings.Contains(sink.String(), "[kmain] info: boot complete") {
		t.Fatalf("expected boot message in log output; got:\n%s", sink.String())
	}

	// An address space can be created and switched to on a booted machine
	as := aspace.Create()
	aspace.SwitchAddressSpace(aspace.ActiveID(), as)
	if got := aspace.ActiveID(); got != as.ID() {
		t.Fatalf("expected address space %d to be active; got %d", as.ID(), got)
	}
	as.Put()

	// Releasing the active address space reinstalls the kernel PDT
	if exp, got := vmm.KernelPDT().RootAddress(), cpu.ActivePDT(); got != exp || aspace.ActiveID() != 0 {
		t.Fatalf("expected kernel PDT root 0x%x to be active after release; got 0x%x (active %d)", exp, got, aspace.ActiveID())
	}

	if err = m.Shutdown(); err != nil {
		t.Fatal(err)
	}

	if vmm.KernelPDT() != nil {
		t.Fatal("expected the kernel PDT to be released")
	}

	// The machine can be booted again after a shutdown
	if m, err = Boot(testConfig(&sink)); err != nil {
		t.Fatal(err)
	}

	if err = m.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestBootInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PhysMemSize = 0x1234

	if _, err := Boot(cfg); err != errInvalidMemorySize {
		t.Fatalf("expected errInvalidMemorySize; got %v", err)
	}

	if booted {
		t.Fatal("expected a failed boot to leave the machine down")
	}
}
