package vmm

import (
	"testing"

	"osmium/kernel/cpu"
	"osmium/kernel/mm"
	"osmium/kernel/mm/mmtest"
	"osmium/kernel/mm/pmm"
)

func TestInitCreatesKernelSpace(t *testing.T) {
	mmtest.NewArena(t, 64*mm.PageSize, nil)
	pmm.Init()

	prevRoot := cpu.ActivePDT()
	defer switchPDTFn(prevRoot)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	space := KernelSpace()
	if space == nil {
		t.Fatal("expected Init to create the kernel address space")
	}

	if got := cpu.ActivePDT(); got != space.Root().Address() {
		t.Fatalf("expected the kernel root 0x%x to be active; got 0x%x", space.Root().Address(), got)
	}
}
