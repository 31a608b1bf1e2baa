package vm

import (
	"testing"

	"teachkernel/src/mem"
)

func freshPhys(t *testing.T, frames uint32) *mem.Physmem_t {
	t.Helper()
	p := &mem.Physmem_t{}
	mmap := []mem.MMapEntry{{Base: 0, Length: uint64(frames) * uint64(mem.PGSIZE), Type: mem.MMapUsable}}
	p.Init(mmap, 0, 8*uint64(mem.PGSIZE))
	return p
}

func TestAllocRegionTranslateFreeRegionRoundTrip(t *testing.T) {
	phys := freshPhys(t, mem.ReservedLowFrames+64)
	Init(phys)
	as, ok := CreateAddressSpace(phys)
	if !ok {
		t.Fatal("CreateAddressSpace failed")
	}

	const base = uintptr(0x08048000)
	const size = 3 * mem.PGSIZE

	as.Lock_pmap()
	if !allocRegionLocked(phys, as, base, size, PTE_W|PTE_U) {
		t.Fatal("AllocRegion failed")
	}

	seen := map[mem.Pa_t]bool{}
	for off := uintptr(0); off < size; off += uintptr(mem.PGSIZE) {
		frame, ok := Translate(phys, as, base+off)
		if !ok {
			t.Fatalf("translate failed at offset %d", off)
		}
		if seen[frame] {
			t.Fatalf("frame %v reused within region", frame)
		}
		seen[frame] = true
	}
	as.Unlock_pmap()

	as.Lock_pmap()
	FreeRegion(phys, as, base, size)
	for off := uintptr(0); off < size; off += uintptr(mem.PGSIZE) {
		if _, ok := Translate(phys, as, base+off); ok {
			t.Fatalf("translate still succeeds after FreeRegion at offset %d", off)
		}
	}
	as.Unlock_pmap()

	for frame := range seen {
		if !phys.IsFree(frame) {
			t.Fatalf("frame %v not freed back to PFA", frame)
		}
	}
}

func TestCloneDeepCopyIsolatesParent(t *testing.T) {
	phys := freshPhys(t, mem.ReservedLowFrames+64)
	Init(phys)
	parent, ok := CreateAddressSpace(phys)
	if !ok {
		t.Fatal("CreateAddressSpace failed")
	}

	const va = uintptr(0x08048000)
	parent.Lock_pmap()
	if !allocRegionLocked(phys, parent, va, mem.PGSIZE, PTE_W|PTE_U) {
		t.Fatal("AllocRegion failed")
	}
	pf, _ := Translate(phys, parent, va)
	phys.Frame(pf)[0] = 0xAA

	child, errc := ClonePageDir(phys, parent)
	parent.Unlock_pmap()
	if errc != 0 {
		t.Fatalf("clone failed: %v", errc)
	}

	child.Lock_pmap()
	cf, ok := Translate(phys, child, va)
	if !ok {
		t.Fatal("child lost the mapping")
	}
	if cf == pf {
		t.Fatal("child shares the frame with parent; deep clone expected for user half")
	}
	phys.Frame(cf)[0] = 0xBB
	child.Unlock_pmap()

	parent.Lock_pmap()
	pf2, _ := Translate(phys, parent, va)
	if phys.Frame(pf2)[0] != 0xAA {
		t.Fatal("write through child's clone leaked into parent")
	}
	parent.Unlock_pmap()
}

func TestCloneSharesKernelHalf(t *testing.T) {
	phys := freshPhys(t, mem.ReservedLowFrames+64)
	Init(phys)
	parent, ok := CreateAddressSpace(phys)
	if !ok {
		t.Fatal("CreateAddressSpace failed")
	}
	parent.Lock_pmap()
	child, errc := ClonePageDir(phys, parent)
	parent.Unlock_pmap()
	if errc != 0 {
		t.Fatalf("clone failed: %v", errc)
	}
	for pdx := KernelPDEStart; pdx < NPTENTRIES; pdx++ {
		if parent.Dir[pdx] != child.Dir[pdx] {
			t.Fatalf("kernel PDE %d diverged across clone", pdx)
		}
	}
}

// TestTeardownReclaimsEverythingButKernelHalf covers spec §4.6 Exit's
// "the process itself is destroyed and its address space freed": every
// user-half frame an address space holds (its mapped pages, its page
// tables, and finally its own directory frame) comes back to the PFA,
// while the kernel half's shared page-table frames are left untouched
// since other live address spaces still reference them.
func TestTeardownReclaimsEverythingButKernelHalf(t *testing.T) {
	phys := freshPhys(t, mem.ReservedLowFrames+64)
	Init(phys)
	as, ok := CreateAddressSpace(phys)
	if !ok {
		t.Fatal("CreateAddressSpace failed")
	}

	const base = uintptr(0x08048000)
	const size = 3 * mem.PGSIZE
	as.Lock_pmap()
	if !allocRegionLocked(phys, as, base, size, PTE_W|PTE_U) {
		t.Fatal("AllocRegion failed")
	}
	as.Unlock_pmap()

	before := phys.UsedFrames()
	dirFrame := as.P_dir

	Teardown(phys, as)

	if !phys.IsFree(dirFrame) {
		t.Fatal("directory frame not freed by Teardown")
	}
	// Every page and page-table frame the region allocated, plus the
	// directory frame itself, must have come back: that's 3 pages + 1
	// page table + 1 directory = 5 frames below `before`.
	if got, want := before-phys.UsedFrames(), 5; got != want {
		t.Fatalf("Teardown freed %d frames, want %d", got, want)
	}
}

// TestFaultHandlerIsFatal checks spec §4.2/§7's "any fault is fatal: halt
// the CPU" contract: FaultHandler must panic, carrying the faulting
// address in its message, and must not swallow a nil text window.
func TestFaultHandlerIsFatal(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("FaultHandler did not panic on a fault")
		}
		msg, ok := r.(string)
		if !ok || msg == "" {
			t.Fatalf("unexpected panic value: %v", r)
		}
	}()
	FaultHandler(0xdeadb000, 0x1000, nil)
}
