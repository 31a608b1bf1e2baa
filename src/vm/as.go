// Package vm implements the virtual memory manager (VMM, spec §4.2):
// two-level 32-bit page tables, a high-half physical window, kernel/user
// half separation, and deep/shallow clone for fork. It is grounded on the
// teacher's vm/as.go (the Vm_t address-space type and its pmap locking
// discipline) but replaces the teacher's 64-bit four-level tree with the
// 32-bit two-level layout spec.md describes.
package vm

import (
	"sync"
	"unsafe"

	"teachkernel/src/defs"
	"teachkernel/src/diag"
	"teachkernel/src/mem"
)

// PTE/PDE flag bits (spec §3 "Flags tracked per entry").
const (
	PTE_P uint32 = 1 << 0 // present
	PTE_W uint32 = 1 << 1 // writable
	PTE_U uint32 = 1 << 2 // user-accessible
)

const ptAddrMask uint32 = ^uint32(0xfff)

// NPTENTRIES is the number of entries in one directory or table (spec §3:
// "an ordered sequence of 1024 directory entries").
const NPTENTRIES = 1024

// KernelPDEStart is the first directory index belonging to the kernel half
// (spec §3 invariant: "directory indices >= 768 ... are shared by
// reference across all live address spaces").
const KernelPDEStart = 768

// PhysBase is where all of physical memory is windowed into the kernel
// half (spec §4.2: "PHYS_TO_VIRT(p) = p + PHYS_BASE").
const PhysBase uintptr = 0xc0000000

// IdentityEnd is the extent of the identity-mapped low region (spec §4.2:
// "the low 1 MiB is identity-mapped").
const IdentityEnd uintptr = 1 << 20

// PhysToVirt computes the kernel-half alias of a physical address through
// the physical window.
func PhysToVirt(p mem.Pa_t) uintptr {
	return uintptr(p) + PhysBase
}

// pte_t is one page-table or page-directory entry: a frame number packed
// with flag bits, exactly the spec's "plain 32-bit encodings of
// (frame-number | flags)".
type pte_t uint32

func mkpte(frame mem.Pa_t, flags uint32) pte_t {
	return pte_t(uint32(frame)&ptAddrMask | flags)
}

func (e pte_t) present() bool { return uint32(e)&PTE_P != 0 }
func (e pte_t) frame() mem.Pa_t {
	return mem.Pa_t(uint32(e) & ptAddrMask)
}

// PageTable_t is the second level: 1024 PTEs, one 4 KiB frame.
type PageTable_t [NPTENTRIES]pte_t

// PageDir_t is the first level: 1024 PDEs, one 4 KiB frame.
type PageDir_t [NPTENTRIES]pte_t

func castTable(b *mem.Bytepg_t) *PageTable_t {
	return (*PageTable_t)(unsafe.Pointer(b))
}

func castDir(b *mem.Bytepg_t) *PageDir_t {
	return (*PageDir_t)(unsafe.Pointer(b))
}

// pageIndex splits a virtual address into its directory and table indices
// and its in-page offset.
func pageIndex(v uintptr) (pdx, ptx int, off uintptr) {
	return int((v >> 22) & 0x3ff), int((v >> 12) & 0x3ff), v & 0xfff
}

// Vm_t is a process address space: the directory frame plus the mutex
// that serialises every mutation of it, matching the teacher's
// Lock_pmap/Unlock_pmap/Lockassert_pmap discipline (spec §5: "The heap and
// the file system are therefore NOT re-entrant").
type Vm_t struct {
	sync.Mutex
	Dir   *PageDir_t
	P_dir mem.Pa_t

	pgfltaken bool
}

// Lock_pmap acquires the address-space lock and records that page-table
// manipulation is in progress, mirroring the teacher's pgfltaken flag.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address-space lock.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the address-space lock is not held; every
// internal helper that walks Dir calls this first.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// kernelTemplate holds the master kernel-half page directory. Every
// address space's entries at index >= KernelPDEStart are copied from it
// at creation time and whenever the kernel maps something new into its
// own half, so that the underlying page-table frames are shared by
// reference across every live address space (spec §3 invariant).
var kernelTemplate PageDir_t
var kernelLock sync.Mutex

// Init builds the kernel template directory and identity-maps the low
// 1 MiB (spec §4.2). phys is the frame allocator every address space in
// this kernel draws from.
func Init(phys *mem.Physmem_t) *Vm_t {
	kernelLock.Lock()
	defer kernelLock.Unlock()
	for i := range kernelTemplate {
		kernelTemplate[i] = 0
	}

	kdirFrame, ok := phys.Alloc()
	if !ok {
		panic("vm.Init: out of frames for kernel directory")
	}
	kas := &Vm_t{
		Dir:   castDir(phys.Frame(kdirFrame)),
		P_dir: kdirFrame,
	}
	for i := range kas.Dir {
		kas.Dir[i] = 0
	}

	kas.Lock_pmap()
	for v := uintptr(0); v < IdentityEnd; v += uintptr(mem.PGSIZE) {
		if !mapLocked(phys, kas, v, mem.Pa_t(v), PTE_W) {
			panic("vm.Init: cannot identity-map low 1MiB")
		}
	}
	kas.Unlock_pmap()

	copy(kernelTemplate[:], kas.Dir[:])
	return kas
}

// CreateAddressSpace allocates a frame for a new page directory, zeroes
// it, installs the shared kernel half, and returns the resulting address
// space. It returns (nil, false) on PFA failure (spec §4.2).
func CreateAddressSpace(phys *mem.Physmem_t) (*Vm_t, bool) {
	frame, ok := phys.Alloc()
	if !ok {
		return nil, false
	}
	dir := castDir(phys.Frame(frame))
	for i := range dir {
		dir[i] = 0
	}
	kernelLock.Lock()
	copy(dir[KernelPDEStart:], kernelTemplate[KernelPDEStart:])
	kernelLock.Unlock()
	return &Vm_t{Dir: dir, P_dir: frame}, true
}

// ensureTable returns the PageTable_t for pdx, allocating and zeroing one
// if the PDE is not yet present. The caller must hold as's lock.
func ensureTable(phys *mem.Physmem_t, as *Vm_t, pdx int, flags uint32) (*PageTable_t, bool) {
	pde := as.Dir[pdx]
	if pde.present() {
		return castTable(phys.Frame(pde.frame())), true
	}
	frame, ok := phys.Alloc()
	if !ok {
		return nil, false
	}
	tbl := castTable(phys.Frame(frame))
	for i := range tbl {
		tbl[i] = 0
	}
	tflags := PTE_P
	if flags&PTE_W != 0 {
		tflags |= PTE_W
	}
	if flags&PTE_U != 0 {
		tflags |= PTE_U
	}
	as.Dir[pdx] = mkpte(frame, tflags)
	if pdx >= KernelPDEStart {
		kernelLock.Lock()
		kernelTemplate[pdx] = as.Dir[pdx]
		kernelLock.Unlock()
	}
	return tbl, true
}

// Map installs (p | flags | PTE_P) at v in dir, allocating intermediate
// page-table frames as needed. It is idempotent: remapping an address
// that is already mapped to the same frame is a no-op other than flag
// update. Map does not flush the TLB for a fresh mapping (spec §4.2: "No
// TLB flush is required for freshly mapped addresses"); mutating a PTE
// that was already present issues invlpg(v) itself via InvalidatePage,
// so the spec's "mutation of existing mappings MUST issue invlpg(v)"
// contract lives at the mutation site rather than with every caller.
func Map(phys *mem.Physmem_t, as *Vm_t, v uintptr, p mem.Pa_t, flags uint32) bool {
	as.Lockassert_pmap()
	return mapLocked(phys, as, v, p, flags)
}

func mapLocked(phys *mem.Physmem_t, as *Vm_t, v uintptr, p mem.Pa_t, flags uint32) bool {
	pdx, ptx, _ := pageIndex(v)
	tbl, ok := ensureTable(phys, as, pdx, flags)
	if !ok {
		return false
	}
	wasPresent := tbl[ptx].present()
	tbl[ptx] = mkpte(p, flags|PTE_P)
	if wasPresent {
		InvalidatePage(v)
	}
	return true
}

// InvalidatePage is the architecture-specific invlpg primitive (spec
// §4.2: "mutation of existing mappings MUST issue invlpg(v)"). In this
// hosted rewrite there is no real TLB, so this only exists as the single
// place every mutation path is required to call, keeping the contract
// visible and testable (a caller can stub this to count invalidations).
var InvalidatePage = func(v uintptr) {}

// Translate walks both levels of dir and returns the physical address
// backing v (the mapped frame plus v's in-page offset), or (0, false) if
// either level's present bit is clear.
func Translate(phys *mem.Physmem_t, as *Vm_t, v uintptr) (mem.Pa_t, bool) {
	as.Lockassert_pmap()
	pdx, ptx, off := pageIndex(v)
	pde := as.Dir[pdx]
	if !pde.present() {
		return 0, false
	}
	tbl := castTable(phys.Frame(pde.frame()))
	pte := tbl[ptx]
	if !pte.present() {
		return 0, false
	}
	return pte.frame() + mem.Pa_t(off), true
}

// AllocRegion acquires a fresh frame from phys for every page in
// [v, v+size), aligned down/up to the page size, and maps it with the
// subset of {W, U} in flags. On any allocation failure mid-region it
// frees everything it mapped so far and returns false (spec §4.2: "strong
// exception safety").
func AllocRegion(phys *mem.Physmem_t, as *Vm_t, v uintptr, size int, flags uint32) bool {
	as.Lockassert_pmap()
	return allocRegionLocked(phys, as, v, uintptr(size), flags)
}

func allocRegionLocked(phys *mem.Physmem_t, as *Vm_t, v uintptr, size uintptr, flags uint32) bool {
	start := v &^ (uintptr(mem.PGSIZE) - 1)
	end := (v + size + uintptr(mem.PGSIZE) - 1) &^ (uintptr(mem.PGSIZE) - 1)

	var mapped []uintptr
	for pg := start; pg < end; pg += uintptr(mem.PGSIZE) {
		frame, ok := phys.Alloc()
		if !ok {
			for _, m := range mapped {
				unmapOne(phys, as, m)
			}
			return false
		}
		if !mapLocked(phys, as, pg, frame, flags) {
			phys.Free(frame)
			for _, m := range mapped {
				unmapOne(phys, as, m)
			}
			return false
		}
		mapped = append(mapped, pg)
	}
	return true
}

func unmapOne(phys *mem.Physmem_t, as *Vm_t, v uintptr) {
	pdx, ptx, _ := pageIndex(v)
	pde := as.Dir[pdx]
	if !pde.present() {
		return
	}
	tbl := castTable(phys.Frame(pde.frame()))
	pte := tbl[ptx]
	if pte.present() {
		phys.Free(pte.frame())
		tbl[ptx] = 0
		InvalidatePage(v)
	}
}

// tableEmpty reports whether every entry of tbl is non-present.
func tableEmpty(tbl *PageTable_t) bool {
	for _, e := range tbl {
		if e.present() {
			return false
		}
	}
	return true
}

// FreeRegion frees the backing frame of every present page in [v, v+size)
// and clears its PTE, then frees and clears the PDE of any page table
// that became fully empty as a result (spec §4.2).
func FreeRegion(phys *mem.Physmem_t, as *Vm_t, v uintptr, size int) {
	as.Lockassert_pmap()
	start := v &^ (uintptr(mem.PGSIZE) - 1)
	end := (v + uintptr(size) + uintptr(mem.PGSIZE) - 1) &^ (uintptr(mem.PGSIZE) - 1)

	touched := map[int]bool{}
	for pg := start; pg < end; pg += uintptr(mem.PGSIZE) {
		pdx, _, _ := pageIndex(pg)
		pde := as.Dir[pdx]
		if !pde.present() {
			continue
		}
		unmapOne(phys, as, pg)
		touched[pdx] = true
	}
	for pdx := range touched {
		pde := as.Dir[pdx]
		if !pde.present() {
			continue
		}
		tbl := castTable(phys.Frame(pde.frame()))
		if tableEmpty(tbl) {
			phys.Free(pde.frame())
			as.Dir[pdx] = 0
			if pdx >= KernelPDEStart {
				kernelLock.Lock()
				kernelTemplate[pdx] = 0
				kernelLock.Unlock()
			}
		}
	}
}

// ClonePageDir produces an independent copy of as following spec §4.2's
// rule: shallow (the frame is shared) for kernel-half entries and for any
// user-half entry whose page-table frame equals the kernel template's
// frame at the same index; deep (new table, new frames, memcpy'd
// payloads) otherwise. Any allocation failure anywhere rolls everything
// back.
func ClonePageDir(phys *mem.Physmem_t, as *Vm_t) (*Vm_t, defs.Err_t) {
	as.Lockassert_pmap()

	childFrame, ok := phys.Alloc()
	if !ok {
		return nil, defs.ENOMEM
	}
	child := &Vm_t{Dir: castDir(phys.Frame(childFrame)), P_dir: childFrame}
	for i := range child.Dir {
		child.Dir[i] = 0
	}

	var newTableFrames []mem.Pa_t
	var newPageFrames []mem.Pa_t
	rollback := func() {
		for _, f := range newPageFrames {
			phys.Free(f)
		}
		for _, f := range newTableFrames {
			phys.Free(f)
		}
		phys.Free(childFrame)
	}

	kernelLock.Lock()
	tmplSnapshot := kernelTemplate
	kernelLock.Unlock()

	for pdx := 0; pdx < KernelPDEStart; pdx++ {
		pde := as.Dir[pdx]
		if !pde.present() {
			continue
		}
		if pde.frame() == tmplSnapshot[pdx].frame() && tmplSnapshot[pdx].present() {
			child.Dir[pdx] = pde
			continue
		}
		srcTbl := castTable(phys.Frame(pde.frame()))
		newTblFrame, ok := phys.Alloc()
		if !ok {
			rollback()
			return nil, defs.ENOMEM
		}
		newTableFrames = append(newTableFrames, newTblFrame)
		dstTbl := castTable(phys.Frame(newTblFrame))
		for i := range dstTbl {
			dstTbl[i] = 0
		}
		for ptx, spte := range srcTbl {
			if !spte.present() {
				continue
			}
			dstFrame, ok := phys.Alloc()
			if !ok {
				rollback()
				return nil, defs.ENOMEM
			}
			newPageFrames = append(newPageFrames, dstFrame)
			*phys.Frame(dstFrame) = *phys.Frame(spte.frame())
			dstTbl[ptx] = mkpte(dstFrame, uint32(spte)&0xfff)
		}
		tableFlags := uint32(pde) & 0xfff
		child.Dir[pdx] = mkpte(newTblFrame, tableFlags)
	}

	for pdx := KernelPDEStart; pdx < NPTENTRIES; pdx++ {
		child.Dir[pdx] = as.Dir[pdx]
	}

	return child, 0
}

// Teardown frees every present user-half page and page-table frame in as,
// then frees the directory frame itself, reclaiming the whole address
// space back to phys (spec §4.6 "Exit": once a process's last thread
// terminates, its address space is destroyed and freed). Kernel-half
// entries are never touched, so page tables shared with other address
// spaces survive. Callers must never pass the kernel's own directory:
// its user half holds the identity map of the low 1 MiB, whose page
// table the kernel template and cloned address spaces share.
func Teardown(phys *mem.Physmem_t, as *Vm_t) {
	as.Lock_pmap()
	for pdx := 0; pdx < KernelPDEStart; pdx++ {
		pde := as.Dir[pdx]
		if !pde.present() {
			continue
		}
		tbl := castTable(phys.Frame(pde.frame()))
		for _, pte := range tbl {
			if pte.present() {
				phys.Free(pte.frame())
			}
		}
		phys.Free(pde.frame())
		as.Dir[pdx] = 0
	}
	as.Unlock_pmap()
	phys.Free(as.P_dir)
}

// FaultHandler is the architecture trap handler registered on vector 14
// (spec §4.2: "The core spec treats any fault as fatal: record CR2 and
// halt the CPU"). cr2 is the faulting virtual address. eip and text (the
// interrupted instruction pointer and the process's own loaded code
// image) are optional context for crash diagnostics; callers that have
// neither may pass (0, nil).
func FaultHandler(cr2, eip uintptr, text []byte) {
	panic_fault(cr2, eip, text)
}

var panic_fault = func(cr2, eip uintptr, text []byte) {
	panic(diag.CrashReport(cr2, eip, text))
}
