package elf

import (
	"encoding/binary"
	"testing"

	"teachkernel/src/mem"
	"teachkernel/src/vm"
)

// buildImage assembles a minimal ELF32 file with a single program
// header describing one LOAD segment.
func buildImage(entry, vaddr, filesz, memsz uint32, payload []byte) []byte {
	img := make([]byte, ehdrSize+phdrSize+len(payload))
	img[0], img[1], img[2], img[3] = 0x7f, 'E', 'L', 'F'
	img[4] = 1 // ELFCLASS32
	binary.LittleEndian.PutUint32(img[24:], entry)
	binary.LittleEndian.PutUint32(img[28:], ehdrSize) // phoff
	binary.LittleEndian.PutUint16(img[42:], phdrSize)
	binary.LittleEndian.PutUint16(img[44:], 1) // phnum

	ph := img[ehdrSize:]
	binary.LittleEndian.PutUint32(ph[0:], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:], ehdrSize+phdrSize) // offset
	binary.LittleEndian.PutUint32(ph[8:], vaddr)
	binary.LittleEndian.PutUint32(ph[16:], filesz)
	binary.LittleEndian.PutUint32(ph[20:], memsz)
	binary.LittleEndian.PutUint32(ph[24:], pfW) // writable, not executable

	copy(img[ehdrSize+phdrSize:], payload)
	return img
}

func freshPhys(t *testing.T, frames uint32) *mem.Physmem_t {
	t.Helper()
	p := &mem.Physmem_t{}
	mmap := []mem.MMapEntry{{Base: 0, Length: uint64(frames) * uint64(mem.PGSIZE), Type: mem.MMapUsable}}
	p.Init(mmap, 0, 8*uint64(mem.PGSIZE))
	return p
}

// TestScenario3BSSOnlySegmentReadsZero is spec §8 concrete scenario 3.
func TestScenario3BSSOnlySegmentReadsZero(t *testing.T) {
	phys := freshPhys(t, mem.ReservedLowFrames+16)
	vm.Init(phys)
	as, ok := vm.CreateAddressSpace(phys)
	if !ok {
		t.Fatal("CreateAddressSpace failed")
	}

	const vaddr = uint32(0x08048000)
	img := buildImage(vaddr, vaddr, 0, uint32(mem.PGSIZE), nil)

	entry, err := Load(phys, as, img)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry != uintptr(vaddr) {
		t.Fatalf("entry = %#x, want %#x", entry, vaddr)
	}

	as.Lock_pmap()
	frame, ok := vm.Translate(phys, as, uintptr(vaddr))
	as.Unlock_pmap()
	if !ok {
		t.Fatal("segment not mapped")
	}
	pg := phys.Frame(frame)
	for i, b := range pg {
		if b != 0 {
			t.Fatalf("byte %d of BSS-only page is %#x, want 0", i, b)
		}
	}
}

func TestLoadRejectsFileszGreaterThanMemsz(t *testing.T) {
	phys := freshPhys(t, mem.ReservedLowFrames+16)
	vm.Init(phys)
	as, _ := vm.CreateAddressSpace(phys)

	img := buildImage(0x08048000, 0x08048000, 8, 4, []byte("12345678"))
	if _, err := Load(phys, as, img); err == nil {
		t.Fatal("expected Load to reject filesz > memsz")
	}
}
