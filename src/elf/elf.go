// Package elf implements the ELF loader (spec §4.5): parsing an i386
// ELF32 executable's program headers and mapping its LOAD segments into
// a fresh address space. The teacher's own kernel has no ELF package of
// its own (process images arrive pre-parsed in its test harness), so
// this is grounded directly on the ELF32 on-disk layout rather than on
// any file in the example pack; it deliberately does not reuse the
// standard library's debug/elf, which is a read-only introspection tool
// for host tooling, not a byte-segment-to-address-space loader (see
// DESIGN.md).
package elf

import (
	"encoding/binary"
	"fmt"

	"teachkernel/src/mem"
	"teachkernel/src/vm"
)

const (
	ehdrSize = 52
	phdrSize = 32

	ptLoad = 1

	pfX = 1 << 0
	pfW = 1 << 1
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// Ehdr32 is the subset of the ELF32 file header the loader needs.
type Ehdr32 struct {
	Entry  uint32
	Phoff  uint32
	Phnum  uint16
	Phsize uint16
}

// Phdr32 is one ELF32 program header entry.
type Phdr32 struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
}

// ParseHeader reads and validates the ELF32 file header from the start
// of image.
func ParseHeader(image []byte) (Ehdr32, error) {
	var eh Ehdr32
	if len(image) < ehdrSize {
		return eh, fmt.Errorf("elf: image too short for an ELF header")
	}
	var magic [4]byte
	copy(magic[:], image[:4])
	if magic != elfMagic {
		return eh, fmt.Errorf("elf: bad magic %x", magic)
	}
	if image[4] != 1 {
		return eh, fmt.Errorf("elf: not a 32-bit ELF (EI_CLASS=%d)", image[4])
	}
	eh.Entry = binary.LittleEndian.Uint32(image[24:])
	eh.Phoff = binary.LittleEndian.Uint32(image[28:])
	eh.Phsize = binary.LittleEndian.Uint16(image[42:])
	eh.Phnum = binary.LittleEndian.Uint16(image[44:])
	if eh.Phsize != 0 && eh.Phsize != phdrSize {
		return eh, fmt.Errorf("elf: unexpected program header size %d", eh.Phsize)
	}
	return eh, nil
}

// ProgramHeaders parses every program header entry named by eh.
func ProgramHeaders(image []byte, eh Ehdr32) ([]Phdr32, error) {
	phs := make([]Phdr32, 0, eh.Phnum)
	for i := uint16(0); i < eh.Phnum; i++ {
		off := eh.Phoff + uint32(i)*phdrSize
		if int(off)+phdrSize > len(image) {
			return nil, fmt.Errorf("elf: program header %d out of bounds", i)
		}
		b := image[off:]
		phs = append(phs, Phdr32{
			Type:   binary.LittleEndian.Uint32(b[0:]),
			Offset: binary.LittleEndian.Uint32(b[4:]),
			Vaddr:  binary.LittleEndian.Uint32(b[8:]),
			Filesz: binary.LittleEndian.Uint32(b[16:]),
			Memsz:  binary.LittleEndian.Uint32(b[20:]),
			Flags:  binary.LittleEndian.Uint32(b[24:]),
		})
	}
	return phs, nil
}

// Load parses image and maps every PT_LOAD segment into as, copying file
// bytes and zeroing the BSS tail (spec §4.5: "LOAD segments ... BSS
// zeroing"). On any failure the caller's address space may hold a
// partially built set of regions; spec §7 requires the caller tear it
// down ("Invalid ELF ... caller tears down half-built address space"),
// so Load does not attempt its own rollback beyond what AllocRegion
// itself guarantees per segment.
func Load(phys *mem.Physmem_t, as *vm.Vm_t, image []byte) (entry uintptr, err error) {
	eh, err := ParseHeader(image)
	if err != nil {
		return 0, err
	}
	phs, err := ProgramHeaders(image, eh)
	if err != nil {
		return 0, err
	}

	for _, ph := range phs {
		if ph.Type != ptLoad {
			continue
		}
		if ph.Filesz > ph.Memsz {
			return 0, fmt.Errorf("elf: segment at %#x has filesz > memsz", ph.Vaddr)
		}
		if uint64(ph.Offset)+uint64(ph.Filesz) > uint64(len(image)) {
			return 0, fmt.Errorf("elf: segment at %#x extends past end of image", ph.Vaddr)
		}

		flags := vm.PTE_U
		if ph.Flags&pfW != 0 {
			flags |= vm.PTE_W
		}

		as.Lock_pmap()
		ok := vm.AllocRegion(phys, as, uintptr(ph.Vaddr), int(ph.Memsz), flags)
		as.Unlock_pmap()
		if !ok {
			return 0, fmt.Errorf("elf: out of memory mapping segment at %#x", ph.Vaddr)
		}

		var ub vm.Userbuf_t
		ub.UbInit(phys, as, uintptr(ph.Vaddr), int(ph.Memsz))
		filePart := image[ph.Offset : ph.Offset+ph.Filesz]
		if n, werr := ub.Uiowrite(filePart); werr != 0 || n != len(filePart) {
			return 0, fmt.Errorf("elf: failed writing segment at %#x: err=%v", ph.Vaddr, werr)
		}
		if bss := int(ph.Memsz - ph.Filesz); bss > 0 {
			zeroes := make([]byte, bss)
			if n, werr := ub.Uiowrite(zeroes); werr != 0 || n != bss {
				return 0, fmt.Errorf("elf: failed zeroing bss at %#x: err=%v", ph.Vaddr, werr)
			}
		}
	}

	return uintptr(eh.Entry), nil
}
