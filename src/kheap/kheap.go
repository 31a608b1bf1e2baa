// Package kheap implements the kernel heap (KH, spec §4.3): a buddy
// allocator parameterised by minimum and maximum block orders, with
// split, coalesce, and double-free detection. The teacher's own kernel
// hosts the Go runtime and therefore never hand-rolls a byte allocator;
// this package is grounded instead on the size-class bookkeeping style of
// the Go runtime's allocator (see cloudfly-readgo/runtime/msize.go in the
// example pack) translated into the classic buddy-system algorithm
// spec.md calls for.
package kheap

import (
	"fmt"
	"unsafe"

	"teachkernel/src/mem"
	"teachkernel/src/util"
	"teachkernel/src/vm"
)

// MinOrder is the smallest block order: 2^5 = 32 bytes (spec §4.3).
const MinOrder = 5

// MaxOrder is the largest block order this package will configure with;
// spec.md caps it at 20 (1 MiB) but a given heap may use any order
// between MinOrder and MaxOrder inclusive.
const MaxOrder = 20

// Magic marks a header as belonging to a live allocation.
const Magic uint32 = 0xDEADBEEF

// header_t precedes every allocation returned to a caller (spec §3
// "Heap descriptor": "Each allocation carries an 8-byte header
// {size, magic}").
type header_t struct {
	size  uint32
	magic uint32
}

const headerSize = 8 // unsafe.Sizeof(header_t{}), fixed by the two uint32 fields

// freeNode_t links free blocks of the same order into a list. It lives at
// the start of the free block itself — no separate bookkeeping
// allocation, matching spec §4.3's "push both halves". addr records the
// block's own virtual address: the node's Go pointer identity says
// nothing about where that address lives in the simulated address space
// (mem maps virtual addresses to arbitrary backing frames), so the
// address has to travel as data rather than be recovered from the
// pointer.
type freeNode_t struct {
	next *freeNode_t
	addr uintptr
}

// Heap_t is the buddy allocator state (spec §3 "Heap descriptor"):
// base/end, the supervisor flag, and the free lists indexed by order.
type Heap_t struct {
	base      uintptr
	size      uintptr
	maxOrder  uint
	minOrder  uint
	super     bool
	freeLists [MaxOrder + 1]*freeNode_t

	mem func(uintptr) []byte // byte-level access into the mapped region
}

// NewVMBacked wires a Heap_t to a real address space: base must already
// be mapped for regionSize bytes in as (spec §4.3: "initialised over a
// virtual range obtained via VMM.alloc_region"). Byte access goes through
// vm.Translate on every call rather than caching frame pointers, since a
// user address space's mappings can change out from under a long-lived
// heap; the kernel heap itself is always mapped over the kernel half,
// which never does, so the extra lookup costs nothing it needs to avoid.
func NewVMBacked(phys *mem.Physmem_t, as *vm.Vm_t, base uintptr, regionSize int, super bool) (*Heap_t, error) {
	access := func(addr uintptr) []byte {
		pageBase := addr &^ uintptr(mem.PGSIZE-1)
		off := int(addr - pageBase)
		as.Lock_pmap()
		frame, ok := vm.Translate(phys, as, pageBase)
		as.Unlock_pmap()
		if !ok {
			panic(fmt.Sprintf("kheap: access to unmapped address %#x", addr))
		}
		return phys.Frame(frame)[off:]
	}
	return Init(base, regionSize, super, access)
}

// Init builds a heap over the virtual range [base, base+regionSize),
// which the caller must already have mapped (spec §4.3: "initialised
// over a virtual range obtained via VMM.alloc_region"). The spec keeps
// the free-list heads at the head of the mapped range; this hosted
// rewrite keeps them as ordinary Go fields on Heap_t instead, since
// nothing outside the allocator ever needs to find them by address.
// base must be aligned to 2^maxOrder, as the XOR buddy rule requires.
func Init(base uintptr, regionSize int, super bool, access func(uintptr) []byte) (*Heap_t, error) {
	if base%(1<<MaxOrder) != 0 {
		return nil, fmt.Errorf("kheap: base %#x is not aligned to 2^%d", base, MaxOrder)
	}
	h := &Heap_t{
		base:     base,
		minOrder: MinOrder,
		maxOrder: MaxOrder,
		super:    super,
		mem:      access,
	}

	size := uintptr(regionSize) &^ ((1 << MinOrder) - 1)
	h.size = size

	// Break the region into maximal aligned blocks and push each at the
	// largest order its size and alignment support (spec §4.3: "the
	// remainder is a single free block at the largest feasible order").
	off := uintptr(0)
	for off < size {
		order := h.maxOrder
		for order > h.minOrder {
			blk := uintptr(1) << order
			if off%blk == 0 && off+blk <= size {
				break
			}
			order--
		}
		h.pushFree(order, base+off)
		off += uintptr(1) << order
	}
	return h, nil
}

// headerPtr turns the first bytes of a mem-backed window into a pointer
// usable as either *header_t or *freeNode_t; the two never overlap in
// time (a block is either on a free list or carries a live header, never
// both), so sharing the same cast site for both is safe.
func headerPtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// nodeAddr returns the virtual address n was pushed at.
func nodeAddr(n *freeNode_t) uintptr {
	return n.addr
}

func (h *Heap_t) header(addr uintptr) *header_t {
	b := h.mem(addr)
	return (*header_t)(headerPtr(b))
}

func (h *Heap_t) pushFree(order uint, addr uintptr) {
	n := (*freeNode_t)(headerPtr(h.mem(addr)))
	n.addr = addr
	n.next = h.freeLists[order]
	h.freeLists[order] = n
}

// popFreeAt unlinks the node at addr from freeLists[order], if present,
// and reports whether it was found.
func (h *Heap_t) popFreeAt(order uint, addr uintptr) bool {
	var prev *freeNode_t
	cur := h.freeLists[order]
	for cur != nil {
		if nodeAddr(cur) == addr {
			if prev == nil {
				h.freeLists[order] = cur.next
			} else {
				prev.next = cur.next
			}
			return true
		}
		prev = cur
		cur = cur.next
	}
	return false
}

func (h *Heap_t) popFreeAny(order uint) (uintptr, bool) {
	n := h.freeLists[order]
	if n == nil {
		return 0, false
	}
	h.freeLists[order] = n.next
	return nodeAddr(n), true
}

// orderFor returns the smallest order whose block size is >= n.
func orderFor(n uintptr, minOrder, maxOrder uint) (uint, bool) {
	for o := minOrder; o <= maxOrder; o++ {
		if uintptr(1)<<o >= n {
			return o, true
		}
	}
	return 0, false
}

// Malloc rounds the request up to round8(n+header) then to the smallest
// sufficient order, splits a larger free block down as needed, installs
// the header, and returns a pointer to the payload (spec §4.3 "Request
// path").
func (h *Heap_t) Malloc(n int) (uintptr, error) {
	if n < 0 {
		return 0, fmt.Errorf("kheap: negative size")
	}
	need := util.Roundup(uintptr(n)+headerSize, uintptr(8))
	order, ok := orderFor(need, h.minOrder, h.maxOrder)
	if !ok {
		return 0, fmt.Errorf("kheap: request too large")
	}

	found := order
	for found <= h.maxOrder && h.freeLists[found] == nil {
		found++
	}
	if found > h.maxOrder {
		return 0, fmt.Errorf("kheap: out of memory")
	}

	addr, _ := h.popFreeAny(found)
	for found > order {
		found--
		buddySize := uintptr(1) << found
		h.pushFree(found, addr+buddySize)
	}

	hdr := h.header(addr)
	hdr.size = uint32(uintptr(1) << order)
	hdr.magic = Magic
	return addr + headerSize, nil
}

// Free recovers the header at p-headerSize. An invalid magic means the
// call is a bad or double free; spec §4.3 requires this to be ignored
// (and logged) rather than panicking. Otherwise the magic is invalidated
// (so a second Free of the same pointer is caught) and the block is
// merged with its buddy repeatedly while the buddy is itself free, then
// pushed onto the resulting order's free list (spec §4.3 "Release path").
func (h *Heap_t) Free(p uintptr) {
	if p < h.base+headerSize {
		fmt.Printf("kheap: bad free of %#x (out of range)\n", p)
		return
	}
	headerAddr := p - headerSize
	hdr := h.header(headerAddr)
	if hdr.magic != Magic {
		fmt.Printf("kheap: bad or double free of %#x\n", p)
		return
	}
	hdr.magic = 0

	size := uintptr(hdr.size)
	order := util.Log2(uint(size))
	block := headerAddr

	for order < h.maxOrder {
		buddy := h.base + ((block - h.base) ^ size)
		if !h.popFreeAt(order, buddy) {
			break
		}
		if buddy < block {
			block = buddy
		}
		order++
		size <<= 1
	}
	h.pushFree(order, block)
}

// Realloc resizes the allocation at p to m bytes: if the existing block's
// payload already fits m, p is returned unchanged; otherwise a fresh
// block is allocated, min(old, m) bytes are copied, and p is freed (spec
// §4.3 "realloc").
func (h *Heap_t) Realloc(p uintptr, m int) (uintptr, error) {
	hdr := h.header(p - headerSize)
	oldPayload := int(hdr.size) - headerSize
	if m+headerSize <= int(hdr.size) {
		return p, nil
	}
	np, err := h.Malloc(m)
	if err != nil {
		return 0, err
	}
	n := oldPayload
	if m < n {
		n = m
	}
	copy(h.mem(np)[:n], h.mem(p)[:n])
	h.Free(p)
	return np, nil
}

// HeaderSize exposes the header layout size for tests asserting spec §8
// invariant 3 ("header(p).size >= requested rounded size").
func HeaderSize() int { return headerSize }

// Size returns the block size recorded in p's header.
func (h *Heap_t) Size(p uintptr) int {
	return int(h.header(p - headerSize).size)
}

// MagicOf returns the current magic word stored in p's header, for tests
// asserting double-free detection.
func (h *Heap_t) MagicOf(p uintptr) uint32 {
	return h.header(p - headerSize).magic
}

// Quiescent reports whether no two free blocks at any order are buddies
// of each other — spec §8 invariant 3's "coalesced-maximal" property —
// by scanning every free list and checking each entry's buddy isn't also
// free at the same order.
func (h *Heap_t) Quiescent() bool {
	for order := h.minOrder; order < h.maxOrder; order++ {
		size := uintptr(1) << order
		for n := h.freeLists[order]; n != nil; n = n.next {
			addr := nodeAddr(n)
			buddy := h.base + ((addr - h.base) ^ size)
			for m := h.freeLists[order]; m != nil; m = m.next {
				if nodeAddr(m) == buddy {
					return false
				}
			}
		}
	}
	return true
}
