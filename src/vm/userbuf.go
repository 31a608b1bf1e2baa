package vm

import (
	"teachkernel/src/defs"
	"teachkernel/src/mem"
)

// Userbuf_t copies bytes to or from a range of user virtual memory,
// translating through Translate page by page so a transfer that spans
// several pages never assumes they are physically contiguous. Adapted
// from the teacher's vm/userbuf.go Userbuf_t; the teacher's resource-quota
// checks (`res.Resadd_noblock`) and iovec support are dropped since this
// spec has no resource-accounting subsystem to charge against and no
// readv/writev surface — see DESIGN.md.
type Userbuf_t struct {
	phys   *mem.Physmem_t
	as     *Vm_t
	userva uintptr
	len    int
	off    int
}

// UbInit initialises ub to cover [uva, uva+n) of as's address space.
func (ub *Userbuf_t) UbInit(phys *mem.Physmem_t, as *Vm_t, uva uintptr, n int) {
	ub.phys = phys
	ub.as = as
	ub.userva = uva
	ub.len = n
	ub.off = 0
}

// Remain returns the number of bytes not yet transferred.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// Totalsz returns the buffer's total length.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

// Uioread copies from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(dst, false)
}

// Uiowrite copies src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(src, true)
}

func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.userva + uintptr(ub.off)
		pageOff := int(va) & (mem.PGSIZE - 1)
		frame, ok := Translate(ub.phys, ub.as, va&^uintptr(mem.PGSIZE-1))
		if !ok {
			return ret, defs.EFBIG
		}
		pg := ub.phys.Frame(frame)
		avail := pg[pageOff:]
		left := ub.len - ub.off
		if len(avail) > left {
			avail = avail[:left]
		}
		var c int
		if write {
			c = copy(avail, buf)
		} else {
			c = copy(buf, avail)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
		if c == 0 {
			break
		}
	}
	return ret, 0
}

// Fakeubuf_t implements the same read/write interface as Userbuf_t but
// operates directly on an in-process byte slice, for code that needs a
// buffer without a real address space behind it. Nothing in this module
// uses it at present. Kept close to the teacher's vm/userbuf.go
// Fakeubuf_t.
type Fakeubuf_t struct {
	fbuf []uint8
	len  int
}

// FakeInit sets up the fake buffer with the provided slice.
func (fb *Fakeubuf_t) FakeInit(buf []uint8) {
	fb.fbuf = buf
	fb.len = len(buf)
}

// Remain returns the number of bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int { return len(fb.fbuf) }

// Totalsz returns the total length of the fake buffer.
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.fbuf, buf)
	} else {
		c = copy(buf, fb.fbuf)
	}
	fb.fbuf = fb.fbuf[c:]
	return c, 0
}

// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) { return fb.tx(dst, false) }

// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }
