package fs

// Bitmaps are read-modify-written a block at a time; HFS keeps no
// in-memory cache of them (see DESIGN.md for why the teacher's
// block-cache machinery was dropped), so every alloc/free costs one
// extra disk round trip. Acceptable for a teaching filesystem whose
// block and inode bitmaps are each exactly one block (spec §4.4).

func bitset(b []byte, i uint32) bool { return b[i/8]&(1<<(i%8)) != 0 }
func bitsetbit(b []byte, i uint32)   { b[i/8] |= 1 << (i % 8) }
func bitclearbit(b []byte, i uint32) { b[i/8] &^= 1 << (i % 8) }

// allocBitmapSlot scans bitmap block bmBlk for the first clear bit below
// limit, sets it, writes the block back, and returns the bit index.
func allocBitmapSlot(d Disk_i, bmBlk uint32, limit uint32) (uint32, bool) {
	bm := readBlock(d, bmBlk)
	for i := uint32(0); i < limit; i++ {
		if !bitset(bm, i) {
			bitsetbit(bm, i)
			writeBlock(d, bmBlk, bm)
			return i, true
		}
	}
	return 0, false
}

func freeBitmapSlot(d Disk_i, bmBlk uint32, idx uint32) {
	bm := readBlock(d, bmBlk)
	bitclearbit(bm, idx)
	writeBlock(d, bmBlk, bm)
}

func bitmapSlotUsed(d Disk_i, bmBlk uint32, idx uint32) bool {
	bm := readBlock(d, bmBlk)
	return bitset(bm, idx)
}

// countFreeBitmapSlots returns the number of clear bits below limit.
func countFreeBitmapSlots(d Disk_i, bmBlk uint32, limit uint32) uint32 {
	bm := readBlock(d, bmBlk)
	var free uint32
	for i := uint32(0); i < limit; i++ {
		if !bitset(bm, i) {
			free++
		}
	}
	return free
}
