package fs

import (
	"teachkernel/src/defs"
	"teachkernel/src/ustr"
)

// Fs_t is a mounted HFS volume: a superblock plus the Disk_i it sits on.
// HFS keeps no block cache (see blk.go); every operation that touches
// metadata re-reads it fresh, which also means fs_stat's popcount is
// always computed directly off disk rather than off a maintained
// running count.
type Fs_t struct {
	Disk Disk_i
	sb   Superblock_t
}

// Mount reads block 0 and validates the superblock magic.
func Mount(d Disk_i) (*Fs_t, defs.Err_t) {
	blk := readBlock(d, 0)
	sb := Superblock_t{Data: blk}
	if sb.Magic() != Magic {
		return nil, defs.EINVAL
	}
	return &Fs_t{Disk: d, sb: sb}, 0
}

// Format lays out a fresh volume (spec §4.4 "On-disk layout" /
// "At format time"): superblock in block 0, one block each for the block
// and inode bitmaps, the inode table, then data blocks. Bit 0 of the
// inode bitmap and the first data block are reserved for the root
// directory, which is written out as an empty, already-populated
// directory inode.
func Format(d Disk_i, blockCount, inodeCount uint32) defs.Err_t {
	inodeTableBlocks := (inodeCount + inodesPerBlock - 1) / inodesPerBlock
	blockBitmapBlk := uint32(1)
	inodeBitmapBlk := uint32(2)
	inodeTableStart := uint32(3)
	dataBlocksStart := inodeTableStart + inodeTableBlocks

	if dataBlocksStart >= blockCount {
		return defs.EINVAL
	}

	sbBuf := make([]byte, BlockSize)
	sb := Superblock_t{Data: sbBuf}
	sb.SetMagic(Magic)
	sb.SetBlockCount(blockCount)
	sb.SetInodeCount(inodeCount)
	sb.SetBlockBitmapBlk(blockBitmapBlk)
	sb.SetInodeBitmapBlk(inodeBitmapBlk)
	sb.SetInodeTableStart(inodeTableStart)
	sb.SetInodeTableLen(inodeTableBlocks)
	sb.SetDataBlocksStart(dataBlocksStart)
	writeBlock(d, 0, sbBuf)

	// The block bitmap only ever indexes data blocks, relative to
	// dataBlocksStart: metadata blocks (superblock, bitmaps, inode
	// table) sit at fixed positions below dataBlocksStart and are never
	// visited by alloc/freeDataBlock, so they need no bit of their own.
	// The root's first data block (spec §4.4: "the first data block ...
	// is marked used") is data-relative index 0.
	bbm := make([]byte, BlockSize)
	bitsetbit(bbm, 0)
	writeBlock(d, blockBitmapBlk, bbm)

	ibm := make([]byte, BlockSize)
	bitsetbit(ibm, 0) // root inode
	writeBlock(d, inodeBitmapBlk, ibm)

	fs := &Fs_t{Disk: d, sb: sb}
	root := Inode_t{IsDir: true, Size: 0}
	root.Direct[0] = dataBlocksStart
	fs.writeInode(RootInode, root)

	empty := make([]byte, BlockSize)
	writeBlock(d, dataBlocksStart, empty)
	return 0
}

func (fs *Fs_t) readInode(ino uint32) Inode_t {
	blk, off := inodeBlockAndOffset(&fs.sb, ino)
	buf := readBlock(fs.Disk, blk)
	return decodeInode(buf[off:])
}

func (fs *Fs_t) writeInode(ino uint32, in Inode_t) {
	blk, off := inodeBlockAndOffset(&fs.sb, ino)
	buf := readBlock(fs.Disk, blk)
	encodeInode(buf[off:], in)
	writeBlock(fs.Disk, blk, buf)
}

func (fs *Fs_t) allocInode() (uint32, bool) {
	return allocBitmapSlot(fs.Disk, fs.sb.InodeBitmapBlk(), fs.sb.InodeCount())
}

func (fs *Fs_t) freeInodeNum(ino uint32) {
	freeBitmapSlot(fs.Disk, fs.sb.InodeBitmapBlk(), ino)
}

// allocDataBlock returns the absolute block number of a freshly zeroed
// data block.
func (fs *Fs_t) allocDataBlock() (uint32, bool) {
	limit := fs.sb.BlockCount() - fs.sb.DataBlocksStart()
	idx, ok := allocBitmapSlot(fs.Disk, fs.sb.BlockBitmapBlk(), limit)
	if !ok {
		return 0, false
	}
	abs := fs.sb.DataBlocksStart() + idx
	writeBlock(fs.Disk, abs, make([]byte, BlockSize))
	return abs, true
}

func (fs *Fs_t) freeDataBlock(abs uint32) {
	freeBitmapSlot(fs.Disk, fs.sb.BlockBitmapBlk(), abs-fs.sb.DataBlocksStart())
}

// blockForOffset returns the absolute data block backing byte offset o
// of in (spec §4.4 "Block addressing for an inode"). A zero pointer
// means a hole. When allocate is true and the span is a hole, a fresh
// block is allocated and installed (allocating the indirect block first
// if idx falls beyond N_DIRECT), and the caller must persist the mutated
// inode.
func (fs *Fs_t) blockForOffset(in *Inode_t, o uint32, allocate bool) (uint32, defs.Err_t) {
	idx := o / BlockSize
	if idx < NDirect {
		if in.Direct[idx] == 0 {
			if !allocate {
				return 0, 0
			}
			nb, ok := fs.allocDataBlock()
			if !ok {
				return 0, defs.ENOMEM
			}
			in.Direct[idx] = nb
		}
		return in.Direct[idx], 0
	}

	iidx := idx - NDirect
	if iidx >= indirectCapacity {
		return 0, defs.EFBIG
	}
	if in.Indirect == 0 {
		if !allocate {
			return 0, 0
		}
		ib, ok := fs.allocDataBlock()
		if !ok {
			return 0, defs.ENOMEM
		}
		in.Indirect = ib
	}
	itab := readBlock(fs.Disk, in.Indirect)
	cur := fieldr(itab, int(iidx))
	if cur == 0 {
		if !allocate {
			return 0, 0
		}
		nb, ok := fs.allocDataBlock()
		if !ok {
			return 0, defs.ENOMEM
		}
		fieldw(itab, int(iidx), nb)
		writeBlock(fs.Disk, in.Indirect, itab)
		return nb, 0
	}
	return cur, 0
}

// findEntry scans every directory block of dir for name (spec §4.4
// "find_entry"), returning the inode number, or 0 if absent (inode 0 is
// the root, which is never a directory entry).
func (fs *Fs_t) findEntry(dir *Inode_t, name ustr.Ustr) uint32 {
	nblocks := (dir.Size + BlockSize - 1) / BlockSize
	for b := uint32(0); b < nblocks; b++ {
		blkno, _ := fs.blockForOffset(dir, b*BlockSize, false)
		if blkno == 0 {
			continue
		}
		blk := readBlock(fs.Disk, blkno)
		for s := 0; s < direntsPerBlock; s++ {
			d := direntAt(blk, s)
			if d.Ino != 0 && d.Name.EqName(name) {
				return d.Ino
			}
		}
	}
	return 0
}

// addEntry reuses the first tombstoned slot (spec §4.4 "add_entry"), or
// extends the directory with a new block if none exists. Size tracks the
// byte offset of the last occupied slot (b*BlockSize + (s+1)*direntSize),
// matching the original's add_dir_entry, rather than a whole-block count;
// removeEntry never shrinks it back down (spec §4.4).
func (fs *Fs_t) addEntry(dirIno uint32, dir *Inode_t, name ustr.Ustr, ino uint32) defs.Err_t {
	nblocks := (dir.Size + BlockSize - 1) / BlockSize
	for b := uint32(0); b < nblocks; b++ {
		blkno, err := fs.blockForOffset(dir, b*BlockSize, false)
		if err != 0 {
			return err
		}
		if blkno == 0 {
			continue
		}
		blk := readBlock(fs.Disk, blkno)
		for s := 0; s < direntsPerBlock; s++ {
			if direntAt(blk, s).Ino == 0 {
				setDirentAt(blk, s, dirent_t{Name: append(ustr.Ustr{}, name...), Ino: ino})
				writeBlock(fs.Disk, blkno, blk)
				if grown := b*BlockSize + uint32(s+1)*direntSize; grown > dir.Size {
					dir.Size = grown
				}
				fs.writeInode(dirIno, *dir)
				return 0
			}
		}
	}

	newBlockIdx := nblocks
	blkno, err := fs.blockForOffset(dir, dir.Size, true)
	if err != 0 {
		return err
	}
	blk := readBlock(fs.Disk, blkno)
	setDirentAt(blk, 0, dirent_t{Name: append(ustr.Ustr{}, name...), Ino: ino})
	writeBlock(fs.Disk, blkno, blk)
	dir.Size = newBlockIdx*BlockSize + direntSize
	fs.writeInode(dirIno, *dir)
	return 0
}

// removeEntry zeroes the matching slot without compacting the directory
// (spec §4.4: "directory size is not compacted; this is intentional").
func (fs *Fs_t) removeEntry(dirIno uint32, dir *Inode_t, name ustr.Ustr) defs.Err_t {
	nblocks := (dir.Size + BlockSize - 1) / BlockSize
	for b := uint32(0); b < nblocks; b++ {
		blkno, _ := fs.blockForOffset(dir, b*BlockSize, false)
		if blkno == 0 {
			continue
		}
		blk := readBlock(fs.Disk, blkno)
		for s := 0; s < direntsPerBlock; s++ {
			d := direntAt(blk, s)
			if d.Ino != 0 && d.Name.EqName(name) {
				setDirentAt(blk, s, dirent_t{Ino: 0})
				writeBlock(fs.Disk, blkno, blk)
				return 0
			}
		}
	}
	return defs.ENOENT
}

// Namei resolves path to an inode number (spec §4.4 "Path resolution").
func (fs *Fs_t) Namei(path string) (uint32, defs.Err_t) {
	cur := RootInode
	toks := ustr.Ustr(path).Tokenize()
	for _, tok := range toks {
		in := fs.readInode(cur)
		if !in.IsDir {
			return 0, defs.ENOTDIR
		}
		next := fs.findEntry(&in, tok)
		if next == 0 {
			return 0, defs.ENOENT
		}
		cur = next
	}
	return cur, 0
}

// splitParent resolves the parent directory and final component name of
// path, requiring the parent to be a directory. It does not check whether
// the name is already in use; callers do that themselves.
func (fs *Fs_t) splitParent(path string) (parentIno uint32, parent Inode_t, name ustr.Ustr, err defs.Err_t) {
	toks := ustr.Ustr(path).Tokenize()
	if len(toks) == 0 {
		return 0, Inode_t{}, nil, defs.EEXIST // "/" always exists
	}
	parentIno = RootInode
	for _, tok := range toks[:len(toks)-1] {
		in := fs.readInode(parentIno)
		if !in.IsDir {
			return 0, Inode_t{}, nil, defs.ENOTDIR
		}
		next := fs.findEntry(&in, tok)
		if next == 0 {
			return 0, Inode_t{}, nil, defs.ENOENT
		}
		parentIno = next
	}
	parent = fs.readInode(parentIno)
	if !parent.IsDir {
		return 0, Inode_t{}, nil, defs.ENOTDIR
	}
	name = toks[len(toks)-1]
	return parentIno, parent, name, 0
}

// Create implements spec §4.4 "create(path)".
func (fs *Fs_t) Create(path string) (uint32, defs.Err_t) {
	return fs.mk(path, false)
}

// Mkdir implements spec §4.4 "mkdir(path)".
func (fs *Fs_t) Mkdir(path string) (uint32, defs.Err_t) {
	return fs.mk(path, true)
}

func (fs *Fs_t) mk(path string, isdir bool) (uint32, defs.Err_t) {
	parentIno, parent, name, err := fs.splitParent(path)
	if err != 0 {
		return 0, err
	}
	if len(name) > NameMax {
		return 0, defs.EINVAL
	}
	if fs.findEntry(&parent, name) != 0 {
		return 0, defs.EEXIST
	}
	ino, ok := fs.allocInode()
	if !ok {
		return 0, defs.ENOMEM
	}
	fs.writeInode(ino, Inode_t{IsDir: isdir})
	if err := fs.addEntry(parentIno, &parent, name, ino); err != 0 {
		fs.freeInodeNum(ino)
		return 0, err
	}
	return ino, 0
}

// Remove implements spec §4.4 "remove(path)": refuses inode 0, and for a
// directory recursively removes every entry before reclaiming it.
func (fs *Fs_t) Remove(path string) defs.Err_t {
	toks := ustr.Ustr(path).Tokenize()
	if len(toks) == 0 {
		return defs.EPERM
	}
	parentIno, parent, name, err := fs.splitParent(path)
	if err != 0 {
		return err
	}
	ino := fs.findEntry(&parent, name)
	if ino == 0 {
		return defs.ENOENT
	}
	if err := fs.removeRecursive(ino); err != 0 {
		return err
	}
	return fs.removeEntry(parentIno, &parent, name)
}

func (fs *Fs_t) removeRecursive(ino uint32) defs.Err_t {
	if ino == RootInode {
		return defs.EPERM
	}
	in := fs.readInode(ino)
	if in.IsDir {
		entries, err := fs.Readdir(ino)
		if err != 0 {
			return err
		}
		for _, e := range entries {
			if err := fs.removeRecursive(e.Ino); err != 0 {
				return err
			}
		}
		in = fs.readInode(ino)
	}
	fs.freeDataBlocks(&in)
	fs.freeInodeNum(ino)
	return 0
}

func (fs *Fs_t) freeDataBlocks(in *Inode_t) {
	for _, b := range in.Direct {
		if b != 0 {
			fs.freeDataBlock(b)
		}
	}
	if in.Indirect != 0 {
		itab := readBlock(fs.Disk, in.Indirect)
		for i := 0; i < indirectCapacity; i++ {
			if b := fieldr(itab, i); b != 0 {
				fs.freeDataBlock(b)
			}
		}
		fs.freeDataBlock(in.Indirect)
	}
}

// DirEntry is one (name, inode_number) pair returned by Readdir.
type DirEntry struct {
	Name string
	Ino  uint32
}

// Readdir returns every non-tombstoned entry of the directory inode, in
// block-then-slot order (spec §3 "Directory operations" supplement).
func (fs *Fs_t) Readdir(ino uint32) ([]DirEntry, defs.Err_t) {
	in := fs.readInode(ino)
	if !in.IsDir {
		return nil, defs.ENOTDIR
	}
	var out []DirEntry
	nblocks := (in.Size + BlockSize - 1) / BlockSize
	for b := uint32(0); b < nblocks; b++ {
		blkno, _ := fs.blockForOffset(&in, b*BlockSize, false)
		if blkno == 0 {
			continue
		}
		blk := readBlock(fs.Disk, blkno)
		for s := 0; s < direntsPerBlock; s++ {
			d := direntAt(blk, s)
			if d.Ino != 0 {
				out = append(out, DirEntry{Name: d.Name.String(), Ino: d.Ino})
			}
		}
	}
	return out, 0
}

// Read implements spec §4.4 "Read / write", read half: holes zero-fill
// the destination.
func (fs *Fs_t) Read(ino uint32, dst []byte, offset uint32) (int, defs.Err_t) {
	in := fs.readInode(ino)
	if in.IsDir {
		return 0, defs.EISDIR
	}
	if offset >= in.Size {
		return 0, 0
	}
	remaining := in.Size - offset
	if uint32(len(dst)) < remaining {
		remaining = uint32(len(dst))
	}
	var done uint32
	for done < remaining {
		o := offset + done
		blockOff := o % BlockSize
		n := BlockSize - blockOff
		if n > remaining-done {
			n = remaining - done
		}
		blkno, _ := fs.blockForOffset(&in, o, false)
		if blkno == 0 {
			for i := uint32(0); i < n; i++ {
				dst[done+i] = 0
			}
		} else {
			blk := readBlock(fs.Disk, blkno)
			copy(dst[done:done+n], blk[blockOff:blockOff+n])
		}
		done += n
	}
	return int(done), 0
}

// Write implements spec §4.4 "Read / write", write half: a hole
// allocates a fresh zeroed block; a partial span is read-modify-written.
// On short allocation failure, the bytes successfully written so far are
// returned rather than an error (spec §7 "partial writes return the
// prefix length").
func (fs *Fs_t) Write(ino uint32, src []byte, offset uint32) (int, defs.Err_t) {
	in := fs.readInode(ino)
	if in.IsDir {
		return 0, defs.EISDIR
	}
	var done uint32
	total := uint32(len(src))
	for done < total {
		o := offset + done
		blockOff := o % BlockSize
		n := BlockSize - blockOff
		if n > total-done {
			n = total - done
		}
		blkno, err := fs.blockForOffset(&in, o, true)
		if err != 0 {
			if done == 0 {
				return 0, err
			}
			break
		}
		blk := readBlock(fs.Disk, blkno)
		copy(blk[blockOff:blockOff+n], src[done:done+n])
		writeBlock(fs.Disk, blkno, blk)
		done += n
		if o+n > in.Size {
			in.Size = o + n
		}
	}
	fs.writeInode(ino, in)
	return int(done), 0
}

// FsStat_t is the spec §3 supplement "fs_stat" result:
// {free_blocks, free_inodes, total_blocks, total_inodes}.
type FsStat_t struct {
	FreeBlocks  uint32
	FreeInodes  uint32
	TotalBlocks uint32
	TotalInodes uint32
}

// FsStat computes volume-wide occupancy directly from the on-disk
// bitmaps (spec §3 supplement "fs_stat").
func (fs *Fs_t) FsStat() FsStat_t {
	dataBlocks := fs.sb.BlockCount() - fs.sb.DataBlocksStart()
	return FsStat_t{
		FreeBlocks:  countFreeBitmapSlots(fs.Disk, fs.sb.BlockBitmapBlk(), dataBlocks),
		FreeInodes:  countFreeBitmapSlots(fs.Disk, fs.sb.InodeBitmapBlk(), fs.sb.InodeCount()),
		TotalBlocks: dataBlocks,
		TotalInodes: fs.sb.InodeCount(),
	}
}
