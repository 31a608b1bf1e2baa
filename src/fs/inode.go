package fs

import "encoding/binary"

// NDirect is the number of direct block pointers an inode carries (spec
// §3 "Inode": "{is_directory, size, direct_pointers[N_DIRECT],
// single_indirect_pointer}").
const NDirect = 10

// inodeSize is the fixed on-disk size of one inode record: is_directory
// (u32) + size (u32) + NDirect direct pointers (u32 each) + the
// single-indirect pointer (u32).
const inodeSize = 4 * (2 + NDirect + 1)

// inodesPerBlock is how many fixed-size inode records fit in one block.
const inodesPerBlock = BlockSize / inodeSize

// indirectCapacity is how many block numbers a single indirect block can
// hold (spec §4.4: "up to BLOCK_SIZE / sizeof(u16 or u32) block
// numbers").
const indirectCapacity = BlockSize / 4

// RootInode is the permanently reserved inode number for "/" (spec §3:
// "Inode 0 is always the root directory").
const RootInode uint32 = 0

// Inode_t is the in-memory form of one on-disk inode record.
type Inode_t struct {
	IsDir    bool
	Size     uint32
	Direct   [NDirect]uint32
	Indirect uint32
}

// inodeBlockAndOffset locates the block and byte offset of inode ino
// within the inode table.
func inodeBlockAndOffset(sb *Superblock_t, ino uint32) (blk uint32, off int) {
	idx := ino / inodesPerBlock
	off = int(ino%inodesPerBlock) * inodeSize
	return sb.InodeTableStart() + idx, off
}

func decodeInode(buf []byte) Inode_t {
	var in Inode_t
	in.IsDir = binary.LittleEndian.Uint32(buf[0:]) != 0
	in.Size = binary.LittleEndian.Uint32(buf[4:])
	for i := 0; i < NDirect; i++ {
		in.Direct[i] = binary.LittleEndian.Uint32(buf[8+4*i:])
	}
	in.Indirect = binary.LittleEndian.Uint32(buf[8+4*NDirect:])
	return in
}

func encodeInode(buf []byte, in Inode_t) {
	isdir := uint32(0)
	if in.IsDir {
		isdir = 1
	}
	binary.LittleEndian.PutUint32(buf[0:], isdir)
	binary.LittleEndian.PutUint32(buf[4:], in.Size)
	for i := 0; i < NDirect; i++ {
		binary.LittleEndian.PutUint32(buf[8+4*i:], in.Direct[i])
	}
	binary.LittleEndian.PutUint32(buf[8+4*NDirect:], in.Indirect)
}
