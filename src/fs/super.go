package fs

import "encoding/binary"

// Magic identifies a formatted HFS volume (spec §3 "Superblock").
const Magic uint32 = 0xfeedface

// Superblock_t is the spec §3 superblock: "{magic, block_count,
// inode_count, block_bitmap_blk, inode_bitmap_blk, inode_table_start,
// data_blocks_start}", stored in block 0. Field access goes through
// fieldr/fieldw exactly as the teacher's Superblock_t does, adapted from
// an 8-field 8-byte-aligned layout to a 7-field uint32 layout.
type Superblock_t struct {
	Data []byte // one block, BlockSize long
}

func fieldr(d []byte, idx int) uint32 {
	return binary.LittleEndian.Uint32(d[idx*4:])
}

func fieldw(d []byte, idx int, v uint32) {
	binary.LittleEndian.PutUint32(d[idx*4:], v)
}

func (sb *Superblock_t) Magic() uint32         { return fieldr(sb.Data, 0) }
func (sb *Superblock_t) BlockCount() uint32    { return fieldr(sb.Data, 1) }
func (sb *Superblock_t) InodeCount() uint32    { return fieldr(sb.Data, 2) }
func (sb *Superblock_t) BlockBitmapBlk() uint32 { return fieldr(sb.Data, 3) }
func (sb *Superblock_t) InodeBitmapBlk() uint32 { return fieldr(sb.Data, 4) }
func (sb *Superblock_t) InodeTableStart() uint32 { return fieldr(sb.Data, 5) }
func (sb *Superblock_t) DataBlocksStart() uint32 { return fieldr(sb.Data, 6) }
func (sb *Superblock_t) InodeTableLen() uint32   { return fieldr(sb.Data, 7) }

func (sb *Superblock_t) SetMagic(v uint32)          { fieldw(sb.Data, 0, v) }
func (sb *Superblock_t) SetBlockCount(v uint32)     { fieldw(sb.Data, 1, v) }
func (sb *Superblock_t) SetInodeCount(v uint32)     { fieldw(sb.Data, 2, v) }
func (sb *Superblock_t) SetBlockBitmapBlk(v uint32) { fieldw(sb.Data, 3, v) }
func (sb *Superblock_t) SetInodeBitmapBlk(v uint32) { fieldw(sb.Data, 4, v) }
func (sb *Superblock_t) SetInodeTableStart(v uint32) { fieldw(sb.Data, 5, v) }
func (sb *Superblock_t) SetDataBlocksStart(v uint32) { fieldw(sb.Data, 6, v) }
func (sb *Superblock_t) SetInodeTableLen(v uint32)   { fieldw(sb.Data, 7, v) }
