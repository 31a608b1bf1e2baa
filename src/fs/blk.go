// Package fs implements the hierarchical file system (HFS, spec §4.4): a
// superblock + bitmap + inode-table + data-block layout with direct and
// single-indirect pointers, path resolution, and a VFS-facing operations
// vector. Grounded on the teacher's fs/blk.go and fs/super.go: the
// block-device request shape (Disk_i, Bdev_req_t, the AckCh handshake)
// survives unchanged, but the teacher's block cache, eviction policy, and
// write-ahead log are dropped — this spec has neither a cache-consistency
// requirement nor a journal, and keeping them would just be unexercised
// bulk (see DESIGN.md).
package fs

// BlockSize is the on-disk block size (spec §4.4: "block size fixed, e.g.
// 512 or 4096 bytes — a compile-time constant").
const BlockSize = 4096

// Bdevcmd_t enumerates disk request types, mirroring the teacher's own
// Bdevcmd_t in fs/blk.go.
type Bdevcmd_t uint

const (
	BDEV_READ Bdevcmd_t = iota
	BDEV_WRITE
)

// Bdev_req_t describes a single block request. Unlike the teacher's
// version this carries exactly one block (HFS never batches a log
// transaction across several), but keeps the same AckCh handshake: a
// Disk_i implementation that can service the request immediately may
// still choose to close over real I/O latency and signal completion
// asynchronously.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Block uint32
	Data  []byte // len == BlockSize
	AckCh chan bool
}

// MkRequest allocates a block request structure, mirroring the teacher's
// MkRequest in fs/blk.go.
func MkRequest(block uint32, cmd Bdevcmd_t, data []byte) *Bdev_req_t {
	return &Bdev_req_t{Cmd: cmd, Block: block, Data: data, AckCh: make(chan bool)}
}

// Disk_i is the block device HFS sits on top of, unchanged in shape from
// the teacher's fs/blk.go Disk_i.
type Disk_i interface {
	Start(*Bdev_req_t) bool
	Stats() string
}

// readBlock issues a synchronous read and returns the block's contents.
func readBlock(d Disk_i, blk uint32) []byte {
	buf := make([]byte, BlockSize)
	req := MkRequest(blk, BDEV_READ, buf)
	if d.Start(req) {
		<-req.AckCh
	}
	return buf
}

// writeBlock issues a synchronous write of buf (which must be BlockSize
// bytes) to blk.
func writeBlock(d Disk_i, blk uint32, buf []byte) {
	req := MkRequest(blk, BDEV_WRITE, buf)
	if d.Start(req) {
		<-req.AckCh
	}
}
