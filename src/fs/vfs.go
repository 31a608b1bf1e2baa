package fs

import "teachkernel/src/defs"

// Vnode_t is the VFS-facing handle to an open inode (spec §4.4 "VFS
// vector": "open(path) constructs a vnode carrying the resolved inode
// number as opaque per-node data"). Per spec §9's design note on the
// vnode/vfs/inode-number cycle, it holds the owning filesystem's
// identity by pointer and an opaque inode id; it never owns the
// filesystem, so no ownership cycle exists between Fs_t and Vnode_t.
type Vnode_t struct {
	fs  *Fs_t
	Ino uint32
}

// Open resolves path and returns a vnode wrapping its inode (spec §4.4
// VFS vector "open").
func (fs *Fs_t) Open(path string) (*Vnode_t, defs.Err_t) {
	ino, err := fs.Namei(path)
	if err != 0 {
		return nil, err
	}
	return &Vnode_t{fs: fs, Ino: ino}, 0
}

// Close frees the vnode (spec §4.4 VFS vector "close"). HFS keeps no
// per-vnode state beyond the inode number, so this has nothing to flush;
// it exists so callers have a single symmetric open/close pair to use
// regardless of which filesystem type backs the vnode.
func (vn *Vnode_t) Close() defs.Err_t {
	vn.fs = nil
	return 0
}

// Read reads through the vnode at the given offset (spec §4.4 VFS vector
// "read").
func (vn *Vnode_t) Read(dst []byte, offset uint32) (int, defs.Err_t) {
	if vn.fs == nil {
		return 0, defs.EINVAL
	}
	return vn.fs.Read(vn.Ino, dst, offset)
}

// Write writes through the vnode at the given offset (spec §4.4 VFS
// vector "write").
func (vn *Vnode_t) Write(src []byte, offset uint32) (int, defs.Err_t) {
	if vn.fs == nil {
		return 0, defs.EINVAL
	}
	return vn.fs.Write(vn.Ino, src, offset)
}

// Readdir lists the vnode's directory entries (spec §4.4 VFS vector
// "readdir").
func (vn *Vnode_t) Readdir() ([]DirEntry, defs.Err_t) {
	if vn.fs == nil {
		return nil, defs.EINVAL
	}
	return vn.fs.Readdir(vn.Ino)
}

// Stat reports the vnode's inode metadata.
func (vn *Vnode_t) Stat() (Stat_t, defs.Err_t) {
	if vn.fs == nil {
		return Stat_t{}, defs.EINVAL
	}
	return vn.fs.Stat(vn.Ino)
}

// FsType_t is the filesystem-type record spec §4.4 says HFS registers
// with the VFS: "{name, mount, unmount}". Mount validates and opens a
// volume on disk; Unmount is a no-op because HFS keeps no cache or open
// log to flush on last close (spec Non-goals: "disk caching").
type FsType_t struct {
	Name    string
	Mount   func(Disk_i) (*Fs_t, defs.Err_t)
	Unmount func(*Fs_t) defs.Err_t
}

// HFS is the filesystem-type record this package registers with a VFS
// layer, named "hfs" per spec §4.4.
var HFS = FsType_t{
	Name:  "hfs",
	Mount: Mount,
	Unmount: func(*Fs_t) defs.Err_t {
		return 0
	},
}
