package fs

import "teachkernel/src/defs"

// Stat_t mirrors a single inode's stat information, adapted from the
// teacher's stat.Stat_t: the device, rdev, uid, and mtime fields it
// carries have no referent in a single-device, single-user teaching
// filesystem, so only Ino, Size, and IsDir survive (see DESIGN.md).
type Stat_t struct {
	Ino   uint32
	Size  uint32
	IsDir bool
}

// Stat implements the VFS-facing stat operation over a mounted inode.
func (fs *Fs_t) Stat(ino uint32) (Stat_t, defs.Err_t) {
	if ino >= fs.sb.InodeCount() {
		return Stat_t{}, defs.EINVAL
	}
	in := fs.readInode(ino)
	return Stat_t{Ino: ino, Size: in.Size, IsDir: in.IsDir}, 0
}
