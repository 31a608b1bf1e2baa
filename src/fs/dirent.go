package fs

import (
	"encoding/binary"

	"teachkernel/src/ustr"
)

// NameMax bounds a directory entry's name (spec §3 "Directory block":
// "{name[NAME_MAX], inode_number}"), matching ustr.NameMax so a path
// component can never be written that a later lookup couldn't match.
const NameMax = ustr.NameMax

// direntSize is name bytes plus a 4-byte inode number.
const direntSize = NameMax + 4

// direntsPerBlock is how many directory-entry slots fit in one block.
const direntsPerBlock = BlockSize / direntSize

// dirent_t is one slot of a directory block. Ino == 0 marks an unused
// slot (spec §3: "a zero inode number marks an unused slot").
type dirent_t struct {
	Name ustr.Ustr
	Ino  uint32
}

func decodeDirent(buf []byte) dirent_t {
	return dirent_t{
		Name: ustr.MkUstrSlice(append(ustr.Ustr{}, buf[:NameMax]...)),
		Ino:  binary.LittleEndian.Uint32(buf[NameMax:]),
	}
}

func encodeDirent(buf []byte, d dirent_t) {
	for i := range buf[:NameMax] {
		buf[i] = 0
	}
	copy(buf[:NameMax], d.Name)
	binary.LittleEndian.PutUint32(buf[NameMax:], d.Ino)
}

func direntAt(blk []byte, slot int) dirent_t {
	return decodeDirent(blk[slot*direntSize:])
}

func setDirentAt(blk []byte, slot int, d dirent_t) {
	encodeDirent(blk[slot*direntSize:], d)
}
