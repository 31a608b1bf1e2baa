// Package defs holds the small set of types shared by every kernel
// subsystem: error codes and process/thread identifiers. Keeping these
// in a leaf package lets mem, vm, kheap, fs, and proc depend on a common vocabulary without depending on each other.
package defs

// Err_t is the kernel-wide error type. A zero value means success; all
// failures are small negative constants, mirroring errno conventions so a
// syscall-style return can flow the value straight into a return register.
type Err_t int

// Error kinds produced by the subsystems in this module. Each corresponds
// to a row of spec §7's error table.
const (
	ENOMEM  Err_t = -1 /// out of physical frames, heap memory, or VMM region space
	EINVAL  Err_t = -2 /// malformed argument (bad ELF, bad path syntax, ...)
	ENOENT  Err_t = -3 /// path does not resolve to an inode
	EEXIST  Err_t = -4 /// create/mkdir target name already in use
	ENOTDIR Err_t = -5 /// path component used as a directory is not one
	EISDIR  Err_t = -6 /// operation on a directory that requires a file
	EIO     Err_t = -7 /// block device read/write failure
	EFBIG   Err_t = -8 /// offset exceeds what direct+indirect pointers address
	EPERM   Err_t = -9 /// operation forbidden (e.g. removing inode 0)
	ESRCH   Err_t = -10 /// no such process
)

func (e Err_t) Error() string {
	switch e {
	case 0:
		return "success"
	case ENOMEM:
		return "out of memory"
	case EINVAL:
		return "invalid argument"
	case ENOENT:
		return "no such file or directory"
	case EEXIST:
		return "file exists"
	case ENOTDIR:
		return "not a directory"
	case EISDIR:
		return "is a directory"
	case EIO:
		return "i/o error"
	case EFBIG:
		return "file too large"
	case EPERM:
		return "operation not permitted"
	case ESRCH:
		return "no such process"
	default:
		return "unknown error"
	}
}

// Pid_t identifies a process.
type Pid_t int

// Tid_t identifies a thread.
type Tid_t int

// NONE is the sentinel identifier returned when an allocator or resolver
// has nothing to hand back. It never collides with a valid Pid_t, Tid_t,
// frame number or inode number since those are allocated starting at 0
// and NONE is negative.
const NONE = -1
