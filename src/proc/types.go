// Package proc implements the process and thread scheduler (SCH, spec
// §4.6): single-CPU round-robin over a FIFO ready queue, process
// lifecycle (spawn, fork, exit), and the reap-on-tick discipline. The
// teacher's own scheduler is goroutine-hosted — each biscuit "thread" is
// a real Go goroutine parked behind runtime.Gptr/Setgptr, a patched-
// runtime trick this module's unmodified Go toolchain cannot reproduce
// (see tinfo.go in the example pack, and DESIGN.md for why it was
// dropped rather than adapted). This package instead models the
// scheduler the way the spec itself describes it: plain data structures
// advanced one explicit Tick at a time, the same style the rest of this
// module uses to simulate hardware state (mem.Physmem_t's frame array,
// vm.Vm_t's page tables) without a real CPU underneath.
package proc

import (
	"teachkernel/src/defs"
	"teachkernel/src/vm"
)

// State_t enumerates thread states (spec §4.6 "States and transitions").
type State_t int

const (
	READY State_t = iota
	RUNNING
	BLOCKED
	TERMINATED
)

func (s State_t) String() string {
	switch s {
	case READY:
		return "READY"
	case RUNNING:
		return "RUNNING"
	case BLOCKED:
		return "BLOCKED"
	case TERMINATED:
		return "TERMINATED"
	default:
		return "?"
	}
}

// DefaultTimeslice is the number of ticks a thread runs before
// preemption (spec §8 scenario 4: "DEFAULT_TIMESLICE = 10").
const DefaultTimeslice = 10

// KstackSize is the size of a freshly allocated kernel stack (spec
// §4.6 "Fork": "allocate a fresh kernel stack of size 2 * PAGE").
const KstackSize = 2 * 4096

// TrapFrame_t is the CPU state snapshot a trap pushes, reduced to the
// one register fork's contract actually depends on (spec §4.6 "Fork":
// "set the child's trap frame return_value register to 0 and the
// parent's to the new PID") plus the entry PC/SP a freshly spawned
// thread starts at. A real implementation's trap frame also carries
// segment selectors and the general-purpose register file; those never
// influence scheduling decisions, so this hosted model omits them.
type TrapFrame_t struct {
	ReturnValue int
	Pc          uintptr
	Sp          uintptr
}

// Thread_t is a TCB (spec §3 "Thread"): it is linked into its owner
// process's thread list via ProcNext and into at most one of the
// scheduler's queues via Next.
type Thread_t struct {
	Tid       defs.Tid_t
	Owner     *Process_t
	State     State_t
	Priority  int
	Timeslice int
	Kstack    []byte
	KstackTop uintptr
	TrapFrame *TrapFrame_t

	Next     *Thread_t // scheduler ready-queue link
	ProcNext *Thread_t // owner process's thread-list link
}

// Accnt_t is the per-process accounting the teacher's accnt.Accnt_t
// tracks (user/system time), carried here as an ordinary struct field
// rather than a goroutine-local counter (spec supplement, SPEC_FULL.md
// §3 "Process accounting").
type Accnt_t struct {
	UserNsec   uint64
	SystemNsec uint64
}

// Syslimit_t mirrors the teacher's limits.Syslimit_t resource counters,
// narrowed to the ones this spec's process model can actually exhaust
// (spec supplement, SPEC_FULL.md §3 "Resource limits").
type Syslimit_t struct {
	MaxThreads  int
	MaxFdCount  int
	MaxVirtMem  uint64
}

// Process_t is a PCB. PageDir is the directory passed to Init for the
// init process, and is set to nil once reap tears down the address space
// of a process that owns it.
// OwnsPageDir is false for the init process, which borrows the kernel's
// own directory and must never free it (spec §3 "Process": "a process
// owns its page directory (except the init process which borrows the
// kernel directory)"); every Spawn'd or Fork'd process sets it true, and
// the scheduler tears its address space down on reap only when set.
type Process_t struct {
	Pid         defs.Pid_t
	Name        string
	Priority    int
	PageDir     *vm.Vm_t
	OwnsPageDir bool
	MainThread  *Thread_t
	Threads     *Thread_t // owned-thread list head
	NumThreads  int
	ExitCode    int
	Accnt       Accnt_t
	Limits      Syslimit_t

	Next *Process_t // scheduler's global process list link
}

func (p *Process_t) addThread(t *Thread_t) {
	t.ProcNext = p.Threads
	p.Threads = t
	p.NumThreads++
}

func (p *Process_t) removeThread(t *Thread_t) {
	if p.Threads == t {
		p.Threads = t.ProcNext
		p.NumThreads--
		return
	}
	for cur := p.Threads; cur != nil; cur = cur.ProcNext {
		if cur.ProcNext == t {
			cur.ProcNext = t.ProcNext
			p.NumThreads--
			return
		}
	}
}
