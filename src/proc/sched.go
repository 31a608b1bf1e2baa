package proc

import (
	"teachkernel/src/defs"
	"teachkernel/src/elf"
	"teachkernel/src/mem"
	"teachkernel/src/vm"
)

// Scheduler_t is the single run queue for the whole (single-CPU) system
// (spec §5 "Concurrency & Resource Model": "exactly one thread executes
// at any instant; there is no SMP"). It owns no locks of its own because
// every entry point assumes the caller already runs with interrupts
// disabled, the same non-reentrancy discipline the kheap and fs
// packages rely on against concurrent callers.
type Scheduler_t struct {
	Current     *Thread_t
	readyHead   *Thread_t
	readyTail   *Thread_t
	nextPid     defs.Pid_t
	nextTid     defs.Tid_t
	TSSEsp0     uintptr // top of the running thread's kernel stack, for the next trap
	NumSwitches int

	procList *Process_t     // head of the global process list (spec §3 Process.next)
	phys     *mem.Physmem_t // attached by Attach; nil means reap never tears down address spaces
}

// Processes returns the head of the global process list (spec §3:
// Process carries a "next" link "thread[ing] processes into a global
// list"), walkable via Process_t.Next.
func (s *Scheduler_t) Processes() *Process_t {
	return s.procList
}

func (s *Scheduler_t) addProcess(p *Process_t) {
	p.Next = s.procList
	s.procList = p
}

func (s *Scheduler_t) removeProcess(p *Process_t) {
	if s.procList == p {
		s.procList = p.Next
		p.Next = nil
		return
	}
	for cur := s.procList; cur != nil; cur = cur.Next {
		if cur.Next == p {
			cur.Next = p.Next
			p.Next = nil
			return
		}
	}
}

// NewScheduler returns an empty scheduler with no current thread.
func NewScheduler() *Scheduler_t {
	return &Scheduler_t{nextPid: 1, nextTid: 1}
}

// Attach gives the scheduler the frame allocator its processes were
// spawned/forked against, so that reap can reclaim a dying process's
// address space (spec §4.6 "Exit": "the process itself is destroyed and
// its address space freed"). Boot sequences call this once, right after
// NewScheduler; tests that never exit a Spawn'd/Fork'd process can leave
// it unattached.
func (s *Scheduler_t) Attach(phys *mem.Physmem_t) {
	s.phys = phys
}

// NewBenchThread creates a CPU-bound thread owned by owner (which may be
// nil) with no real entry point, for synthetic fairness benchmarking
// (spec §8 scenario 4 / cmd/kbench). It does not post the thread; the
// caller does that with Post.
func (s *Scheduler_t) NewBenchThread(owner *Process_t) *Thread_t {
	return s.newThread(owner, 0, 0)
}

func (s *Scheduler_t) allocPid() defs.Pid_t {
	p := s.nextPid
	s.nextPid++
	return p
}

func (s *Scheduler_t) allocTid() defs.Tid_t {
	t := s.nextTid
	s.nextTid++
	return t
}

func (s *Scheduler_t) newThread(owner *Process_t, pc, sp uintptr) *Thread_t {
	kstack := make([]byte, KstackSize)
	t := &Thread_t{
		Tid:       s.allocTid(),
		Owner:     owner,
		State:     READY,
		Priority:  0,
		Timeslice: DefaultTimeslice,
		Kstack:    kstack,
		KstackTop: uintptr(len(kstack)),
		TrapFrame: &TrapFrame_t{Pc: pc, Sp: sp},
	}
	if owner != nil {
		owner.addThread(t)
	}
	return t
}

// enqueue appends t to the tail of the ready queue (spec §4.6
// "scheduler_post: append to the tail of the ready queue" — FIFO, so
// threads of equal priority run in arrival order).
func (s *Scheduler_t) enqueue(t *Thread_t) {
	t.State = READY
	t.Next = nil
	if s.readyTail == nil {
		s.readyHead, s.readyTail = t, t
		return
	}
	s.readyTail.Next = t
	s.readyTail = t
}

func (s *Scheduler_t) dequeue() *Thread_t {
	t := s.readyHead
	if t == nil {
		return nil
	}
	s.readyHead = t.Next
	if s.readyHead == nil {
		s.readyTail = nil
	}
	t.Next = nil
	return t
}

// removeFromReadyQueue unlinks t from the ready queue if it is waiting
// there; a no-op if t is not queued (it is current, blocked, or already
// terminated). Used by Exit to drop a non-current thread out of FIFO
// order immediately rather than letting it reach the head and run.
func (s *Scheduler_t) removeFromReadyQueue(t *Thread_t) {
	if s.readyHead == t {
		s.readyHead = t.Next
		if s.readyHead == nil {
			s.readyTail = nil
		}
		t.Next = nil
		return
	}
	for cur := s.readyHead; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			if t == s.readyTail {
				s.readyTail = cur
			}
			t.Next = nil
			return
		}
	}
}

// Post makes t runnable (spec §4.6 "scheduler_post"). If no thread is
// currently running, t is installed directly rather than parked in the
// queue — this is what lets Init and the very first Spawn produce a
// thread that Tick can step without a queue-emptiness special case.
func (s *Scheduler_t) Post(t *Thread_t) {
	if s.Current == nil {
		t.State = RUNNING
		t.Timeslice = DefaultTimeslice
		s.Current = t
		s.TSSEsp0 = t.KstackTop
		return
	}
	s.enqueue(t)
}

// Init creates the init process: pid 1, running in the kernel's own
// address space, with a single main thread (spec §4.6 "Init: scheduler
// state is reset; the init process is created running in the kernel's
// address space with one thread").
func (s *Scheduler_t) Init(kernelAS *vm.Vm_t) *Process_t {
	p := &Process_t{Pid: s.allocPid(), Name: "init", PageDir: kernelAS}
	s.addProcess(p)
	t := s.newThread(p, 0, 0)
	p.MainThread = t
	s.Post(t)
	return p
}

// Spawn loads image into a fresh address space and creates a new
// process named name with one running (or ready) main thread at the ELF
// entry point (spec §4.6 "Spawn(path): create a fresh address space;
// elf_load the image; create a main thread whose trap frame resumes at
// the entry point with a fresh user stack; scheduler_post it; return the
// new PID"). name is the spawned process's spec §3 "name" field — callers
// typically pass the path they loaded image from.
func (s *Scheduler_t) Spawn(phys *mem.Physmem_t, name string, image []byte, userStackTop uintptr, userStackSize int) (*Process_t, defs.Err_t) {
	as, ok := vm.CreateAddressSpace(phys)
	if !ok {
		return nil, defs.ENOMEM
	}
	entry, err := elf.Load(phys, as, image)
	if err != nil {
		return nil, defs.EINVAL
	}

	stackBase := userStackTop - uintptr(userStackSize)
	as.Lock_pmap()
	mapped := vm.AllocRegion(phys, as, stackBase, userStackSize, vm.PTE_U|vm.PTE_W)
	as.Unlock_pmap()
	if !mapped {
		return nil, defs.ENOMEM
	}

	p := &Process_t{Pid: s.allocPid(), Name: name, PageDir: as, OwnsPageDir: true}
	s.addProcess(p)
	t := s.newThread(p, entry, userStackTop)
	p.MainThread = t
	s.Post(t)
	return p, 0
}

// Fork clones parent's address space and spawns a child process whose
// single thread resumes at the forking thread's own pc and sp (spec
// §4.6 "Fork"). The user half is deep-copied by vm.ClonePageDir (new
// tables, new frames, copied contents); there is no copy-on-write
// sharing. The child's trap frame return value is 0 and the parent's is
// the new PID. forker must be s.Current.
func (s *Scheduler_t) Fork(phys *mem.Physmem_t, forker *Thread_t) (*Process_t, defs.Err_t) {
	parentAS := forker.Owner.PageDir
	parentAS.Lock_pmap()
	childAS, err := vm.ClonePageDir(phys, parentAS)
	parentAS.Unlock_pmap()
	if err != 0 {
		return nil, err
	}

	child := &Process_t{Pid: s.allocPid(), Name: forker.Owner.Name, PageDir: childAS, OwnsPageDir: true}
	s.addProcess(child)
	ct := s.newThread(child, forker.TrapFrame.Pc, forker.TrapFrame.Sp)
	ct.TrapFrame.ReturnValue = 0
	child.MainThread = ct

	forker.TrapFrame.ReturnValue = int(child.Pid)

	s.Post(ct)
	return child, 0
}

// Tick advances the scheduler by one timer interrupt, implementing the
// four-step algorithm of spec §4.6 "Tick":
//  1. if the current thread has terminated, reap it and pick a
//     replacement unconditionally;
//  2. otherwise decrement its timeslice;
//  3. if timeslice remains, keep running it;
//  4. otherwise, if the ready queue is empty, refill its timeslice and
//     keep running it; else demote it to the ready queue's tail and
//     switch to the head of the queue, refilling the new thread's
//     timeslice.
func (s *Scheduler_t) Tick() {
	cur := s.Current
	if cur == nil {
		s.Current = s.dequeue()
		if s.Current != nil {
			s.Current.State = RUNNING
			s.Current.Timeslice = DefaultTimeslice
			s.TSSEsp0 = s.Current.KstackTop
		}
		return
	}

	if cur.State == TERMINATED {
		s.reap(cur)
		next := s.dequeue()
		s.switchTo(next)
		return
	}

	cur.Timeslice--
	if cur.Timeslice > 0 {
		return
	}

	next := s.dequeue()
	if next == nil {
		cur.Timeslice = DefaultTimeslice
		return
	}
	s.enqueue(cur)
	s.switchTo(next)
}

func (s *Scheduler_t) switchTo(next *Thread_t) {
	s.Current = next
	s.NumSwitches++
	if next == nil {
		return
	}
	next.State = RUNNING
	next.Timeslice = DefaultTimeslice
	s.TSSEsp0 = next.KstackTop
}

// reap detaches t from its owner process and destroys the process once
// its last thread is gone (spec §4.6 "Exit: ... once a process's last
// thread terminates the process itself is destroyed and its address
// space freed"), freeing its kernel stack and, for a process that owns
// its own directory (not the init process, which borrows the kernel's),
// reclaiming every frame its address space still holds.
func (s *Scheduler_t) reap(t *Thread_t) {
	t.Kstack = nil
	owner := t.Owner
	if owner == nil {
		return
	}
	owner.removeThread(t)
	if owner.NumThreads == 0 {
		s.removeProcess(owner)
		if owner.OwnsPageDir && s.phys != nil {
			vm.Teardown(s.phys, owner.PageDir)
			owner.PageDir = nil
		}
	}
}

// Exit marks t terminated (spec §4.6 "Exit"). If t is the running
// thread, reaping is left to the next Tick, which forces the tick path
// to reap and switch away from it ("if p is current, marks current
// TERMINATED and raises a timer interrupt to force the tick path to
// reap and switch"); otherwise t is dequeued and reaped immediately
// ("else it reaps synchronously"), so a thread marked TERMINATED while
// still only READY in the queue can never be dequeued and run.
func (s *Scheduler_t) Exit(t *Thread_t) {
	t.State = TERMINATED
	if t != s.Current {
		s.removeFromReadyQueue(t)
		s.reap(t)
	}
}

// ExitProcess terminates every thread owned by p (spec §4.6
// "process_exit(p, status): marks every thread TERMINATED"), applying
// Exit's current/non-current distinction to each one in turn.
func (s *Scheduler_t) ExitProcess(p *Process_t, status int) {
	p.ExitCode = status
	for t := p.Threads; t != nil; {
		next := t.ProcNext
		s.Exit(t)
		t = next
	}
}

// RunningProcessAS reports the address space the MMU should currently
// be pointed at, nil if no thread is running.
func (s *Scheduler_t) RunningProcessAS() *vm.Vm_t {
	if s.Current == nil || s.Current.Owner == nil {
		return nil
	}
	return s.Current.Owner.PageDir
}
