package proc

import (
	"encoding/binary"
	"testing"

	"teachkernel/src/defs"
	"teachkernel/src/mem"
	"teachkernel/src/vm"
)

func freshPhys(t *testing.T, frames uint32) *mem.Physmem_t {
	t.Helper()
	p := &mem.Physmem_t{}
	mmap := []mem.MMapEntry{{Base: 0, Length: uint64(frames) * uint64(mem.PGSIZE), Type: mem.MMapUsable}}
	p.Init(mmap, 0, 8*uint64(mem.PGSIZE))
	return p
}

// TestScenario4FairnessOverKTickWindow is spec §8 invariant 6 and
// concrete scenario 4: three equal-priority threads that never yield
// each receive exactly one timeslice's worth of run time per
// k-thread window, in FIFO arrival order.
func TestScenario4FairnessOverKTickWindow(t *testing.T) {
	s := NewScheduler()
	threads := make([]*Thread_t, 3)
	for i := range threads {
		th := s.newThread(nil, 0, 0)
		threads[i] = th
		s.Post(th)
	}

	runTicks := make(map[defs.Tid_t]int)
	const windows = 10
	for i := 0; i < windows*3*DefaultTimeslice; i++ {
		if s.Current != nil {
			runTicks[s.Current.Tid]++
		}
		s.Tick()
	}

	want := windows * DefaultTimeslice
	for _, th := range threads {
		if got := runTicks[th.Tid]; got != want {
			t.Fatalf("thread %d ran %d ticks over %d windows, want %d", th.Tid, got, windows, want)
		}
	}
}

// TestTickKeepsRunningWhenReadyQueueEmpty covers the case where the
// current thread exhausts its timeslice but no other thread is ready:
// its timeslice is simply refilled (spec §4.6 Tick step 4, "if the
// ready queue is empty, the current thread's timeslice is reset and it
// continues running uninterrupted").
func TestTickKeepsRunningWhenReadyQueueEmpty(t *testing.T) {
	s := NewScheduler()
	solo := s.newThread(nil, 0, 0)
	s.Post(solo)

	for i := 0; i < DefaultTimeslice*3; i++ {
		s.Tick()
	}
	if s.Current != solo {
		t.Fatalf("current = %v, want the lone thread to keep running", s.Current)
	}
	if s.NumSwitches != 0 {
		t.Fatalf("NumSwitches = %d, want 0 (no other thread to switch to)", s.NumSwitches)
	}
}

// TestExitReapsOnNextTickAndPicksReady is spec §4.6's Exit transition:
// a TERMINATED current thread is detached from its process and the
// scheduler immediately picks up the next ready thread.
func TestExitReapsOnNextTickAndPicksReady(t *testing.T) {
	s := NewScheduler()
	p := &Process_t{Pid: s.allocPid()}
	a := s.newThread(p, 0, 0)
	p.MainThread = a
	s.Post(a)

	b := s.newThread(nil, 0, 0)
	s.Post(b)

	s.Exit(a)
	s.Tick()

	if s.Current != b {
		t.Fatalf("current = %v, want thread b to take over after a exits", s.Current)
	}
	if p.NumThreads != 0 {
		t.Fatalf("owner process still has %d threads after its only thread exited", p.NumThreads)
	}
	if p.Threads != nil {
		t.Fatal("owner process's thread list should be empty")
	}
}

// TestScenario7ForkChildSeesZeroParentSeesPid is spec §8 invariant 7
// and concrete scenario 7: after fork, the child's trap frame observes
// return value 0 and the parent's observes the new PID, and each
// process's address space is independent.
func TestScenario7ForkChildSeesZeroParentSeesPid(t *testing.T) {
	phys := freshPhys(t, mem.ReservedLowFrames+32)
	vm.Init(phys)

	parentAS, ok := vm.CreateAddressSpace(phys)
	if !ok {
		t.Fatal("CreateAddressSpace failed")
	}
	const uva = uintptr(0x08049000)
	parentAS.Lock_pmap()
	if !vm.AllocRegion(phys, parentAS, uva, mem.PGSIZE, vm.PTE_U|vm.PTE_W) {
		t.Fatal("AllocRegion failed")
	}
	parentAS.Unlock_pmap()
	var ub vm.Userbuf_t
	ub.UbInit(phys, parentAS, uva, 4)
	marker := make([]byte, 4)
	binary.LittleEndian.PutUint32(marker, 0xcafef00d)
	if n, err := ub.Uiowrite(marker); err != 0 || n != 4 {
		t.Fatalf("seeding parent page: n=%d err=%v", n, err)
	}

	s := NewScheduler()
	parent := &Process_t{Pid: s.allocPid(), PageDir: parentAS}
	forker := s.newThread(parent, 0x1000, 0x2000)
	parent.MainThread = forker
	s.Post(forker)

	child, err := s.Fork(phys, forker)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	if forker.TrapFrame.ReturnValue != int(child.Pid) {
		t.Fatalf("parent trap frame return value = %d, want child pid %d", forker.TrapFrame.ReturnValue, child.Pid)
	}
	if child.MainThread.TrapFrame.ReturnValue != 0 {
		t.Fatalf("child trap frame return value = %d, want 0", child.MainThread.TrapFrame.ReturnValue)
	}
	if child.MainThread.TrapFrame.Pc != forker.TrapFrame.Pc || child.MainThread.TrapFrame.Sp != forker.TrapFrame.Sp {
		t.Fatal("child trap frame should resume at the forking thread's own pc/sp")
	}

	child.PageDir.Lock_pmap()
	childFrame, ok := vm.Translate(phys, child.PageDir, uva)
	child.PageDir.Unlock_pmap()
	if !ok {
		t.Fatal("child did not inherit parent's mapping")
	}
	parentAS.Lock_pmap()
	parentFrame, _ := vm.Translate(phys, parentAS, uva)
	parentAS.Unlock_pmap()

	childPage := phys.Frame(childFrame)
	var gotChild [4]byte
	copy(gotChild[:], childPage[:4])
	if binary.LittleEndian.Uint32(gotChild[:]) != 0xcafef00d {
		t.Fatal("child does not observe the parent's pre-fork data")
	}

	childPage[0] = 0xff
	parentPage := phys.Frame(parentFrame)
	if parentPage[0] == 0xff {
		t.Fatal("write through the child's mapping is visible in the parent: address spaces not isolated")
	}
}

// TestExitReclaimsAddressSpaceFrames covers spec §4.6 Exit's "the
// process itself is destroyed and its address space freed": once a
// Fork'd child's only thread is reaped, every frame its address space
// held (its directory, page tables, and mapped pages) comes back to the
// allocator, while the init process's borrowed kernel directory is left
// alone (spec §3 "Process": "a process owns its page directory, except
// the init process which borrows the kernel directory").
func TestExitReclaimsAddressSpaceFrames(t *testing.T) {
	phys := freshPhys(t, mem.ReservedLowFrames+32)
	kernelAS := vm.Init(phys)

	s := NewScheduler()
	s.Attach(phys)
	initProc := s.Init(kernelAS)

	parentAS, ok := vm.CreateAddressSpace(phys)
	if !ok {
		t.Fatal("CreateAddressSpace failed")
	}
	parentAS.Lock_pmap()
	if !vm.AllocRegion(phys, parentAS, 0x08049000, mem.PGSIZE, vm.PTE_U|vm.PTE_W) {
		t.Fatal("AllocRegion failed")
	}
	parentAS.Unlock_pmap()

	parent := &Process_t{Pid: s.allocPid(), PageDir: parentAS, OwnsPageDir: true}
	forker := s.newThread(parent, 0, 0)
	parent.MainThread = forker
	s.Post(forker)

	before := phys.UsedFrames()

	child, err := s.Fork(phys, forker)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	if phys.UsedFrames() <= before {
		t.Fatal("fork should have consumed frames for the child's deep-cloned address space")
	}

	// child.MainThread is only READY (forker is still current), so Exit
	// reaps it synchronously rather than waiting for Tick.
	s.Exit(child.MainThread)

	if child.NumThreads != 0 {
		t.Fatal("child process should have no threads left after its main thread was reaped")
	}
	if child.PageDir != nil {
		t.Fatal("child's page directory should have been cleared on teardown")
	}
	if phys.UsedFrames() != before {
		t.Fatalf("used frames after child teardown = %d, want %d (all of the child's frames reclaimed)", phys.UsedFrames(), before)
	}

	// The init process's borrowed kernel directory must never be torn
	// down even once its last thread is actually reaped.
	s.Exit(initProc.MainThread) // current thread: marked TERMINATED, reaped on next Tick
	s.Tick()
	if initProc.PageDir != kernelAS {
		t.Fatal("init process's borrowed kernel directory must survive its own reap")
	}
	if phys.UsedFrames() != before {
		t.Fatalf("used frames after init reap = %d, want %d (borrowed kernel directory must not be freed)", phys.UsedFrames(), before)
	}
}

// TestInitInstallsRunningThreadImmediately covers spec §4.6 "Init":
// the very first thread posted becomes current directly rather than
// waiting in the ready queue.
func TestInitInstallsRunningThreadImmediately(t *testing.T) {
	s := NewScheduler()
	kernelAS := &vm.Vm_t{}
	p := s.Init(kernelAS)

	if s.Current != p.MainThread {
		t.Fatal("Init should install the init process's main thread as current")
	}
	if s.Current.State != RUNNING {
		t.Fatalf("init thread state = %v, want RUNNING", s.Current.State)
	}
	if s.TSSEsp0 != p.MainThread.KstackTop {
		t.Fatal("TSSEsp0 should point at the running thread's kernel stack top")
	}
}
