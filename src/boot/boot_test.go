package boot

import (
	"testing"

	"teachkernel/src/intr"
	"teachkernel/src/mem"
	"teachkernel/src/proc"
)

func freshPhysmem(t *testing.T) *mem.Physmem_t {
	t.Helper()
	phys := &mem.Physmem_t{}
	phys.Init([]mem.MMapEntry{{Base: 0, Length: 16 * 1024 * 1024, Type: mem.MMapUsable}}, 0, 1*1024*1024)
	return phys
}

// TestBootWiresPageFaultAndTimerVectors checks that Boot leaves behind a
// kernel whose vector 14 and vector 32 handlers are live (spec §6: "Vector
// 14 is claimed by VMM; vector 32 by SCH"), not just a Kernel struct with
// unused fields.
func TestBootWiresPageFaultAndTimerVectors(t *testing.T) {
	phys := freshPhysmem(t)
	k := Boot(phys)
	if k.Sched == nil || k.VM == nil || k.Init == nil {
		t.Fatal("Boot left a nil subsystem")
	}

	before := k.Sched.NumSwitches
	intr.Dispatch(&intr.Trapframe{Vector: intr.VecTimer})
	if k.Sched.Current == nil {
		t.Fatal("timer vector did not reach the scheduler")
	}
	if got := k.Sched.Current.Timeslice; got != proc.DefaultTimeslice-1 {
		t.Fatalf("timeslice after one timer interrupt = %d, want %d", got, proc.DefaultTimeslice-1)
	}
	_ = before

	defer func() {
		if recover() == nil {
			t.Fatal("page fault vector did not reach FaultHandler")
		}
		intr.Clear(intr.VecPageFault)
		intr.Clear(intr.VecTimer)
	}()
	intr.Dispatch(&intr.Trapframe{Vector: intr.VecPageFault, Cr2: 0xbad000})
}
