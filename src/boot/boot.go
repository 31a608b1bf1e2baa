// Package boot wires the core subsystems together the way a real boot
// sequence would (spec §6 "External Interfaces"): it is the one place
// that knows the VMM owns vector 14, the scheduler owns vector 32, and
// that the page-fault path is fatal. Nothing here is grounded on a
// specific teacher file — the teacher's own boot sequence lives in
// assembly and C this module does not carry — but every wire it makes
// is named explicitly by spec §6's vector table.
package boot

import (
	"teachkernel/src/intr"
	"teachkernel/src/mem"
	"teachkernel/src/proc"
	"teachkernel/src/vm"
)

// Kernel bundles the live subsystem handles a caller needs after Boot
// returns: the frame allocator, the kernel address space, and the
// scheduler with its init process already posted.
type Kernel struct {
	Phys  *mem.Physmem_t
	VM    *vm.Vm_t
	Sched *proc.Scheduler_t
	Init  *proc.Process_t
}

// Boot brings up the PFA, VMM, and scheduler over an already-sized frame
// allocator and claims vectors 14 (page fault) and 32 (timer) in the
// interrupt table, in that dependency order (spec §2 "Dependency order").
// Vector 33 (keyboard) is left unclaimed: the keyboard driver is out of
// scope (spec §1).
func Boot(phys *mem.Physmem_t) *Kernel {
	kas := vm.Init(phys)
	sched := proc.NewScheduler()
	sched.Attach(phys)
	initProc := sched.Init(kas)

	intr.Register(intr.VecPageFault, func(ctx *intr.Trapframe) {
		vm.FaultHandler(ctx.Cr2, ctx.Eip, nil)
	})
	intr.Register(intr.VecTimer, func(ctx *intr.Trapframe) {
		sched.Tick()
	})

	return &Kernel{Phys: phys, VM: kas, Sched: sched, Init: initProc}
}
