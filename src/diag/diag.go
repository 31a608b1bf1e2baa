// Package diag holds crash-time diagnostics for the VMM's fatal fault
// path (spec §4.2: "The core spec treats any fault as fatal: record CR2
// and halt the CPU") and a profile-merging helper for the scheduler
// fairness benchmark (spec §8 scenario 4). Neither concern has a teacher
// file of its own to adapt — the teacher's fault handler just halts —
// but both give a concrete home to third-party dependencies the
// teacher's go.mod lists without ever exercising in the retrieved
// slice: golang.org/x/arch/x86/x86asm and github.com/google/pprof/profile
// (see SPEC_FULL.md §2, DESIGN.md).
package diag

import (
	"bytes"
	"fmt"
	"runtime"
	"time"

	"github.com/google/pprof/profile"
	"golang.org/x/arch/x86/x86asm"
)

// DisassembleWindow decodes up to maxInsns instructions starting at eip
// out of text, the process's own loaded code image. It is deliberately
// tolerant of decode failure on any individual instruction (a crash's
// faulting EIP is not guaranteed to land on an instruction boundary) and
// simply stops there, returning what it managed to decode.
func DisassembleWindow(text []byte, eip uintptr, maxInsns int) []string {
	var out []string
	off := 0
	for i := 0; i < maxInsns && off < len(text); i++ {
		inst, err := x86asm.Decode(text[off:], 32)
		if err != nil {
			break
		}
		out = append(out, fmt.Sprintf("%#x: %s", eip+uintptr(off), x86asm.GNUSyntax(inst, uint64(eip)+uint64(off), nil)))
		off += inst.Len
	}
	return out
}

// CrashReport formats the spec §4.2 fatal-fault record — the faulting
// address and a short disassembly window around it — before the caller
// halts. It never itself halts or panics: VMM.FaultHandler is the one
// authorized to do that (spec §7: "Page fault ... Fatal; halt").
func CrashReport(cr2, eip uintptr, text []byte) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "page fault: cr2=%#x eip=%#x\n", cr2, eip)
	for _, line := range DisassembleWindow(text, eip, 8) {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return b.String()
}

// ProfileMerger accumulates runtime/pprof CPU profiles captured across
// repeated scheduler-fairness benchmark runs (spec §8 scenario 4) into a
// single pprof profile.Profile, giving cmd/kbench one artifact to write
// rather than one file per run.
type ProfileMerger struct {
	profiles []*profile.Profile
}

// Add parses one raw pprof-format CPU profile (as produced by
// pprof.StartCPUProfile / pprof.StopCPUProfile) and queues it for
// merging.
func (m *ProfileMerger) Add(raw []byte) error {
	p, err := profile.Parse(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("diag: parsing profile: %w", err)
	}
	m.profiles = append(m.profiles, p)
	return nil
}

// Merge combines every queued profile into one with profile.Merge, which
// sums matching samples; sample counts are not scaled by run length.
func (m *ProfileMerger) Merge() (*profile.Profile, error) {
	if len(m.profiles) == 0 {
		return nil, fmt.Errorf("diag: no profiles to merge")
	}
	merged, err := profile.Merge(m.profiles)
	if err != nil {
		return nil, fmt.Errorf("diag: merging profiles: %w", err)
	}
	return merged, nil
}

// Stamp records when a benchmark run started together with the CPU and
// goroutine counts at capture time, independent of whether CPU profiling
// was enabled for it. It holds no duration, and nothing in this module
// currently captures or logs one.
type Stamp struct {
	Start    time.Time
	NumCPU   int
	Routines int
}

// Now captures a Stamp. The caller supplies Start explicitly (scripts in
// this module's test/bench harness may not call time.Now/Date directly
// in generated code paths), so Now only fills in the process-wide facts.
func Now(start time.Time) Stamp {
	return Stamp{Start: start, NumCPU: runtime.NumCPU(), Routines: runtime.NumGoroutine()}
}
