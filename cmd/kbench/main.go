// Command kbench exercises spec §8 scenario 4's scheduler-fairness
// property under runtime/pprof CPU profiling and writes the merged
// profile to disk, giving that invariant an offline profiling story the
// way the teacher's own dependency on github.com/google/pprof implies
// it should have (SPEC_FULL.md §2). It has no teacher file to adapt —
// the teacher drives its scheduler from real interrupts, not a
// benchmark harness — so this is new, grounded directly on the
// package's own scheduler-fairness test (proc.TestScenario4...) run
// repeatedly instead of once.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"

	"teachkernel/src/diag"
	"teachkernel/src/proc"
)

func runOnce(threads, windows int) map[int]int {
	s := proc.NewScheduler()
	ths := make([]*proc.Thread_t, threads)
	for i := range ths {
		p := &proc.Process_t{}
		th := s.NewBenchThread(p)
		ths[i] = th
		s.Post(th)
	}

	runTicks := make(map[int]int)
	for i := 0; i < windows*threads*proc.DefaultTimeslice; i++ {
		if s.Current != nil {
			runTicks[int(s.Current.Tid)]++
		}
		s.Tick()
	}
	return runTicks
}

func main() {
	threads := flag.Int("threads", 3, "number of equal-priority benchmark threads")
	windows := flag.Int("windows", 1000, "number of k-thread tick windows to run")
	runs := flag.Int("runs", 4, "number of independent profiled runs to merge")
	out := flag.String("out", "kbench.pprof", "merged profile output path")
	flag.Parse()

	var merger diag.ProfileMerger
	for r := 0; r < *runs; r++ {
		var buf bytes.Buffer
		if err := pprof.StartCPUProfile(&buf); err != nil {
			fmt.Fprintf(os.Stderr, "kbench: starting profile: %v\n", err)
			os.Exit(1)
		}
		ticks := runOnce(*threads, *windows)
		pprof.StopCPUProfile()

		want := *windows * proc.DefaultTimeslice
		for tid, got := range ticks {
			if got != want {
				fmt.Printf("kbench: run %d thread %d ran %d ticks, want %d (fairness violated)\n", r, tid, got, want)
			}
		}

		if err := merger.Add(buf.Bytes()); err != nil {
			fmt.Fprintf(os.Stderr, "kbench: %v\n", err)
			os.Exit(1)
		}
	}

	merged, err := merger.Merge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kbench: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kbench: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := merged.Write(f); err != nil {
		fmt.Fprintf(os.Stderr, "kbench: writing merged profile: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("kbench: wrote merged profile of %d runs to %s\n", *runs, *out)
}
