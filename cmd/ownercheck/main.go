// Command ownercheck statically enforces spec §5/§9's ownership rule:
// "no subsystem is permitted to reach inside another's ownership."
// Grounded on the teacher's misc/depgraph (a one-shot `go mod graph`
// shell-out that prints a Graphviz dependency graph) but taken further:
// depgraph only ever looked at module-level dependencies, which this
// rewrite has none of between its own packages worth graphing, so
// ownercheck instead loads the package graph with
// golang.org/x/tools/go/packages, builds an SSA program with
// golang.org/x/tools/go/ssa + ssautil, and runs
// golang.org/x/tools/go/pointer over it (the direct dependency the
// teacher's go.mod lists and never exercises — see SPEC_FULL.md §2 and
// DESIGN.md) to build the call graph reachable from the module's main
// packages. For every reachable function it then asks a sharper question
// than import adjacency: does a parameter or result type (or the type a
// pointer parameter or result points to) name one of a protected
// subsystem's unexported types from outside that subsystem's package?
// Points-to sets themselves are not inspected.
package main

import (
	"fmt"
	"go/types"
	"os"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// subsystems lists the import-path suffixes spec §5 treats as owning
// their own mutable state: PFA (mem), VMM (vm), KH (kheap), HFS (fs).
// proc is the one permitted cross-cutting caller (spec §4.6 drives all
// four) and is deliberately not included as a protected subsystem here.
var subsystems = []string{
	"teachkernel/src/mem",
	"teachkernel/src/vm",
	"teachkernel/src/kheap",
	"teachkernel/src/fs",
}

type violation struct {
	fromPkg  string
	typ      string
	ownerPkg string
}

func main() {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedTypesInfo |
			packages.NeedSyntax | packages.NeedImports | packages.NeedDeps,
	}
	pkgs, err := packages.Load(cfg, "teachkernel/...")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ownercheck: loading packages: %v\n", err)
		os.Exit(2)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(2)
	}

	prog, _ := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics)
	prog.Build()

	var mains []*ssa.Package
	for _, p := range prog.AllPackages() {
		if p.Pkg.Name() == "main" {
			mains = append(mains, p)
		}
	}
	if len(mains) == 0 {
		fmt.Println("ownercheck: no main packages found; nothing to root the call graph at")
		return
	}

	ptrCfg := &pointer.Config{
		Mains:          mains,
		BuildCallGraph: true,
	}
	result, err := pointer.Analyze(ptrCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ownercheck: pointer analysis: %v\n", err)
		os.Exit(2)
	}

	// result.CallGraph.Nodes is keyed by every *ssa.Function the pointer
	// analysis actually proved reachable from the mains — a tighter set
	// than ssautil.AllFunctions, which would also flag dead code no
	// running path could ever violate ownership through.
	var violations []violation
	for fn := range result.CallGraph.Nodes {
		if fn == nil || fn.Pkg == nil {
			continue
		}
		callerPath := fn.Pkg.Pkg.Path()
		sig := fn.Signature
		for i := 0; i < sig.Params().Len(); i++ {
			checkOwnership(callerPath, sig.Params().At(i).Type(), &violations)
		}
		if sig.Results() != nil {
			for i := 0; i < sig.Results().Len(); i++ {
				checkOwnership(callerPath, sig.Results().At(i).Type(), &violations)
			}
		}
	}

	if len(violations) == 0 {
		fmt.Println("ownercheck: no ownership violations found")
		return
	}
	for _, v := range violations {
		fmt.Printf("ownercheck: %s reaches into %s's unexported type %s\n", v.fromPkg, v.ownerPkg, v.typ)
	}
	os.Exit(1)
}

// checkOwnership flags t when it is an unexported named type declared in
// one of the protected subsystem packages but t is being used from a
// different package (callerPath).
func checkOwnership(callerPath string, t types.Type, out *[]violation) {
	named, ok := types.Unalias(t).(*types.Named)
	if !ok {
		ptr, isPtr := types.Unalias(t).(*types.Pointer)
		if !isPtr {
			return
		}
		named, ok = ptr.Elem().(*types.Named)
		if !ok {
			return
		}
	}
	obj := named.Obj()
	if obj == nil || obj.Pkg() == nil || obj.Exported() {
		return
	}
	ownerPath := obj.Pkg().Path()
	if ownerPath == callerPath {
		return
	}
	for _, s := range subsystems {
		if ownerPath == s {
			*out = append(*out, violation{fromPkg: callerPath, typ: obj.Name(), ownerPkg: ownerPath})
			return
		}
	}
}
