// Command mkfs builds a formatted HFS disk image and, optionally,
// populates it from a host directory tree, mirroring the teacher's own
// mkfs/mkfs.go image-building CLI (spec §6 "CLI / environment: none;
// this is a kernel" — mkfs is the one host-side tool the kernel itself
// never runs). Positional os.Args, no flag package, exactly as the
// teacher's tool takes them (see SPEC_FULL.md §1 "Configuration").
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"teachkernel/src/fs"
	"teachkernel/src/hostdisk"
)

// Default volume geometry, in the same spirit as the teacher's
// nlogblks/ninodeblks/ndatablks constants, adapted to this rewrite's
// simpler {blocks, inodes} format parameters (no log blocks: spec
// Non-goals excludes journaling).
const (
	defaultInodes  = 4096
	defaultDataBlk = 40000
)

func copydata(hostPath string, vfs *fs.Fs_t, dst string) {
	f, err := os.Open(hostPath)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	ino, err2 := vfs.Create(dst)
	if err2 != 0 {
		panic(fmt.Sprintf("mkfs: create %s: %v", dst, err2))
	}

	buf := make([]byte, fs.BlockSize)
	var offset uint32
	for {
		n, readErr := f.Read(buf)
		if readErr != nil && readErr != io.EOF {
			panic(readErr)
		}
		if n > 0 {
			if _, werr := vfs.Write(ino, buf[:n], offset); werr != 0 {
				panic(fmt.Sprintf("mkfs: write %s: %v", dst, werr))
			}
			offset += uint32(n)
		}
		if readErr == io.EOF {
			break
		}
	}
}

func addfiles(vfs *fs.Fs_t, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if _, e := vfs.Mkdir(rel); e != 0 {
				fmt.Printf("failed to create dir %v: %v\n", rel, e)
			}
			return nil
		}
		copydata(path, vfs, rel)
		return nil
	})
	if err != nil {
		fmt.Printf("error walking %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf("Usage: mkfs <output image> <blocks> [skel dir]\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	image := os.Args[1]
	var nblocks int
	if _, err := fmt.Sscanf(os.Args[2], "%d", &nblocks); err != nil || nblocks <= 0 {
		usage()
	}
	if nblocks > defaultDataBlk {
		nblocks = defaultDataBlk
	}

	disk, err := hostdisk.Create(image, uint32(nblocks))
	if err != nil {
		panic(err)
	}
	defer disk.Close()

	if ferr := fs.Format(disk, uint32(nblocks), defaultInodes); ferr != 0 {
		fmt.Printf("format failed: %v\n", ferr)
		os.Exit(1)
	}

	vfs, merr := fs.Mount(disk)
	if merr != 0 {
		fmt.Printf("mount after format failed: %v\n", merr)
		os.Exit(1)
	}

	if len(os.Args) >= 4 {
		addfiles(vfs, os.Args[3])
	}

	stat := vfs.FsStat()
	fmt.Printf("mkfs: wrote %s: %d/%d blocks free, %d/%d inodes free\n",
		image, stat.FreeBlocks, stat.TotalBlocks, stat.FreeInodes, stat.TotalInodes)
}
