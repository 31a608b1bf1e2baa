package fs

import "testing"

func TestVnodeOpenReadWriteCloseRoundTrip(t *testing.T) {
	fs := freshFs(t, 256, 64)
	if _, err := fs.Create("/f"); err != 0 {
		t.Fatalf("create: %v", err)
	}

	vn, err := fs.Open("/f")
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	if n, err := vn.Write([]byte("hi"), 0); err != 0 || n != 2 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	buf := make([]byte, 2)
	if n, err := vn.Read(buf, 0); err != 0 || n != 2 || string(buf) != "hi" {
		t.Fatalf("Read: n=%d err=%v buf=%q", n, err, buf)
	}
	if st, err := vn.Stat(); err != 0 || st.Size != 2 {
		t.Fatalf("Stat: %+v err=%v", st, err)
	}
	if err := vn.Close(); err != 0 {
		t.Fatalf("Close: %v", err)
	}
	if _, err := vn.Read(buf, 0); err == 0 {
		t.Fatal("expected error reading through a closed vnode")
	}
}

func TestVnodeOpenMissingPathFails(t *testing.T) {
	fs := freshFs(t, 256, 64)
	if _, err := fs.Open("/nope"); err == 0 {
		t.Fatal("expected Open on a missing path to fail")
	}
}

func TestHFSTypeRecordMountsAndUnmounts(t *testing.T) {
	d := newMemDisk()
	if err := Format(d, 256, 64); err != 0 {
		t.Fatalf("Format: %v", err)
	}
	got, err := HFS.Mount(d)
	if err != 0 {
		t.Fatalf("HFS.Mount: %v", err)
	}
	if err := HFS.Unmount(got); err != 0 {
		t.Fatalf("HFS.Unmount: %v", err)
	}
	if HFS.Name != "hfs" {
		t.Fatalf("unexpected fs type name %q", HFS.Name)
	}
}
