package fs

// memDisk is an in-memory Disk_i, the fs package's analogue of
// vm.Fakeubuf_t: a hosted stand-in for real block-device I/O, used only
// in tests.
type memDisk struct {
	blocks map[uint32][]byte
}

func newMemDisk() *memDisk {
	return &memDisk{blocks: map[uint32][]byte{}}
}

func (m *memDisk) Start(req *Bdev_req_t) bool {
	switch req.Cmd {
	case BDEV_READ:
		if b, ok := m.blocks[req.Block]; ok {
			copy(req.Data, b)
		} else {
			for i := range req.Data {
				req.Data[i] = 0
			}
		}
	case BDEV_WRITE:
		cp := make([]byte, len(req.Data))
		copy(cp, req.Data)
		m.blocks[req.Block] = cp
	}
	close(req.AckCh)
	return false
}

func (m *memDisk) Stats() string { return "memDisk" }
