package region

import (
	"sync"

	"golang.org/x/sys/unix"
)

// HeapBackend stands in for the OS. Segments are anonymous private mappings, so nothing
// needs hugepages or IPC permissions. Used by tests (with fault injection) and by the
// CLI on hosts without hugepages.
type HeapBackend struct {
	mu			sync.Mutex
	budget		uint64 // 0 = unlimited
	used		uint64
	nextId		int
	segs		map[int]*heapSeg // by id
	keys		map[int]int      // key -> id

	// Fault injection. Checked before the real operation, a non-nil return is the result.
	CreateFault	func(key int, size uint64) error
	AttachFault	func(id int) error
	BindFault	func(node int) error
	LookupFault	func(key int) error
	RemoveFault	func(id int) error
	DetachFault	func() error

	Stats		HeapStats
}

type HeapStats struct {
	Creates		int
	Collisions	int
	Removes		int
	Detaches	int
	Binds		map[int]int // node -> count
}

type heapSeg struct {
	id			int
	key			int
	size		uint64
	mem			[]byte
	attached	bool
	removed		bool
}

func CreateHeapBackend(budget uint64) *HeapBackend {
	return &HeapBackend {
		budget: budget,
		nextId: 1,
		segs: 	make(map[int]*heapSeg),
		keys: 	make(map[int]int),
		Stats: 	HeapStats{Binds: make(map[int]int)},
	}
}

// Pre-claim a key so the next Create on it collides.
func (h *HeapBackend) Occupy(key int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextId
	h.nextId++
	h.segs[id] = &heapSeg{id: id, key: key}
	h.keys[key] = id
}

func (h *HeapBackend) Create(key int, size uint64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, taken := h.keys[key]; taken {
		h.Stats.Collisions++
		return -1, unix.EEXIST
	}
	if h.CreateFault != nil {
		if err := h.CreateFault(key, size); err != nil { return -1, err }
	}
	if h.budget != 0 && h.used+size > h.budget {
		return -1, unix.ENOMEM
	}

	id := h.nextId
	h.nextId++
	h.segs[id] = &heapSeg{id: id, key: key, size: size}
	h.keys[key] = id
	h.used += size
	h.Stats.Creates++
	return id, nil
}

func (h *HeapBackend) Attach(id int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.AttachFault != nil {
		if err := h.AttachFault(id); err != nil { return nil, err }
	}
	seg, ok := h.segs[id]
	if !ok || seg.removed { return nil, unix.EINVAL }
	if seg.mem == nil {
		mem, err := unix.Mmap(-1, 0, int(seg.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil { return nil, err }
		// shm contents are shared garbage until zeroed, make sure the provider does zero them
		for i := range mem {
			mem[i] = 0xa5
		}
		seg.mem = mem
	}
	seg.attached = true
	return seg.mem, nil
}

func (h *HeapBackend) Bind(mem []byte, node int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.BindFault != nil {
		if err := h.BindFault(node); err != nil { return err }
	}
	h.Stats.Binds[node]++
	return nil
}

func (h *HeapBackend) Lookup(key int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.LookupFault != nil {
		if err := h.LookupFault(key); err != nil { return -1, err }
	}
	id, ok := h.keys[key]
	if !ok { return -1, unix.ENOENT }
	return id, nil
}

func (h *HeapBackend) Remove(id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.RemoveFault != nil {
		if err := h.RemoveFault(id); err != nil { return err }
	}
	seg, ok := h.segs[id]
	if !ok || seg.removed { return unix.EINVAL }
	// like IPC_RMID the key is gone immediately, the memory on last detach
	seg.removed = true
	delete(h.keys, seg.key)
	h.Stats.Removes++
	return h.reap(seg)
}

func (h *HeapBackend) Detach(mem []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.DetachFault != nil {
		if err := h.DetachFault(); err != nil { return err }
	}
	for _, seg := range h.segs {
		if seg.attached && len(seg.mem) > 0 && len(mem) > 0 && &seg.mem[0] == &mem[0] {
			seg.attached = false
			h.Stats.Detaches++
			return h.reap(seg)
		}
	}
	return unix.EINVAL
}

func (h *HeapBackend) reap(seg *heapSeg) error {
	if !seg.removed || seg.attached { return nil }
	delete(h.segs, seg.id)
	h.used -= seg.size
	if seg.mem == nil { return nil }
	return unix.Munmap(seg.mem)
}

// Segments that are still around, attached or not.
func (h *HeapBackend) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.segs)
}

func (h *HeapBackend) Used() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Change the memory budget, e.g. to make the next growth run out of memory.
func (h *HeapBackend) SetBudget(budget uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.budget = budget
}
