//go:build linux

package iomgr

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"syscall"
	"unsafe"

	c "hugealloc/internal"
	"hugealloc/internal/region"
	"hugealloc/internal/util"
)

const BUF_SLOTS		= 64
const MAX_BUF_LEN	= c.GiB // kernel limit for one fixed buffer

var (
	ErrTableFull	= errors.New("fixed buffer table full")
	ErrBufLen		= errors.New("invalid fixed buffer length")
)

// What the registrar needs from a ring. *giouring.Ring has both.
type bufferTable interface {
	RegisterBuffers(iovecs []syscall.Iovec) (uint, error)
	UnregisterBuffers() (uint, error)
}

// Registrar keeps the ring's fixed buffer table, one slot per allocator region. The slot
// index is the region's LKey - the buf_index for READ_FIXED/WRITE_FIXED.
//
// io_uring has no per-slot update on plain REGISTER_BUFFERS, so every change re-registers
// the whole table. Free slots are zero iovecs, which the kernel accepts as sparse entries.
// That is fine here since regions change rarely - that is the whole point of the allocator.
type Registrar struct {
	log			*slog.Logger
	table		bufferTable
	slots		util.TicketQueue[[]byte]
	iovecs		[]syscall.Iovec
	registered	bool
}

func CreateRegistrar(table bufferTable) *Registrar {
	return &Registrar {
		log: 	slog.With("src", "Registrar"),
		table: 	table,
		slots: 	util.CreateTicketQueue[[]byte](BUF_SLOTS),
		iovecs: make([]syscall.Iovec, BUF_SLOTS),
	}
}

func (r *Registrar) Live() int {
	return r.slots.Size() - r.slots.Free()
}

// region.RegisterFunc
func (r *Registrar) Register(mem []byte) (region.Registration, error) {
	if len(mem) == 0 || uint64(len(mem)) > MAX_BUF_LEN {
		return region.Registration{}, fmt.Errorf("%w: %d bytes", ErrBufLen, len(mem))
	}
	slot, ok := r.slots.Acq(mem)
	if !ok {
		return region.Registration{}, fmt.Errorf("%w: %d slots", ErrTableFull, BUF_SLOTS)
	}

	iov := &r.iovecs[slot]
	iov.Base = &mem[0]
	iov.SetLen(len(mem))

	if err := r.sync(); err != nil {
		r.iovecs[slot] = syscall.Iovec{}
		r.slots.Rel(slot)
		// put back whatever was registered before
		if rerr := r.sync(); rerr != nil {
			r.log.Error("restoring buffer table", "err", rerr)
		}
		return region.Registration{}, fmt.Errorf("register buffers: %w", err)
	}

	r.log.Debug("registered", "slot", slot, "bytes", len(mem), "live", r.Live())
	return region.Registration{LKey: uint32(slot)}, nil
}

// region.DeregisterFunc
func (r *Registrar) Deregister(reg region.Registration) {
	slot := int(reg.LKey)
	if slot >= BUF_SLOTS || r.slots.Get(slot) == nil {
		r.log.Error("deregister of unknown slot", "slot", slot)
		return
	}
	r.iovecs[slot] = syscall.Iovec{}
	r.slots.Rel(slot)

	if err := r.sync(); err != nil {
		r.log.Error("deregister", "slot", slot, "err", err)
		return
	}
	r.log.Debug("deregistered", "slot", slot, "live", r.Live())
}

// Drop the kernel's table, keeping nothing registered.
func (r *Registrar) Reset() {
	if !r.registered { return }
	if _, err := r.table.UnregisterBuffers(); err != nil {
		r.log.Error("unregister buffers", "err", err)
	}
	r.registered = false
}

func (r *Registrar) sync() error {
	if r.registered {
		if _, err := r.table.UnregisterBuffers(); err != nil { return err }
		r.registered = false
	}

	n := 0
	for i, mem := range r.slots.Slots() {
		if mem != nil { n = i + 1 }
	}
	if n == 0 { return nil }

	if _, err := r.table.RegisterBuffers(r.iovecs[:n]); err != nil { return err }
	r.registered = true
	return nil
}

func (r *Registrar) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Registrar | Live: %d/%d, Registered: %v\n", r.Live(), BUF_SLOTS, r.registered)
	for i, mem := range r.slots.Slots() {
		if mem == nil { continue }
		fmt.Fprintf(&b, "   [%02d] [ Buf: @0x%x | Len: 0x%08x ]\n",
			i, unsafe.Pointer(&mem[0]), len(mem))
	}
	return b.String()
}
