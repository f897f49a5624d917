//go:build !linux

package iomgr

import (
	"errors"

	"hugealloc/internal/region"
)

var ErrUnsupported = errors.New("io_uring is linux only")

type IoMgr struct{}

type Registrar struct{}

func CreateIoMgr(entries uint32) (*IoMgr, error) {
	return nil, ErrUnsupported
}

func (m *IoMgr) Registrar() *Registrar { return &Registrar{} }
func (m *IoMgr) Close() {}

func (r *Registrar) Register(mem []byte) (region.Registration, error) {
	return region.Registration{}, ErrUnsupported
}
func (r *Registrar) Deregister(reg region.Registration) {}
func (r *Registrar) Live() int { return 0 }

func PinToCore(core int) error { return ErrUnsupported }
