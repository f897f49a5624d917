// Owns the allocator's live regions. Regions are only ever added until teardown - there is
// no partial reclamation since a region's buffers can be spread over every free list.
package registry

import (
	"hugealloc/internal/region"
)

type Registry struct {
	regions		[]region.Region // by increasing creation time
	reserved	uint64
}

func CreateRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Record(reg region.Region) {
	r.regions = append(r.regions, reg)
	r.reserved += reg.Size()
}

// Total bytes ever recorded. Does not go down on Drain, it is a lifetime counter.
func (r *Registry) Reserved() uint64 {
	return r.reserved
}

func (r *Registry) Len() int {
	return len(r.regions)
}

// Read-only walk in creation order. fn must not hold on to the pointer.
func (r *Registry) ForEach(fn func(i int, reg *region.Region)) {
	for i := range r.regions {
		fn(i, &r.regions[i])
	}
}

func (r *Registry) Sizes() []uint64 {
	sizes := make([]uint64, len(r.regions))
	for i := range r.regions {
		sizes[i] = r.regions[i].Size()
	}
	return sizes
}

// Most recently recorded region
func (r *Registry) Last() (*region.Region, bool) {
	if len(r.regions) == 0 { return nil, false }
	return &r.regions[len(r.regions)-1], true
}

// Teardown: hands every region to fn exactly once. Stops at the first error and keeps
// that region and the rest, so a later Drain resumes without releasing anything twice.
func (r *Registry) Drain(fn func(reg region.Region) error) error {
	for len(r.regions) > 0 {
		if err := fn(r.regions[0]); err != nil {
			return err
		}
		r.regions[0] = region.Region{}
		r.regions = r.regions[1:]
	}
	r.regions = nil
	return nil
}
