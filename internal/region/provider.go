package region

import (
	"errors"
	"log/slog"

	c "hugealloc/internal"

	"golang.org/x/sys/unix"
)

// Upper bound on shmget key collisions in a single Acquire. Hitting it means the key
// stream or the host's IPC namespace is broken, not that we were unlucky.
const MAX_KEY_TRIES = 1024

type Provider struct {
	log			*slog.Logger
	backend		Backend
	keys		*KeyGen
	hugepage	uint64
	register	RegisterFunc
}

func CreateProvider(backend Backend, keys *KeyGen, hugepage uint64, register RegisterFunc) *Provider {
	return &Provider {
		log: 		slog.With("src", "RegionProvider"),
		backend: 	backend,
		keys: 		keys,
		hugepage: 	hugepage,
		register: 	register,
	}
}

func (p *Provider) Hugepage() uint64 {
	return p.hugepage
}

func (p *Provider) fatal(kind Kind, op string, msg string, key int, size uint64, err error) *Error {
	e := &Error{Kind: kind, Op: op, Msg: msg, Key: key, Size: size, Err: err}
	p.log.Error("region fatal", "kind", kind, "op", op, "msg", msg, "key", key, "size", size, "err", err)
	return e
}

// Acquire reserves size bytes (rounded up to the hugepage size) on node, zeroes them and
// registers them. The only non-fatal failure is KindOutOfMemory.
func (p *Provider) Acquire(size uint64, node int) (Region, error) {
	size = c.RoundUp(max(size, 1), p.hugepage)

	if node < 0 || node >= c.MAX_NUMA_NODES {
		return Region{}, p.fatal(KindConfiguration, "acquire", "numa node out of range", 0, size, nil)
	}

	var key, id int
	tries := 0
	for {
		if tries == MAX_KEY_TRIES {
			return Region{}, p.fatal(KindInvariant, "shmget", "too many key collisions", key, size, unix.EEXIST)
		}
		tries++

		key = p.keys.Next()
		var err error
		id, err = p.backend.Create(key, size)
		if err == nil { break }

		switch {
		case errors.Is(err, unix.EEXIST):
			// key taken, pick another
			continue
		case errors.Is(err, unix.ENOMEM):
			p.log.Warn("insufficient memory", "mib", size/c.MiB, "node", node)
			return Region{}, &Error{Kind: KindOutOfMemory, Op: "shmget", Msg: "insufficient memory",
				Key: key, Size: size, Err: err}
		case errors.Is(err, unix.EACCES):
			return Region{}, p.fatal(KindConfiguration, "shmget", "insufficient permissions", key, size, err)
		case errors.Is(err, unix.EINVAL):
			return Region{}, p.fatal(KindConfiguration, "shmget", "SHMMAX/SHMMIN mismatch", key, size, err)
		default:
			return Region{}, p.fatal(KindConfiguration, "shmget", "unexpected error", key, size, err)
		}
	}

	mem, err := p.backend.Attach(id)
	if err != nil {
		p.discard(id, nil)
		return Region{}, p.fatal(KindInvariant, "shmat", "attach failed", key, size, err)
	}

	// running unbound would silently break the caller's locality assumptions
	if err := p.backend.Bind(mem, node); err != nil {
		p.discard(id, mem)
		return Region{}, p.fatal(KindInvariant, "mbind", "bind failed", key, size, err)
	}

	clear(mem)

	reg, err := p.register(mem)
	if err != nil {
		p.discard(id, mem)
		return Region{}, p.fatal(KindRegistration, "register", "registration failed", key, size, err)
	}

	p.log.Debug("acquired region", "key", key, "id", id, "mib", size/c.MiB, "node", node, "lkey", reg.LKey)

	return Region {
		Key: 	key,
		ID: 	id,
		Node: 	node,
		Mem: 	mem,
		Reg: 	reg,
	}, nil
}

// Cleanup for a segment that never became a Region. The caller is already returning a
// fatal error, so failures here are only logged.
func (p *Provider) discard(id int, mem []byte) {
	if err := p.backend.Remove(id); err != nil {
		p.log.Error("discard: remove", "id", id, "err", err)
	}
	if mem != nil {
		if err := p.backend.Detach(mem); err != nil {
			p.log.Error("discard: detach", "id", id, "err", err)
		}
	}
}

// Release destroys the segment behind r. The caller must have deregistered it already.
// Every failure is fatal: a region that should exist but doesn't is a leak or a double free.
func (p *Provider) Release(r Region) error {
	id, err := p.backend.Lookup(r.Key)
	if err != nil {
		switch {
		case errors.Is(err, unix.EACCES):
			return p.fatal(KindInvariant, "shmget", "insufficient permissions on free", r.Key, r.Size(), err)
		case errors.Is(err, unix.ENOENT):
			return p.fatal(KindInvariant, "shmget", "no such segment", r.Key, r.Size(), err)
		default:
			return p.fatal(KindInvariant, "shmget", "unexpected error on free", r.Key, r.Size(), err)
		}
	}

	if err := p.backend.Remove(id); err != nil {
		return p.fatal(KindInvariant, "shmctl", "remove failed", r.Key, r.Size(), err)
	}

	if err := p.backend.Detach(r.Mem); err != nil {
		return p.fatal(KindInvariant, "shmdt", "detach failed", r.Key, r.Size(), err)
	}

	p.log.Debug("released region", "key", r.Key, "id", id, "mib", r.Size()/c.MiB)
	return nil
}
