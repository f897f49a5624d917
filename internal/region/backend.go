package region

// Backend is the OS capability boundary: SysV shm segments plus NUMA binding. Errors are
// returned raw (unix.Errno) and are classified by the Provider.
type Backend interface {
	// Create a new segment of exactly size bytes under key. Must fail with EEXIST if the
	// key is taken.
	Create(key int, size uint64) (id int, err error)
	Attach(id int) ([]byte, error)
	Bind(mem []byte, node int) error
	// Look up an existing segment without creating it.
	Lookup(key int) (id int, err error)
	// Mark the segment for destruction, it goes away on the last detach.
	Remove(id int) error
	Detach(mem []byte) error
}
