package hostplane

import (
	"fmt"
	"net"
	"sync"
)

// PortAllocator hands out unique local ports for engine instances from a
// fixed range [base, base+size). It is pure bookkeeping: it never binds the
// port it leases (the engine does that), but it probes candidate ports so
// that ports held by external processes are skipped instead of leased.
type PortAllocator struct {
	mu     sync.Mutex
	base   int
	size   int
	cursor int          // next candidate offset into the range
	leased map[int]bool // currently leased ports

	// probe reports whether a port looks bindable. Swappable in tests.
	probe func(port int) bool
}

// NewPortAllocator creates an allocator over [base, base+size).
func NewPortAllocator(base, size int) *PortAllocator {
	return &PortAllocator{
		base:   base,
		size:   size,
		leased: make(map[int]bool),
		probe:  portIsFree,
	}
}

// Acquire leases the next free port. The cursor advances monotonically and
// wraps, so released ports are reused only after the rest of the range has
// been visited. Returns ErrPortExhausted when no port in the range is both
// unleased and bindable.
func (a *PortAllocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.size; i++ {
		port := a.base + (a.cursor+i)%a.size
		if a.leased[port] {
			continue
		}
		if !a.probe(port) {
			// Held by something outside our bookkeeping; skip it.
			continue
		}
		a.cursor = (a.cursor + i + 1) % a.size
		a.leased[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("scanning %d ports from %d: %w", a.size, a.base, ErrPortExhausted)
}

// Release returns a leased port to the pool. Releasing an already-free port
// is a no-op, which makes concurrent double-teardown harmless.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.leased, port)
}

// Leased reports how many ports are currently out.
func (a *PortAllocator) Leased() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.leased)
}

// portIsFree probes a port by binding and immediately closing it. The probe
// is advisory: the engine's own bind can still lose the race, which surfaces
// as a BindFailedError there.
func portIsFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
