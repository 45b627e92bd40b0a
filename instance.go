package hostplane

import (
	"sync/atomic"
	"time"
)

// InstanceState is the lifecycle state of an engine instance. Transitions
// are monotonic: Starting → Running → Draining → Stopped. A restart is a
// new instance with a new id, never a reused one.
type InstanceState int32

const (
	StateStarting InstanceState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s InstanceState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Instance is the lightweight handle to one running engine instance. The
// engine context itself never leaves its own goroutine; this handle is the
// only thing shared with the registry and the HTTP handlers, so everything
// on it is safe to read or signal cross-goroutine.
type Instance struct {
	ID        string
	Tenant    string
	Port      int
	StartedAt time.Time

	state  atomic.Int32
	handle EngineContext
	done   chan struct{}
}

// State returns the current lifecycle state.
func (in *Instance) State() InstanceState {
	return InstanceState(in.state.Load())
}

// Done is closed once the instance has reached Stopped and its port has
// been released.
func (in *Instance) Done() <-chan struct{} {
	return in.done
}

// casState transitions from one state to the next. Only the supervisor
// calls this; monotonicity holds because every call site moves forward.
func (in *Instance) casState(from, to InstanceState) bool {
	return in.state.CompareAndSwap(int32(from), int32(to))
}
