package hostplane

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// EngineSupervisor starts and stops individual engine instances. It is the
// only component that transitions instance state, and it guarantees the
// port lease is returned on every exit path — startup failure, graceful
// drain, and forced teardown alike.
type EngineSupervisor struct {
	engine ScriptEngine
	ports  *PortAllocator

	startTimeout time.Duration
	drainTimeout time.Duration
}

// NewEngineSupervisor wires a supervisor over the given engine and allocator.
func NewEngineSupervisor(engine ScriptEngine, ports *PortAllocator, startTimeout, drainTimeout time.Duration) *EngineSupervisor {
	return &EngineSupervisor{
		engine:       engine,
		ports:        ports,
		startTimeout: startTimeout,
		drainTimeout: drainTimeout,
	}
}

// startResult carries the outcome of the context-create/load/bind sequence
// back from the startup goroutine.
type startResult struct {
	handle EngineContext
	err    error
}

// Start brings up one instance for the tenant on the given (already leased)
// port: fresh context, source load, listener bind, then Running. Any
// failure tears the context down, releases the port, and returns the error
// — no Starting ghost survives a failed Start. Hostile source that hangs
// during load is cut off by the start timeout.
func (s *EngineSupervisor) Start(ctx context.Context, tenant, source string, port int) (*Instance, error) {
	inst := &Instance{
		ID:        uuid.NewString(),
		Tenant:    tenant,
		Port:      port,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	inst.state.Store(int32(StateStarting))

	resCh := make(chan startResult, 1)
	go func() {
		h, err := s.engine.CreateContext()
		if err != nil {
			resCh <- startResult{nil, fmt.Errorf("creating engine context: %w", err)}
			return
		}
		if err := s.engine.LoadSource(h, source); err != nil {
			s.engine.Shutdown(h)
			resCh <- startResult{nil, &LoadError{Tenant: tenant, Err: err}}
			return
		}
		if err := s.engine.BindListener(h, port); err != nil {
			s.engine.Shutdown(h)
			resCh <- startResult{nil, &BindFailedError{Port: port, Err: err}}
			return
		}
		resCh <- startResult{h, nil}
	}()

	timer := time.NewTimer(s.startTimeout)
	defer timer.Stop()

	var res startResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		res = startResult{nil, ctx.Err()}
		s.abandonStart(tenant, resCh)
	case <-timer.C:
		res = startResult{nil, fmt.Errorf("starting instance for tenant %s: timed out after %v", tenant, s.startTimeout)}
		s.abandonStart(tenant, resCh)
	}

	if res.err != nil {
		inst.state.Store(int32(StateStopped))
		close(inst.done)
		s.ports.Release(port)
		return nil, res.err
	}

	inst.handle = res.handle
	inst.state.Store(int32(StateRunning))
	log.Printf("supervisor: instance %s for tenant %s running on 127.0.0.1:%d", inst.ID, tenant, port)
	return inst, nil
}

// abandonStart reaps a start attempt that outlived its caller: whenever the
// startup goroutine eventually finishes, any context it produced is shut
// down so the engine never leaks.
func (s *EngineSupervisor) abandonStart(tenant string, resCh <-chan startResult) {
	go func() {
		if res := <-resCh; res.handle != nil {
			log.Printf("supervisor: discarding late-started instance for tenant %s", tenant)
			s.engine.Shutdown(res.handle)
		}
	}()
}

// Stop drains and tears down an instance. The engine's own drain bound
// applies inside Shutdown; the supervisor adds an outer bound so a wedged
// context still has its state and port reclaimed — reported as a forced,
// non-fatal condition. Stop is idempotent: a second call on a Draining or
// Stopped instance is a no-op.
func (s *EngineSupervisor) Stop(ctx context.Context, inst *Instance) error {
	if !inst.casState(StateRunning, StateDraining) && !inst.casState(StateStarting, StateDraining) {
		return nil
	}

	shutdownDone := make(chan struct{})
	go func() {
		if inst.handle != nil {
			s.engine.Shutdown(inst.handle)
		}
		close(shutdownDone)
	}()

	forced := false
	timer := time.NewTimer(s.drainTimeout + time.Second)
	defer timer.Stop()
	select {
	case <-shutdownDone:
	case <-timer.C:
		forced = true
	case <-ctx.Done():
		forced = true
	}

	inst.state.Store(int32(StateStopped))
	close(inst.done)
	s.ports.Release(inst.Port)

	if forced {
		log.Printf("supervisor: WARNING: forced teardown of instance %s (tenant %s); port %d reclaimed", inst.ID, inst.Tenant, inst.Port)
		return nil
	}
	log.Printf("supervisor: instance %s for tenant %s stopped, port %d released", inst.ID, inst.Tenant, inst.Port)
	return nil
}
