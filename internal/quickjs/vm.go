//go:build !v8

// Package quickjs backs the engine with modernc.org/quickjs, a pure-Go
// CGo-free QuickJS build. It is the default backend.
package quickjs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cryguy/hostplane/internal/core"
	"modernc.org/quickjs"
)

type qjsVM struct {
	vm          *quickjs.VM
	interrupted atomic.Bool
}

// New creates a QuickJS-backed VM with the configured heap limit and the
// dispatch prelude installed. Must run on the goroutine the VM will live on.
func New(cfg core.Config) (core.VM, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating quickjs vm: %w", err)
	}
	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) * 1024 * 1024)
	}
	q := &qjsVM{vm: vm}
	if err := q.eval(core.PreludeJS); err != nil {
		vm.Close()
		return nil, fmt.Errorf("installing prelude: %w", err)
	}
	return q, nil
}

func (q *qjsVM) eval(js string) error {
	v, err := q.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (q *qjsVM) evalString(js string) (string, error) {
	result, err := q.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

func (q *qjsVM) Load(source string) error {
	if err := q.eval(source); err != nil {
		return fmt.Errorf("evaluating script: %w", err)
	}
	executePendingJobs(q.vm)
	ok, err := q.vm.Eval(
		"globalThis.__tenant_module__ && typeof globalThis.__tenant_module__.fetch === 'function'",
		quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	if b, _ := ok.(bool); !b {
		return fmt.Errorf("script does not export a fetch handler")
	}
	return nil
}

func (q *qjsVM) Invoke(req *core.ScriptRequest, deadline time.Time) (*core.ScriptResponse, error) {
	q.interrupted.Store(false)

	payload, err := core.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := q.eval(fmt.Sprintf("__dispatch(%q)", payload)); err != nil {
		return nil, fmt.Errorf("dispatching request: %w", err)
	}

	// Pump the microtask queue until the dispatch promise settles. QuickJS
	// has no thread-safe preemption, so the interrupt flag is honored
	// between jobs rather than mid-script.
	for {
		executePendingJobs(q.vm)
		state, err := q.evalString("globalThis.__resp_state")
		if err != nil {
			return nil, err
		}
		if state != "pending" {
			return q.collectResponse(state)
		}
		if q.interrupted.Load() || time.Now().After(deadline) {
			q.cleanup()
			return nil, fmt.Errorf("script execution timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func (q *qjsVM) collectResponse(state string) (*core.ScriptResponse, error) {
	payload, err := q.evalString("globalThis.__resp_json")
	q.cleanup()
	if err != nil {
		return nil, err
	}
	if state == "rejected" {
		return nil, fmt.Errorf("%s", payload)
	}
	return core.DecodeResponse(payload)
}

func (q *qjsVM) cleanup() {
	_ = q.eval("delete globalThis.__resp_state; delete globalThis.__resp_json;")
}

// Interrupt flags the pump loop to stop at its next checkpoint. QuickJS
// objects cannot be touched from another thread, so this only sets a flag.
func (q *qjsVM) Interrupt() {
	q.interrupted.Store(true)
}

func (q *qjsVM) Close() {
	q.vm.Close()
}
