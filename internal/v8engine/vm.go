//go:build v8

// Package v8engine backs the engine with V8 via tommie/v8go. Build with
// -tags v8 to select it.
package v8engine

import (
	"fmt"
	"time"

	"github.com/cryguy/hostplane/internal/core"
	v8 "github.com/tommie/v8go"
)

type v8VM struct {
	iso *v8.Isolate
	ctx *v8.Context
}

// New creates a V8-backed VM with the configured heap limit and the
// dispatch prelude installed. Must run on the goroutine the VM will live on.
func New(cfg core.Config) (core.VM, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		heapSize := uint64(cfg.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)

	m := &v8VM{iso: iso, ctx: ctx}
	if _, err := ctx.RunScript(core.PreludeJS, "prelude.js"); err != nil {
		m.Close()
		return nil, fmt.Errorf("installing prelude: %w", err)
	}
	return m, nil
}

func (m *v8VM) Load(source string) error {
	if _, err := m.ctx.RunScript(source, "tenant.js"); err != nil {
		return fmt.Errorf("evaluating script: %w", err)
	}
	m.iso.PerformMicrotaskCheckpoint()
	ok, err := m.ctx.RunScript(
		"globalThis.__tenant_module__ && typeof globalThis.__tenant_module__.fetch === 'function'",
		"check.js")
	if err != nil {
		return err
	}
	if !ok.Boolean() {
		return fmt.Errorf("script does not export a fetch handler")
	}
	return nil
}

func (m *v8VM) Invoke(req *core.ScriptRequest, deadline time.Time) (*core.ScriptResponse, error) {
	payload, err := core.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if _, err := m.ctx.RunScript(fmt.Sprintf("__dispatch(%q)", payload), "dispatch.js"); err != nil {
		return nil, fmt.Errorf("dispatching request: %w", err)
	}

	// Pump microtasks until the dispatch promise settles. A watchdog
	// TerminateExecution surfaces here as a RunScript error.
	for {
		m.iso.PerformMicrotaskCheckpoint()
		state, err := m.ctx.RunScript("globalThis.__resp_state", "state.js")
		if err != nil {
			m.cleanup()
			return nil, fmt.Errorf("script execution terminated: %w", err)
		}
		if s := state.String(); s != "pending" {
			return m.collectResponse(s)
		}
		if time.Now().After(deadline) {
			m.cleanup()
			return nil, fmt.Errorf("script execution timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *v8VM) collectResponse(state string) (*core.ScriptResponse, error) {
	payload, err := m.ctx.RunScript("globalThis.__resp_json", "result.js")
	m.cleanup()
	if err != nil {
		return nil, err
	}
	if state == "rejected" {
		return nil, fmt.Errorf("%s", payload.String())
	}
	return core.DecodeResponse(payload.String())
}

func (m *v8VM) cleanup() {
	_, _ = m.ctx.RunScript("delete globalThis.__resp_state; delete globalThis.__resp_json;", "cleanup.js")
}

// Interrupt aborts the running script. TerminateExecution is the one
// thread-safe V8 call.
func (m *v8VM) Interrupt() {
	m.iso.TerminateExecution()
}

func (m *v8VM) Close() {
	m.ctx.Close()
	m.iso.Dispose()
}
