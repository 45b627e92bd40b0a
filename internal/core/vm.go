package core

import "time"

// VM is one JavaScript virtual machine. Every method except Interrupt must
// be called from the goroutine that created the VM — neither engine's
// object graph survives crossing threads. Interrupt is the one call that
// is safe from anywhere.
type VM interface {
	// Load evaluates the tenant's bundled script and verifies it installed
	// a module with a fetch handler.
	Load(source string) error

	// Invoke runs the module's fetch handler for one request, pumping the
	// engine's job/microtask queue until the returned promise settles or
	// the deadline passes.
	Invoke(req *ScriptRequest, deadline time.Time) (*ScriptResponse, error)

	// Interrupt aborts the current execution if the engine supports
	// preemption, or flags the next safe point otherwise. Thread-safe.
	Interrupt()

	// Close disposes the VM.
	Close()
}

// Factory creates a VM. The engine calls it on the confined goroutine the
// VM will live on.
type Factory func(cfg Config) (VM, error)
