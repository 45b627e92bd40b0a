package hostplane

import (
	"errors"
	"fmt"
)

// ErrPortExhausted is returned by PortAllocator.Acquire when every port in
// the configured range is leased or occupied. Fatal to the start call that
// hit it, not to the process.
var ErrPortExhausted = errors.New("port pool exhausted")

// ErrUpstreamUnavailable marks a proxy hop that failed after a successful
// registry lookup — the instance died between lookup and forward.
var ErrUpstreamUnavailable = errors.New("upstream instance unavailable")

// BindFailedError reports an OS-level bind conflict on a port the allocator
// considered free (something outside the allocator grabbed it first).
type BindFailedError struct {
	Port int
	Err  error
}

func (e *BindFailedError) Error() string {
	return fmt.Sprintf("binding instance listener on port %d: %v", e.Port, e.Err)
}

func (e *BindFailedError) Unwrap() error { return e.Err }

// LoadError reports tenant source that failed to initialize in the engine.
// The underlying engine error is preserved verbatim for the caller.
type LoadError struct {
	Tenant string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading source for tenant %s: %v", e.Tenant, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
