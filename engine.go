package hostplane

// EngineContext is an opaque handle to one isolated script-execution
// context. The underlying VM is confined to the goroutine that created it;
// only the handle crosses into the shared control plane.
type EngineContext = any

// ScriptEngine is the embedded script-execution collaborator. The control
// plane never inspects script-level behavior beyond these four calls.
//
// CreateContext spins up a fresh, fully isolated execution context.
// LoadSource compiles and evaluates the tenant's bundled source in it.
// BindListener binds the instance's own inbound HTTP listener and starts
// serving requests into the context. Shutdown drains in-flight work within
// the engine's drain bound and tears the context down; it is safe to call
// from any goroutine and is idempotent.
type ScriptEngine interface {
	CreateContext() (EngineContext, error)
	LoadSource(h EngineContext, source string) error
	BindListener(h EngineContext, port int) error
	Shutdown(h EngineContext)
}
