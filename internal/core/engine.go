package core

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Engine implements the script-engine contract over a VM factory. Each
// context it creates owns one VM on one OS-locked goroutine; handlers and
// the control plane reach the VM only through the job channel, never
// directly.
type Engine struct {
	cfg     Config
	factory Factory
}

// NewEngine builds an engine over the given VM factory.
func NewEngine(cfg Config, factory Factory) *Engine {
	return &Engine{cfg: cfg, factory: factory}
}

const (
	jobLoad = iota
	jobInvoke
)

type job struct {
	kind     int
	source   string
	req      *ScriptRequest
	deadline time.Time
	res      chan jobResult
}

type jobResult struct {
	resp *ScriptResponse
	err  error
}

// Context is one isolated execution context: a VM confined to its own
// goroutine, plus the instance's HTTP listener once bound. The struct is
// handed across goroutines but the VM inside it never is.
type Context struct {
	cfg    Config
	jobs   chan job
	quit   chan struct{}
	done   chan struct{}
	ready  chan error
	vm     VM // written once before ready is signaled
	server *http.Server
	closed atomic.Bool
}

// CreateContext spins up the confined goroutine, builds the VM on it, and
// returns the handle once the VM is ready.
func (e *Engine) CreateContext() (any, error) {
	c := &Context{
		cfg:   e.cfg,
		jobs:  make(chan job),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		ready: make(chan error, 1),
	}
	go c.run(e.factory)
	if err := <-c.ready; err != nil {
		return nil, err
	}
	return c, nil
}

// run is the context's confined loop. The OS thread is locked for the
// VM's whole life: V8 isolates and QuickJS VMs must be created, used, and
// disposed on a single thread.
func (c *Context) run(factory Factory) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	vm, err := factory(c.cfg)
	if err != nil {
		c.ready <- err
		close(c.done)
		return
	}
	c.vm = vm
	c.ready <- nil

	for {
		select {
		case j := <-c.jobs:
			switch j.kind {
			case jobLoad:
				j.res <- jobResult{err: vm.Load(j.source)}
			case jobInvoke:
				resp, err := vm.Invoke(j.req, j.deadline)
				j.res <- jobResult{resp: resp, err: err}
			}
		case <-c.quit:
			vm.Close()
			close(c.done)
			return
		}
	}
}

// submit hands a job to the confined goroutine and waits for its result.
// Errors out instead of blocking forever if the context has exited.
func (c *Context) submit(j job) (jobResult, error) {
	select {
	case c.jobs <- j:
	case <-c.done:
		return jobResult{}, fmt.Errorf("engine context is closed")
	}
	return <-j.res, nil
}

// interrupt forwards to the VM's thread-safe abort.
func (c *Context) interrupt() {
	if vm := c.vm; vm != nil {
		vm.Interrupt()
	}
}

// LoadSource evaluates the tenant's bundled script in the context. Source
// that hangs at top level is cut off by the execution watchdog.
func (e *Engine) LoadSource(h any, source string) error {
	c, ok := h.(*Context)
	if !ok {
		return fmt.Errorf("not an engine context: %T", h)
	}
	watchdog := time.AfterFunc(c.cfg.ExecutionTimeout, c.interrupt)
	defer watchdog.Stop()

	r, err := c.submit(job{kind: jobLoad, source: source, res: make(chan jobResult, 1)})
	if err != nil {
		return err
	}
	return r.err
}

// BindListener binds the instance's own loopback listener and starts
// serving requests into the context. The bind happens synchronously so an
// OS-level conflict surfaces to the caller immediately.
func (e *Engine) BindListener(h any, port int) error {
	c, ok := h.(*Context)
	if !ok {
		return fmt.Errorf("not an engine context: %T", h)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	c.server = &http.Server{
		Handler:           http.HandlerFunc(c.handleHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("engine: instance listener on port %d: %v", port, err)
		}
	}()
	return nil
}

// Shutdown drains the listener within the drain bound, then stops the
// confined goroutine and disposes the VM. Idempotent; a context that will
// not drain is interrupted and, as a last resort, abandoned with a
// warning rather than blocking teardown.
func (e *Engine) Shutdown(h any) {
	c, ok := h.(*Context)
	if !ok {
		return
	}
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DrainTimeout)
		if err := c.server.Shutdown(ctx); err != nil {
			log.Printf("engine: drain window elapsed, forcing listener close: %v", err)
			c.server.Close()
		}
		cancel()
	}

	close(c.quit)
	select {
	case <-c.done:
	case <-time.After(c.cfg.DrainTimeout):
		c.interrupt()
		select {
		case <-c.done:
		case <-time.After(time.Second):
			log.Printf("engine: WARNING: context goroutine did not exit; abandoning")
		}
	}
}
