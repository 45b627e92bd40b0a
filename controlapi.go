package hostplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
)

// ControlAPI exposes the lifecycle verbs the administrative front end
// drives: start/stop/exit/info per tenant, plus source save/get. All
// responses use the {code, data} envelope; code 0 is success, -1 carries
// the underlying cause in data.
type ControlAPI struct {
	store      *CodeStore
	registry   *TenantRegistry
	supervisor *EngineSupervisor
	ports      *PortAllocator
	header     string
}

// NewControlAPI wires the control surface over the shared state objects.
func NewControlAPI(store *CodeStore, registry *TenantRegistry, supervisor *EngineSupervisor, ports *PortAllocator, header string) *ControlAPI {
	return &ControlAPI{
		store:      store,
		registry:   registry,
		supervisor: supervisor,
		ports:      ports,
		header:     header,
	}
}

// Handler returns the control-route mux.
func (c *ControlAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /runtime/{tenant}/start", c.handleStart)
	mux.HandleFunc("GET /runtime/{tenant}/restart", c.handleRestart)
	mux.HandleFunc("GET /runtime/{tenant}/stop", c.handleStop)
	mux.HandleFunc("GET /runtime/{tenant}/exit", c.handleExit)
	mux.HandleFunc("GET /runtime/{tenant}/info", c.handleInfo)
	mux.HandleFunc("GET /code/get", c.handleCodeGet)
	mux.HandleFunc("POST /code/save", c.handleCodeSave)
	return mux
}

// res is the envelope every control response is wrapped in.
type res struct {
	Code int `json:"code"`
	Data any `json:"data"`
}

func writeRes(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res{Code: code, Data: data})
}

// runtimeInfo is the info view: how many instances are running and a hint
// for reaching them.
type runtimeInfo struct {
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// startInstance runs the full start sequence for one new instance: port
// lease, stored source, bundle, engine start, registry entry — in that
// order, so a failure at any step leaves no trace.
func (c *ControlAPI) startInstance(ctx context.Context, tenant string) (*Instance, error) {
	port, err := c.ports.Acquire()
	if err != nil {
		if errors.Is(err, ErrPortExhausted) {
			return nil, errors.New("no free instance ports")
		}
		return nil, err
	}

	source, err := c.store.Load(tenant)
	if err != nil {
		c.ports.Release(port)
		return nil, err
	}
	if source == "" {
		c.ports.Release(port)
		return nil, fmt.Errorf("no code deployed for %s", tenant)
	}
	bundled, err := BundleSource(source)
	if err != nil {
		c.ports.Release(port)
		return nil, err
	}

	// The supervisor owns the lease from here: failure paths inside Start
	// release the port themselves.
	inst, err := c.supervisor.Start(ctx, tenant, bundled, port)
	if err != nil {
		return nil, err
	}
	c.registry.Register(inst)
	return inst, nil
}

// handleStart spawns one more instance for the tenant. One click, one
// instance; scale-out is just clicking again.
func (c *ControlAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	if err := ValidateTenantCode(tenant); err != nil {
		writeRes(w, -1, err.Error())
		return
	}
	inst, err := c.startInstance(r.Context(), tenant)
	if err != nil {
		log.Printf("control: start %s failed: %v", tenant, err)
		writeRes(w, -1, err.Error())
		return
	}
	writeRes(w, 0, fmt.Sprintf("instance %s started on port %d", inst.ID, inst.Port))
}

// handleRestart replaces the tenant's deployment: every live instance is
// stopped, then one fresh instance comes up on the latest saved source. If
// the fresh start fails the tenant is left stopped — stale code never keeps
// serving past a restart request.
func (c *ControlAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	if err := ValidateTenantCode(tenant); err != nil {
		writeRes(w, -1, err.Error())
		return
	}
	for _, inst := range c.registry.Instances(tenant) {
		if err := c.supervisor.Stop(r.Context(), inst); err != nil {
			log.Printf("control: restart %s: stopping %s: %v", tenant, inst.ID, err)
		}
		c.registry.Unregister(tenant, inst.ID)
	}
	inst, err := c.startInstance(r.Context(), tenant)
	if err != nil {
		log.Printf("control: restart %s failed: %v", tenant, err)
		writeRes(w, -1, err.Error())
		return
	}
	writeRes(w, 0, fmt.Sprintf("restarted: instance %s on port %d", inst.ID, inst.Port))
}

// handleStop stops the most recently started instance, keeping teardown
// order predictable: repeated stops unwind the tenant newest-first.
func (c *ControlAPI) handleStop(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	inst := c.registry.Newest(tenant)
	if inst == nil {
		writeRes(w, 0, "no running instances")
		return
	}
	if err := c.supervisor.Stop(r.Context(), inst); err != nil {
		writeRes(w, -1, err.Error())
		return
	}
	c.registry.Unregister(tenant, inst.ID)
	writeRes(w, 0, "instance stopped")
}

// handleExit stops every instance the tenant has.
func (c *ControlAPI) handleExit(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	instances := c.registry.Instances(tenant)
	for _, inst := range instances {
		if err := c.supervisor.Stop(r.Context(), inst); err != nil {
			log.Printf("control: exit %s: stopping %s: %v", tenant, inst.ID, err)
		}
		c.registry.Unregister(tenant, inst.ID)
	}
	if len(instances) == 0 {
		writeRes(w, 0, "no instances to stop")
		return
	}
	writeRes(w, 0, fmt.Sprintf("stopped %d instances", len(instances)))
}

// handleInfo reports the Running count and a routing hint.
func (c *ControlAPI) handleInfo(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	count := c.registry.Count(tenant)

	meta, err := c.store.Meta(tenant)
	if err != nil {
		writeRes(w, -1, err.Error())
		return
	}
	desc := meta.Description
	if desc == "" {
		if count == 0 {
			desc = "no running instances"
		} else {
			desc = fmt.Sprintf("route requests with header %s=%s", c.header, tenant)
		}
	}
	writeRes(w, 0, runtimeInfo{Count: count, Description: desc})
}

// handleCodeGet returns the tenant's current source. The tenant comes from
// the routing header, same as proxied traffic.
func (c *ControlAPI) handleCodeGet(w http.ResponseWriter, r *http.Request) {
	tenant := r.Header.Get(c.header)
	if tenant == "" {
		writeRes(w, -1, fmt.Sprintf("%s not found", c.header))
		return
	}
	source, err := c.store.Load(tenant)
	if err != nil {
		writeRes(w, -1, err.Error())
		return
	}
	writeRes(w, 0, source)
}

// saveRequest is the body of POST /code/save.
type saveRequest struct {
	Code string `json:"code"`
}

// handleCodeSave overwrites the tenant's source. The save is validated
// through the bundler first so the editor hears about syntax errors at
// save time instead of at the next start.
func (c *ControlAPI) handleCodeSave(w http.ResponseWriter, r *http.Request) {
	tenant := r.Header.Get(c.header)
	if tenant == "" {
		writeRes(w, -1, fmt.Sprintf("%s not found", c.header))
		return
	}
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRes(w, -1, fmt.Sprintf("decoding save request: %v", err))
		return
	}
	if _, err := BundleSource(req.Code); err != nil {
		writeRes(w, -1, err.Error())
		return
	}
	if err := c.store.Save(tenant, req.Code); err != nil {
		writeRes(w, -1, err.Error())
		return
	}
	writeRes(w, 0, "saved")
}
