package hostplane

import "sync"

// TenantRegistry maps tenant codes to their live instances. It is the
// canonical answer to "what is running where": an instance appears in
// exactly one tenant's set from Register until Unregister, and mutations
// for one tenant never block another tenant's.
type TenantRegistry struct {
	mu      sync.RWMutex
	tenants map[string]*tenantEntry
}

// tenantEntry holds one tenant's instances plus its round-robin cursor.
// Instances are kept in registration order, oldest first.
type tenantEntry struct {
	mu        sync.Mutex
	instances []*Instance
	next      int
}

// NewTenantRegistry creates an empty registry.
func NewTenantRegistry() *TenantRegistry {
	return &TenantRegistry{tenants: make(map[string]*tenantEntry)}
}

func (r *TenantRegistry) entry(tenant string, create bool) *tenantEntry {
	r.mu.RLock()
	e := r.tenants[tenant]
	r.mu.RUnlock()
	if e != nil || !create {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.tenants[tenant]; e == nil {
		e = &tenantEntry{}
		r.tenants[tenant] = e
	}
	return e
}

// Register adds an instance to its tenant's set.
func (r *TenantRegistry) Register(inst *Instance) {
	e := r.entry(inst.Tenant, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instances = append(e.instances, inst)
}

// Unregister removes the instance with the given id from the tenant's set.
// Returns false if it was not registered.
func (r *TenantRegistry) Unregister(tenant, id string) bool {
	e := r.entry(tenant, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, inst := range e.instances {
		if inst.ID == id {
			e.instances = append(e.instances[:i], e.instances[i+1:]...)
			if e.next > i {
				e.next--
			}
			return true
		}
	}
	return false
}

// Count returns the number of Running instances for the tenant.
func (r *TenantRegistry) Count(tenant string) int {
	e := r.entry(tenant, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, inst := range e.instances {
		if inst.State() == StateRunning {
			n++
		}
	}
	return n
}

// Pick selects a routing target for the tenant, round-robin over its
// Running instances. Returns nil when none are Running — the tenant is
// simply not deployed, which the gateway reports as not-found.
func (r *TenantRegistry) Pick(tenant string) *Instance {
	e := r.entry(tenant, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.instances)
	for i := 0; i < n; i++ {
		inst := e.instances[(e.next+i)%n]
		if inst.State() == StateRunning {
			e.next = (e.next + i + 1) % n
			return inst
		}
	}
	return nil
}

// Newest returns the most recently registered instance that is still
// Starting or Running, or nil. Stop peels instances off newest-first so
// the oldest instance drains last.
func (r *TenantRegistry) Newest(tenant string) *Instance {
	e := r.entry(tenant, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.instances) - 1; i >= 0; i-- {
		if s := e.instances[i].State(); s == StateStarting || s == StateRunning {
			return e.instances[i]
		}
	}
	return nil
}

// Tenants returns the codes of every tenant with at least one registered
// instance.
func (r *TenantRegistry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tenants))
	for tenant, e := range r.tenants {
		e.mu.Lock()
		n := len(e.instances)
		e.mu.Unlock()
		if n > 0 {
			out = append(out, tenant)
		}
	}
	return out
}

// Instances returns a snapshot of the tenant's registered instances.
func (r *TenantRegistry) Instances(tenant string) []*Instance {
	e := r.entry(tenant, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Instance, len(e.instances))
	copy(out, e.instances)
	return out
}
