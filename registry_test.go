package hostplane

import (
	"fmt"
	"testing"
	"time"
)

// newTestInstance builds a registered-shape instance in the given state.
func newTestInstance(tenant string, port int, state InstanceState) *Instance {
	inst := &Instance{
		ID:        fmt.Sprintf("test-%s-%d", tenant, port),
		Tenant:    tenant,
		Port:      port,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	inst.state.Store(int32(state))
	return inst
}

func TestRegistryPickRoundRobin(t *testing.T) {
	r := NewTenantRegistry()
	a := newTestInstance("shop", 3000, StateRunning)
	b := newTestInstance("shop", 3001, StateRunning)
	c := newTestInstance("shop", 3002, StateRunning)
	r.Register(a)
	r.Register(b)
	r.Register(c)

	var got []int
	for i := 0; i < 6; i++ {
		got = append(got, r.Pick("shop").Port)
	}
	want := []int{3000, 3001, 3002, 3000, 3001, 3002}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pick sequence %v, want %v", got, want)
		}
	}
}

func TestRegistryPickSkipsNonRunning(t *testing.T) {
	r := NewTenantRegistry()
	r.Register(newTestInstance("shop", 3000, StateStarting))
	r.Register(newTestInstance("shop", 3001, StateRunning))
	r.Register(newTestInstance("shop", 3002, StateDraining))

	for i := 0; i < 3; i++ {
		inst := r.Pick("shop")
		if inst == nil {
			t.Fatal("Pick returned nil with a Running instance present")
		}
		if inst.Port != 3001 {
			t.Errorf("picked port %d, want 3001", inst.Port)
		}
	}
}

func TestRegistryPickUnknownTenant(t *testing.T) {
	r := NewTenantRegistry()
	if inst := r.Pick("ghost"); inst != nil {
		t.Errorf("Pick for unknown tenant = %v, want nil", inst)
	}
}

func TestRegistryCountRunningOnly(t *testing.T) {
	r := NewTenantRegistry()
	r.Register(newTestInstance("shop", 3000, StateRunning))
	r.Register(newTestInstance("shop", 3001, StateStarting))
	r.Register(newTestInstance("shop", 3002, StateStopped))
	if n := r.Count("shop"); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if n := r.Count("ghost"); n != 0 {
		t.Errorf("Count for unknown tenant = %d, want 0", n)
	}
}

func TestRegistryNewest(t *testing.T) {
	r := NewTenantRegistry()
	a := newTestInstance("shop", 3000, StateRunning)
	b := newTestInstance("shop", 3001, StateRunning)
	dead := newTestInstance("shop", 3002, StateStopped)
	r.Register(a)
	r.Register(b)
	r.Register(dead)

	if got := r.Newest("shop"); got != b {
		t.Errorf("Newest = %v, want the last live instance (port 3001)", got)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewTenantRegistry()
	a := newTestInstance("shop", 3000, StateRunning)
	b := newTestInstance("shop", 3001, StateRunning)
	r.Register(a)
	r.Register(b)

	if !r.Unregister("shop", a.ID) {
		t.Fatal("Unregister of registered instance returned false")
	}
	if r.Unregister("shop", a.ID) {
		t.Error("second Unregister returned true")
	}
	if n := r.Count("shop"); n != 1 {
		t.Errorf("Count after unregister = %d, want 1", n)
	}
	if got := r.Pick("shop"); got != b {
		t.Errorf("Pick after unregister = %v, want remaining instance", got)
	}
}

func TestRegistryTenantIsolation(t *testing.T) {
	r := NewTenantRegistry()
	shop := newTestInstance("shop", 3000, StateRunning)
	blog := newTestInstance("blog", 3001, StateRunning)
	r.Register(shop)
	r.Register(blog)

	if got := r.Pick("shop"); got != shop {
		t.Errorf("Pick(shop) = %v, want shop's instance", got)
	}
	if got := r.Pick("blog"); got != blog {
		t.Errorf("Pick(blog) = %v, want blog's instance", got)
	}

	tenants := r.Tenants()
	if len(tenants) != 2 {
		t.Errorf("Tenants() = %v, want two entries", tenants)
	}
}
