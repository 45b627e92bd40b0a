package hostplane

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/cryguy/hostplane/internal/core"
)

// Server assembles the whole control plane: code store, port allocator,
// registry, engine, supervisor, control API, and the gateway in front of
// them all.
type Server struct {
	cfg        Config
	store      *CodeStore
	ports      *PortAllocator
	registry   *TenantRegistry
	supervisor *EngineSupervisor
	gateway    *Gateway
}

// NewServer builds a server from the config. The engine backend is chosen
// at build time (QuickJS by default, V8 with -tags v8).
func NewServer(cfg Config) (*Server, error) {
	store, err := OpenCodeStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening code store: %w", err)
	}

	ports := NewPortAllocator(cfg.BasePort, cfg.MaxPorts)
	registry := NewTenantRegistry()
	engine := newScriptEngine(core.Config{
		MemoryLimitMB:    cfg.MemoryLimitMB,
		ExecutionTimeout: cfg.ExecutionTimeout,
		DrainTimeout:     cfg.DrainTimeout,
		MaxRequestBytes:  cfg.MaxRequestBytes,
	})
	supervisor := NewEngineSupervisor(engine, ports, cfg.StartTimeout, cfg.DrainTimeout)
	control := NewControlAPI(store, registry, supervisor, ports, cfg.TenantHeader)

	return &Server{
		cfg:        cfg,
		store:      store,
		ports:      ports,
		registry:   registry,
		supervisor: supervisor,
		gateway:    NewGateway(registry, control.Handler(), cfg.TenantHeader, cfg.ProxyTimeout),
	}, nil
}

// Handler returns the gateway handler for the shared listen port.
func (s *Server) Handler() http.Handler {
	return s.gateway
}

// Close stops every running instance and closes the code store. Instances
// that refuse to drain are force-torn-down by the supervisor; Close never
// hangs on tenant code.
func (s *Server) Close() error {
	ctx := context.Background()
	for _, tenant := range s.registry.Tenants() {
		for _, inst := range s.registry.Instances(tenant) {
			if err := s.supervisor.Stop(ctx, inst); err != nil {
				log.Printf("server: stopping instance %s (tenant %s): %v", inst.ID, tenant, err)
			}
			s.registry.Unregister(tenant, inst.ID)
		}
	}
	return s.store.Close()
}
