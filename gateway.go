package hostplane

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Gateway is the single public HTTP entry point. Control routes are
// dispatched to the control API and never traverse the proxy; everything
// else is resolved by tenant header to a live instance and proxied to its
// port. No tenant match means not-found — never a silent fallback to
// another tenant.
type Gateway struct {
	registry *TenantRegistry
	control  http.Handler
	header   string

	proxyTimeout time.Duration
	transport    http.RoundTripper
}

// NewGateway builds a gateway over the registry and control handler.
// header names the tenant-identifying request header.
func NewGateway(registry *TenantRegistry, control http.Handler, header string, proxyTimeout time.Duration) *Gateway {
	return &Gateway{
		registry:     registry,
		control:      control,
		header:       header,
		proxyTimeout: proxyTimeout,
		transport: &http.Transport{
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       60 * time.Second,
			ResponseHeaderTimeout: 0, // bounded by the per-request context
		},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isControlPath(r.URL.Path) {
		g.control.ServeHTTP(w, r)
		return
	}

	tenant := r.Header.Get(g.header)
	if tenant == "" {
		http.Error(w, fmt.Sprintf("%s not found", g.header), http.StatusNotFound)
		return
	}

	inst := g.registry.Pick(tenant)
	if inst == nil {
		http.Error(w, fmt.Sprintf("%s service not found", tenant), http.StatusNotFound)
		return
	}

	if isWebSocketUpgrade(r) {
		g.proxyWebSocket(w, r, inst)
		return
	}
	g.proxyHTTP(w, r, inst)
}

// isControlPath matches the administrative surface. Control routes are
// tenant-unambiguous by construction, so they are claimed before any
// header routing happens.
func isControlPath(path string) bool {
	return strings.HasPrefix(path, "/runtime/") || strings.HasPrefix(path, "/code/")
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// logProxyError records upstream failures; plain not-found outcomes are
// expected traffic and never logged.
func logProxyError(inst *Instance, err error) {
	log.Printf("gateway: proxy to instance %s (tenant %s, port %d) failed: %v", inst.ID, inst.Tenant, inst.Port, err)
}
