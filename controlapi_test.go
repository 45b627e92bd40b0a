package hostplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testSource = `export default { fetch(req: Request) { return new Response("ok"); } }`

type controlFixture struct {
	api      *ControlAPI
	handler  http.Handler
	store    *CodeStore
	registry *TenantRegistry
	ports    *PortAllocator
	engine   *fakeEngine
}

func newControlFixture(t *testing.T) *controlFixture {
	t.Helper()
	store := newTestStore(t)
	registry := NewTenantRegistry()
	ports := testAllocator(3000, 10)
	engine := &fakeEngine{}
	supervisor := NewEngineSupervisor(engine, ports, 2*time.Second, 100*time.Millisecond)
	api := NewControlAPI(store, registry, supervisor, ports, "product_code")
	return &controlFixture{
		api:      api,
		handler:  api.Handler(),
		store:    store,
		registry: registry,
		ports:    ports,
		engine:   engine,
	}
}

func (f *controlFixture) do(t *testing.T, method, path, tenant, body string) res {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tenant != "" {
		req.Header.Set("product_code", tenant)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s %s: status = %d: %s", method, path, rec.Code, rec.Body.String())
	}
	var out res
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decoding envelope: %v", method, path, err)
	}
	return out
}

func TestControlStart(t *testing.T) {
	f := newControlFixture(t)
	if err := f.store.Save("shop", testSource); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out := f.do(t, "GET", "/runtime/shop/start", "", "")
	if out.Code != 0 {
		t.Fatalf("start failed: %v", out.Data)
	}
	if n := f.registry.Count("shop"); n != 1 {
		t.Errorf("Count = %d after start, want 1", n)
	}
	if n := f.ports.Leased(); n != 1 {
		t.Errorf("Leased = %d after start, want 1", n)
	}

	// Starting again scales out to a second instance.
	out = f.do(t, "GET", "/runtime/shop/start", "", "")
	if out.Code != 0 {
		t.Fatalf("second start failed: %v", out.Data)
	}
	if n := f.registry.Count("shop"); n != 2 {
		t.Errorf("Count = %d after second start, want 2", n)
	}
}

func TestControlStartNoCode(t *testing.T) {
	f := newControlFixture(t)
	out := f.do(t, "GET", "/runtime/fresh/start", "", "")
	if out.Code != -1 {
		t.Fatalf("start with no deployed code = %v, want failure", out)
	}
	if n := f.ports.Leased(); n != 0 {
		t.Errorf("Leased = %d after refused start, want 0", n)
	}
}

func TestControlStartInvalidTenant(t *testing.T) {
	f := newControlFixture(t)
	out := f.do(t, "GET", "/runtime/bad..code/start", "", "")
	if out.Code != -1 {
		t.Fatalf("start with invalid tenant code = %v, want failure", out)
	}
}

func TestControlStopUnwindsNewestFirst(t *testing.T) {
	f := newControlFixture(t)
	if err := f.store.Save("shop", testSource); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.do(t, "GET", "/runtime/shop/start", "", "")
	f.do(t, "GET", "/runtime/shop/start", "", "")

	first := f.registry.Instances("shop")[0]

	out := f.do(t, "GET", "/runtime/shop/stop", "", "")
	if out.Code != 0 {
		t.Fatalf("stop failed: %v", out.Data)
	}
	remaining := f.registry.Instances("shop")
	if len(remaining) != 1 || remaining[0] != first {
		t.Errorf("stop removed the wrong instance; remaining = %v", remaining)
	}
	if n := f.ports.Leased(); n != 1 {
		t.Errorf("Leased = %d after stop, want 1", n)
	}

	// Stopping with nothing left is a calm no-op.
	f.do(t, "GET", "/runtime/shop/stop", "", "")
	out = f.do(t, "GET", "/runtime/shop/stop", "", "")
	if out.Code != 0 {
		t.Errorf("stop of idle tenant = %v, want success envelope", out)
	}
}

func TestControlRestartReplacesAllInstances(t *testing.T) {
	f := newControlFixture(t)
	if err := f.store.Save("shop", testSource); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.do(t, "GET", "/runtime/shop/start", "", "")
	f.do(t, "GET", "/runtime/shop/start", "", "")
	old := map[string]bool{}
	for _, inst := range f.registry.Instances("shop") {
		old[inst.ID] = true
	}

	out := f.do(t, "GET", "/runtime/shop/restart", "", "")
	if out.Code != 0 {
		t.Fatalf("restart failed: %v", out.Data)
	}
	instances := f.registry.Instances("shop")
	if len(instances) != 1 {
		t.Fatalf("instances after restart = %d, want 1", len(instances))
	}
	if old[instances[0].ID] {
		t.Error("restart kept an old instance instead of starting fresh")
	}
	if n := f.ports.Leased(); n != 1 {
		t.Errorf("Leased = %d after restart, want 1", n)
	}
}

func TestControlRestartWithNoCodeStopsTenant(t *testing.T) {
	f := newControlFixture(t)
	if err := f.store.Save("shop", testSource); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.do(t, "GET", "/runtime/shop/start", "", "")

	// Wipe the deployment, then restart: the old instance goes away and
	// the fresh start is refused.
	if err := f.store.Save("shop", ""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out := f.do(t, "GET", "/runtime/shop/restart", "", "")
	if out.Code != -1 {
		t.Fatalf("restart with no code = %v, want failure", out)
	}
	if n := f.registry.Count("shop"); n != 0 {
		t.Errorf("Count = %d after failed restart, want 0", n)
	}
	if n := f.ports.Leased(); n != 0 {
		t.Errorf("Leased = %d after failed restart, want 0", n)
	}
}

func TestControlExitStopsEverything(t *testing.T) {
	f := newControlFixture(t)
	if err := f.store.Save("shop", testSource); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for i := 0; i < 3; i++ {
		f.do(t, "GET", "/runtime/shop/start", "", "")
	}

	out := f.do(t, "GET", "/runtime/shop/exit", "", "")
	if out.Code != 0 {
		t.Fatalf("exit failed: %v", out.Data)
	}
	if n := f.registry.Count("shop"); n != 0 {
		t.Errorf("Count = %d after exit, want 0", n)
	}
	if n := f.ports.Leased(); n != 0 {
		t.Errorf("Leased = %d after exit, want 0", n)
	}
}

func TestControlInfo(t *testing.T) {
	f := newControlFixture(t)
	if err := f.store.Save("shop", testSource); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out := f.do(t, "GET", "/runtime/shop/info", "", "")
	if out.Code != 0 {
		t.Fatalf("info failed: %v", out.Data)
	}
	data := out.Data.(map[string]any)
	if data["count"].(float64) != 0 {
		t.Errorf("count = %v before start, want 0", data["count"])
	}

	f.do(t, "GET", "/runtime/shop/start", "", "")
	out = f.do(t, "GET", "/runtime/shop/info", "", "")
	data = out.Data.(map[string]any)
	if data["count"].(float64) != 1 {
		t.Errorf("count = %v after start, want 1", data["count"])
	}
	if desc := data["description"].(string); !strings.Contains(desc, "product_code=shop") {
		t.Errorf("description = %q, want routing hint", desc)
	}

	// Stored metadata wins over the generated hint.
	if err := f.store.SetMeta("shop", TenantMeta{Description: "storefront"}); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	out = f.do(t, "GET", "/runtime/shop/info", "", "")
	data = out.Data.(map[string]any)
	if data["description"].(string) != "storefront" {
		t.Errorf("description = %q, want stored metadata", data["description"])
	}
}

func TestControlCodeSaveAndGet(t *testing.T) {
	f := newControlFixture(t)

	body, _ := json.Marshal(map[string]string{"code": testSource})
	out := f.do(t, "POST", "/code/save", "shop", string(body))
	if out.Code != 0 {
		t.Fatalf("save failed: %v", out.Data)
	}

	out = f.do(t, "GET", "/code/get", "shop", "")
	if out.Code != 0 {
		t.Fatalf("get failed: %v", out.Data)
	}
	if out.Data.(string) != testSource {
		t.Errorf("get returned %q, want saved source", out.Data)
	}
}

func TestControlCodeSaveRejectsBrokenSource(t *testing.T) {
	f := newControlFixture(t)

	body, _ := json.Marshal(map[string]string{"code": "export default { fetch("})
	out := f.do(t, "POST", "/code/save", "shop", string(body))
	if out.Code != -1 {
		t.Fatalf("save of broken source = %v, want failure", out)
	}
	src, err := f.store.Load("shop")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src != "" {
		t.Errorf("broken source was persisted: %q", src)
	}
}

func TestControlCodeRoutesRequireHeader(t *testing.T) {
	f := newControlFixture(t)
	out := f.do(t, "GET", "/code/get", "", "")
	if out.Code != -1 {
		t.Fatalf("get without header = %v, want failure", out)
	}
}

func TestControlConcurrentStartsGetDistinctPorts(t *testing.T) {
	f := newControlFixture(t)
	if err := f.store.Save("shop", testSource); err != nil {
		t.Fatalf("Save: %v", err)
	}

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("GET", "/runtime/shop/start", nil)
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
		}()
	}
	wg.Wait()

	instances := f.registry.Instances("shop")
	if len(instances) != n {
		t.Fatalf("registered %d instances, want %d", len(instances), n)
	}
	ports := make(map[int]bool)
	for _, inst := range instances {
		if ports[inst.Port] {
			t.Fatalf("port %d assigned to two instances", inst.Port)
		}
		ports[inst.Port] = true
	}
	if n := f.ports.Leased(); n != len(instances) {
		t.Errorf("Leased = %d, want %d", n, len(instances))
	}
}

func TestControlEnvelopeShape(t *testing.T) {
	f := newControlFixture(t)
	req := httptest.NewRequest("GET", "/runtime/shop/info", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"code", "data"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("envelope missing %q: %s", key, rec.Body.String())
		}
	}
}
