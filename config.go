package hostplane

import (
	"os"
	"strconv"
	"time"
)

// Config holds the runtime configuration for the control plane and gateway.
type Config struct {
	ListenAddr   string // shared inbound address for gateway + control routes
	TenantHeader string // request header carrying the tenant routing key
	DataDir      string // base directory for the code store database

	BasePort int // first port handed out to engine instances
	MaxPorts int // size of the instance port range
	MaxConns int // max concurrent gateway connections (0 = unlimited)

	StartTimeout time.Duration // bound on context create + load + bind
	DrainTimeout time.Duration // bound on graceful instance shutdown
	ProxyTimeout time.Duration // per-proxied-request upstream bound

	ExecutionTimeout time.Duration // per-request script watchdog
	MemoryLimitMB    int           // per-VM heap limit
	MaxRequestBytes  int64         // max inbound body handed to a script
}

// DefaultConfig returns the configuration used when no environment
// overrides are present.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       "127.0.0.1:9999",
		TenantHeader:     "product_code",
		DataDir:          "./data",
		BasePort:         3000,
		MaxPorts:         2000,
		MaxConns:         1024,
		StartTimeout:     10 * time.Second,
		DrainTimeout:     5 * time.Second,
		ProxyTimeout:     30 * time.Second,
		ExecutionTimeout: 30 * time.Second,
		MemoryLimitMB:    128,
		MaxRequestBytes:  10 << 20,
	}
}

// ConfigFromEnv builds a Config from HOSTPLANE_* environment variables,
// falling back to defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("HOSTPLANE_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("HOSTPLANE_TENANT_HEADER"); v != "" {
		cfg.TenantHeader = v
	}
	if v := os.Getenv("HOSTPLANE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.BasePort = envInt("HOSTPLANE_BASE_PORT", cfg.BasePort)
	cfg.MaxPorts = envInt("HOSTPLANE_MAX_PORTS", cfg.MaxPorts)
	cfg.MaxConns = envInt("HOSTPLANE_MAX_CONNS", cfg.MaxConns)
	cfg.MemoryLimitMB = envInt("HOSTPLANE_MEMORY_LIMIT_MB", cfg.MemoryLimitMB)
	cfg.StartTimeout = envDuration("HOSTPLANE_START_TIMEOUT", cfg.StartTimeout)
	cfg.DrainTimeout = envDuration("HOSTPLANE_DRAIN_TIMEOUT", cfg.DrainTimeout)
	cfg.ProxyTimeout = envDuration("HOSTPLANE_PROXY_TIMEOUT", cfg.ProxyTimeout)
	cfg.ExecutionTimeout = envDuration("HOSTPLANE_EXEC_TIMEOUT", cfg.ExecutionTimeout)
	return cfg
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
