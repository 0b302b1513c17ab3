// Package config reads the process environment into a typed Config,
// following the teacher's pattern of a single struct with defaults and
// validation rather than scattered os.Getenv calls.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds every environment-derived setting the orchestrator needs.
type Config struct {
	// Username is the identity used both for the control channel and
	// attached as the batch-API user-name header.
	Username string

	// CredentialSocketPath is the forwarded agent socket path (e.g.
	// SSH_AUTH_SOCK); raw key material is never read by this process.
	CredentialSocketPath string

	// RemoteBasePath is the remote directory under which scripts,
	// containers and logs live on the login host.
	RemoteBasePath string

	// LoginHost/LoginPort address the control channel's remote end.
	LoginHost string
	LoginPort int

	// ControlSocketPath is where the multiplexed control socket lives.
	ControlSocketPath string

	// DynamicForwardPort is the local loopback port the dynamic HTTP
	// forward binds to.
	DynamicForwardPort int

	// BatchAPIBaseURL is the batch-job REST API's base URL, reached
	// through the dynamic forward.
	BatchAPIBaseURL string

	// TokenCommand is the command run on the login host to mint a
	// fresh BatchToken, e.g. "scontrol token".
	TokenCommand string

	// MetricStoreBaseURL is the metric-storage engine's base URL.
	MetricStoreBaseURL string

	// RecipesDir is the root of the recipes/<category>/<name> tree.
	RecipesDir string

	// GatewayAddr is the listen address for the public Gateway HTTP API.
	GatewayAddr string

	// MonitoringWorkdir is the root directory holding the shared
	// scrape-config.yaml and the per-session work directories.
	MonitoringWorkdir string
}

// Load builds a Config from the process environment, applying defaults
// for anything optional and failing fast on anything required.
func Load() (*Config, error) {
	cfg := &Config{
		Username:              os.Getenv("USER"),
		CredentialSocketPath:  os.Getenv("SSH_AUTH_SOCK"),
		RemoteBasePath:        os.Getenv("REMOTE_BASE_PATH"),
		LoginHost:             getenvDefault("LOGIN_HOST", "login.cluster.local"),
		LoginPort:             getenvIntDefault("LOGIN_PORT", 22),
		ControlSocketPath:     getenvDefault("CONTROL_SOCKET_PATH", "/tmp/orchestrator-control.sock"),
		DynamicForwardPort:    getenvIntDefault("DYNAMIC_FORWARD_PORT", 1080),
		BatchAPIBaseURL:       getenvDefault("BATCH_API_BASE_URL", "http://batch-api.cluster.local:6820"),
		TokenCommand:          getenvDefault("BATCH_TOKEN_COMMAND", "scontrol token"),
		MetricStoreBaseURL:    getenvDefault("METRIC_STORE_BASE_URL", "http://localhost:9090"),
		RecipesDir:            getenvDefault("RECIPES_DIR", "recipes"),
		GatewayAddr:           getenvDefault("GATEWAY_ADDR", ":8080"),
		MonitoringWorkdir:     getenvDefault("MONITORING_WORKDIR", "/var/lib/orchestrator/monitoring"),
	}

	if cfg.RemoteBasePath == "" {
		return nil, fmt.Errorf("REMOTE_BASE_PATH must be set")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("USER must be set in the process environment")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

// ProbeLivenessInterval is how rarely the control socket's liveness is
// trusted before a reconstruction probe is forced (spec §4.1).
const ProbeLivenessInterval = 30 * time.Second

// ReadinessTickInterval is the readiness loop's cooperative tick (§4.4.3).
const ReadinessTickInterval = 10 * time.Second

// LastHealthyWindow is how long a recent successful data-plane call
// suppresses a readiness re-probe on the hot path (§4.4.1).
const LastHealthyWindow = 300 * time.Second

// ModelCacheTTL is the TTL for the cached served-model name (§4.4.5).
const ModelCacheTTL = 3600 * time.Second
