package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_RequiresRemoteBasePathAndUsername(t *testing.T) {
	clearEnv(t, "USER", "REMOTE_BASE_PATH")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("USER", "tester")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("REMOTE_BASE_PATH", "/remote/aifactory")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tester", cfg.Username)
	assert.Equal(t, "/remote/aifactory", cfg.RemoteBasePath)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t, "LOGIN_HOST", "LOGIN_PORT", "GATEWAY_ADDR")
	t.Setenv("USER", "tester")
	t.Setenv("REMOTE_BASE_PATH", "/remote/aifactory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "login.cluster.local", cfg.LoginHost)
	assert.Equal(t, 22, cfg.LoginPort)
	assert.Equal(t, ":8080", cfg.GatewayAddr)
}

func TestLoad_HonorsOverrides(t *testing.T) {
	t.Setenv("USER", "tester")
	t.Setenv("REMOTE_BASE_PATH", "/remote/aifactory")
	t.Setenv("LOGIN_PORT", "2222")
	t.Setenv("GATEWAY_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2222, cfg.LoginPort)
	assert.Equal(t, ":9090", cfg.GatewayAddr)
}
