package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-go/camprobe"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	v, err := New("")
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, camprobe.DefaultConfig(), cfg)
	assert.Nil(t, cfg.Auth())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camprobe.yaml")
	yaml := `subnet: 10.0.0.0/24
discovery_timeout: 3s
rtsp_paths:
  - /stream1
  - /stream2
sweep_ports: [554]
username: admin
password: secret
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CAMPROBE_CONNECT_TIMEOUT", "2s")

	v, err := New(path)
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", cfg.Subnet)
	assert.Equal(t, 3*time.Second, cfg.DiscoveryTimeout)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, []string{"/stream1", "/stream2"}, cfg.RTSPPaths)
	assert.Equal(t, []int{554}, cfg.SweepPorts)
	assert.Equal(t, &camprobe.Auth{Username: "admin", Password: "secret"}, cfg.Auth())
}

func TestLoadRejectsBadSubnet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CAMPROBE_SUBNET", "not-a-subnet")

	v, err := New("")
	require.NoError(t, err)

	_, err = Load(v)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestNewMissingExplicitFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
