package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talkie.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDevice(t *testing.T) {
	path := writeConfig(t, `
device_id: box-1
device_name: kitchen
hub_url: wss://hub.example.com/ws
data_dir: /var/lib/talkie
friends:
  - id: alice
    name: Alice
    device_id: box-2
  - id: bob
    name: Bob
    device_id: box-3
`)

	cfg, err := LoadDevice(path)
	require.NoError(t, err)
	assert.Equal(t, "box-1", cfg.DeviceID)
	assert.Equal(t, "wss://hub.example.com/ws", cfg.HubURL)
	assert.Equal(t, []string{"box-2", "box-3"}, cfg.FriendRemoteIDs())
	assert.Equal(t, filepath.Join("/var/lib/talkie", "state.json"), cfg.StatePath())
	assert.Equal(t, filepath.Join("/var/lib/talkie", "audio_messages"), cfg.AudioDir())
}

func TestLoadDeviceDefaults(t *testing.T) {
	path := writeConfig(t, "device_id: box-1\n")

	cfg, err := LoadDevice(path)
	require.NoError(t, err)
	assert.Equal(t, "talkie", cfg.DeviceName)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.HubURL)
	assert.Equal(t, "./data", cfg.DataDir)
}

func TestLoadDeviceRequiresDeviceID(t *testing.T) {
	path := writeConfig(t, "device_name: kitchen\n")
	_, err := LoadDevice(path)
	assert.ErrorContains(t, err, "device_id is required")
}

func TestLoadDeviceRejectsDuplicateFriends(t *testing.T) {
	path := writeConfig(t, `
device_id: box-1
friends:
  - id: alice
    device_id: box-2
  - id: alice
    device_id: box-3
`)
	_, err := LoadDevice(path)
	assert.ErrorContains(t, err, "duplicate friend id")
}

func TestLoadDeviceRejectsIncompleteFriend(t *testing.T) {
	path := writeConfig(t, `
device_id: box-1
friends:
  - id: alice
`)
	_, err := LoadDevice(path)
	assert.ErrorContains(t, err, "friend entries need id and device_id")
}

func TestLoadHubDefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadHub(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 300, cfg.SweepInterval)
}

func TestLoadHubOverrides(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
db_path: /tmp/reg.db
sweep_interval: 60
`)
	cfg, err := LoadHub(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/tmp/reg.db", cfg.DBPath)
	assert.Equal(t, 60, cfg.SweepInterval)
}
