// Package config loads the YAML configuration for the device daemon and
// the relay hub.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Friend is a statically configured peer this device may message.
type Friend struct {
	ID       string `yaml:"id"`        // local friend key (button slot)
	Name     string `yaml:"name"`      // display name
	DeviceID string `yaml:"device_id"` // remote device id at the hub
}

// Device is the device daemon configuration.
type Device struct {
	DeviceID   string   `yaml:"device_id"`
	DeviceName string   `yaml:"device_name"`
	HubURL     string   `yaml:"hub_url"`  // ws:// or wss:// endpoint of the relay hub
	DataDir    string   `yaml:"data_dir"` // state file and received audio live here
	Friends    []Friend `yaml:"friends"`
}

// DefaultDevice returns a device config with defaults filled in.
// DeviceID is left empty on purpose; it must come from the config file.
func DefaultDevice() *Device {
	return &Device{
		DeviceName: "talkie",
		HubURL:     "ws://localhost:8080/ws",
		DataDir:    "./data",
	}
}

// LoadDevice reads and validates a device config file.
func LoadDevice(path string) (*Device, error) {
	cfg := DefaultDevice()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Device) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if c.HubURL == "" {
		return fmt.Errorf("hub_url is required")
	}
	seen := make(map[string]bool, len(c.Friends))
	for _, f := range c.Friends {
		if f.ID == "" || f.DeviceID == "" {
			return fmt.Errorf("friend entries need id and device_id")
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate friend id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// EnsureDataDir creates the data directory tree the daemon writes into.
func (c *Device) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.AudioDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// StatePath is where the coordinator persists its message log.
func (c *Device) StatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// AudioDir is where received voice clips are written.
func (c *Device) AudioDir() string {
	return filepath.Join(c.DataDir, "audio_messages")
}

// FriendRemoteIDs returns the remote device ids of all configured friends,
// in config order. This is the friend list sent at registration.
func (c *Device) FriendRemoteIDs() []string {
	ids := make([]string, 0, len(c.Friends))
	for _, f := range c.Friends {
		ids = append(ids, f.DeviceID)
	}
	return ids
}

// Hub is the relay hub configuration.
type Hub struct {
	ListenAddr    string `yaml:"listen_addr"`
	DBPath        string `yaml:"db_path"`
	SweepInterval int    `yaml:"sweep_interval"` // seconds between metadata sweeps
}

// DefaultHub returns a hub config with defaults filled in.
func DefaultHub() *Hub {
	return &Hub{
		ListenAddr:    ":8080",
		DBPath:        "./data/registry.db",
		SweepInterval: 300,
	}
}

// LoadHub reads a hub config file. A missing file yields the defaults so
// `talkiehub serve` works out of the box.
func LoadHub(path string) (*Hub, error) {
	cfg := DefaultHub()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 300
	}
	return cfg, nil
}
