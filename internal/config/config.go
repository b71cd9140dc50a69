// Package config loads node configuration from an optional YAML file with
// HOMEVAULT_* environment overrides. Environment values win over file
// values; flags (where present) win over both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvAddr         = "HOMEVAULT_ADDR"
	EnvStorePath    = "HOMEVAULT_STORE_PATH"
	EnvAllowPeerIDs = "HOMEVAULT_ALLOW_PEER_IDS"
	EnvLogLevel     = "HOMEVAULT_LOG_LEVEL"
)

// PeerEntry seeds the peer book with a statically known peer.
type PeerEntry struct {
	ID    string   `yaml:"id"`
	Addrs []string `yaml:"addrs"`
}

type Config struct {
	Addr                string      `yaml:"addr"`
	StorePath           string      `yaml:"store_path"`
	AllowPeerIDs        []string    `yaml:"allow_peer_ids"`
	Peers               []PeerEntry `yaml:"peers"`
	LogLevel            string      `yaml:"log_level"`
	MetricsSnapshotPath string      `yaml:"metrics_snapshot_path"`
}

// Default returns the configuration used when no file and no overrides are
// present. home is the node's state directory.
func Default(home string) Config {
	return Config{
		Addr:      "0.0.0.0:4747",
		StorePath: filepath.Join(home, "store"),
		LogLevel:  "info",
	}
}

// Load reads homevault.yaml from home if it exists, then applies
// environment overrides. A missing file is not an error.
func Load(home string) (Config, error) {
	cfg := Default(home)
	path := filepath.Join(home, "homevault.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}
	cfg.applyEnv()
	if cfg.Addr == "" {
		cfg.Addr = Default(home).Addr
	}
	if cfg.StorePath == "" {
		cfg.StorePath = Default(home).StorePath
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAddr); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv(EnvAllowPeerIDs); v != "" {
		c.AllowPeerIDs = splitCSV(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
