// Package config loads the daemon's optional TOML configuration file (spec
// §6): every key is optional, and the file itself may not exist, in which
// case all defaults apply.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// AppManagement controls whether the apps sub-actor accepts deploy/stop
// requests at all.
type AppManagement string

const (
	AppManagementAllow AppManagement = "allow"
	AppManagementDeny  AppManagement = "deny"
)

// Config mirrors the recognized keys of spec §6's config.toml.
type Config struct {
	Interfaces          []string      `toml:"interfaces"`
	BatmanInterface     string        `toml:"batman-interface"`
	WifiInterface       string        `toml:"wifi-interface"`
	StoreDirectory      string        `toml:"store-directory"`
	DbFile              string        `toml:"db-file"`
	KeyFile             string        `toml:"key-file"`
	RandomDirectory     bool          `toml:"random-directory"`
	AppManagement       AppManagement `toml:"app-management"`
	LogDir              string        `toml:"log-dir"`
	LogLevel            string        `toml:"log-level"`
	CliSocketPath       string        `toml:"cli-socket-path"`
	CliSocketAddr       string        `toml:"cli-socket-addr"`
	GossipsubMeshN      int           `toml:"gossipsub-mesh-n"`
	GossipsubHeartbeat  time.Duration `toml:"gossipsub-heartbeat-interval"`
	RefreshInterval     time.Duration `toml:"refresh-interval"`
	NeighbourTimeout    time.Duration `toml:"neighbour-timeout"`
	RequestRetries      int           `toml:"request-retries"`
	RequestTimeout      time.Duration `toml:"request-timeout"`
}

// SearchPaths are tried in order; the first one that exists is loaded.
var SearchPaths = []string{
	"/etc/hyveos/config.toml",
	"/usr/lib/hyveos/config.toml",
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	return Config{
		AppManagement:      AppManagementAllow,
		LogLevel:           "info",
		GossipsubMeshN:     6,
		GossipsubHeartbeat: time.Second,
		RefreshInterval:    time.Second,
		NeighbourTimeout:   10 * time.Second,
		RequestRetries:     3,
		RequestTimeout:     2 * time.Second,
	}
}

// Load searches SearchPaths in order and merges the first file found onto
// Default(). If no file exists, Default() is returned unmodified.
func Load() (Config, error) {
	cfg := Default()
	for _, path := range SearchPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
		return cfg, nil
	}
	return cfg, nil
}

// LoadFrom decodes a specific file path onto Default(), bypassing
// SearchPaths. Used by tests and by callers that pass an explicit path.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
