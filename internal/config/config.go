// Package config holds the ambient YAML-driven configuration for
// cmd/gameserver, in the teacher's own config style: plain structs with
// yaml tags, a Default*() constructor supplying sensible defaults, and a
// loader that falls back to defaults when the file is absent rather than
// failing startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server is the top-level configuration for the game server core.
type Server struct {
	Network     NetworkConfig     `yaml:"network"`
	Reactor     ReactorConfig     `yaml:"reactor"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Handshake   HandshakeConfig   `yaml:"handshake"`
	World       WorldConfig       `yaml:"world"`
	Persistence PersistenceConfig `yaml:"persistence"`
	LogLevel    string            `yaml:"log_level"`
}

// NetworkConfig controls the listening socket.
type NetworkConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// ReactorConfig controls the connection reactor's worker pool and
// backpressure cap.
type ReactorConfig struct {
	WorkerCount        int `yaml:"worker_count"`
	MaxUnsentBytes     int `yaml:"max_unsent_bytes"`
	ReadTimeoutMillis  int `yaml:"read_timeout_millis"`
	WriteTimeoutMillis int `yaml:"write_timeout_millis"`
	SendQueueSize      int `yaml:"send_queue_size"`
}

// SchedulerConfig controls the background worker pool used for decoded-
// packet handlers and column generation/population tasks.
type SchedulerConfig struct {
	WorkerCount int `yaml:"worker_count"`
}

// HandshakeConfig controls handshake timing.
type HandshakeConfig struct {
	KeepAliveIntervalSeconds  int `yaml:"keep_alive_interval_seconds"`
	KeepAliveTimeoutSeconds   int `yaml:"keep_alive_timeout_seconds"`
	InactivityTimeoutSeconds  int `yaml:"inactivity_timeout_seconds"`
}

// WorldConfig controls the column-addressed world store.
type WorldConfig struct {
	ViewDistance           int `yaml:"view_distance"`
	MaxCompressedColumnKiB int `yaml:"max_compressed_column_kib"`
}

// PersistenceConfig selects and configures the storage adapter. Backend
// is intentionally just a label in core: wiring an actual backend (SQL,
// KV store) is left to the deployment, matching spec §1's exclusion of
// the concrete data provider from core scope.
type PersistenceConfig struct {
	Backend string `yaml:"backend"`
}

// Default returns a Server configuration with sensible defaults for
// running the core standalone against the in-memory persistence adapter.
func Default() Server {
	return Server{
		Network: NetworkConfig{
			BindAddress: "0.0.0.0",
			Port:        25565,
		},
		Reactor: ReactorConfig{
			WorkerCount:        8,
			MaxUnsentBytes:     1 << 20,
			ReadTimeoutMillis:  30000,
			WriteTimeoutMillis: 5000,
			SendQueueSize:      256,
		},
		Scheduler: SchedulerConfig{
			WorkerCount: 4,
		},
		Handshake: HandshakeConfig{
			KeepAliveIntervalSeconds: 15,
			KeepAliveTimeoutSeconds:  30,
			InactivityTimeoutSeconds: 60,
		},
		World: WorldConfig{
			ViewDistance:           10,
			MaxCompressedColumnKiB: 1024,
		},
		Persistence: PersistenceConfig{
			Backend: "memory",
		},
		LogLevel: "info",
	}
}

// Load reads a Server configuration from a YAML file, falling back to
// Default() if path does not exist.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// PathFromEnv returns the config path from the given environment
// variable, or fallback if it is unset, mirroring the teacher's
// LA2GO_*_CONFIG env-var override convention.
func PathFromEnv(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}
