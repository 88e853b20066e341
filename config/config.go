// Package config provides configuration loading for the cellmesh control
// plane. Workers are configured purely by environment variables and do not
// read these files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/cellmesh/telemetry"
)

// Config is the complete control-plane configuration.
type Config struct {
	NATS      NATSConfig       `yaml:"nats"`
	Store     StoreConfig      `yaml:"store"`
	API       APIConfig        `yaml:"api"`
	Workspace WorkspaceConfig  `yaml:"workspace"`
	Models    ModelsConfig     `yaml:"models"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Log       LogConfig        `yaml:"log"`
}

// NATSConfig configures the messaging bus.
type NATSConfig struct {
	// URL is the NATS server URL (empty = embedded server).
	URL string `yaml:"url"`
	// Embedded runs an in-process NATS server.
	Embedded bool `yaml:"embedded"`
}

// StoreConfig configures the operational store.
type StoreConfig struct {
	// PostgresDSN is the operational database connection string
	// (empty = in-memory store, embedded mode only).
	PostgresDSN string `yaml:"postgresDsn"`
	// Migrate runs schema migrations at startup.
	Migrate bool `yaml:"migrate"`
}

// APIConfig configures the HTTP translator.
type APIConfig struct {
	// Listen is the address the API binds to.
	Listen string `yaml:"listen"`
}

// WorkspaceConfig configures formation workspaces.
type WorkspaceConfig struct {
	// Root is the directory formation workspaces are created under.
	Root string `yaml:"root"`
}

// ModelsConfig configures the model registry.
type ModelsConfig struct {
	// RegistryPath points at a model registry JSON file
	// (empty = built-in defaults).
	RegistryPath string `yaml:"registryPath"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with embedded-mode defaults.
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Store: StoreConfig{
			PostgresDSN: "",
			Migrate:     true,
		},
		API: APIConfig{
			Listen: ":8080",
		},
		Workspace: WorkspaceConfig{
			Root: filepath.Join(os.TempDir(), "cellmesh-workspaces"),
		},
		Models: ModelsConfig{
			RegistryPath: "",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.NATS.URL == "" && !c.NATS.Embedded {
		return fmt.Errorf("nats.url is required when nats.embedded is false")
	}
	if c.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Merge overlays another config; non-zero values in other take precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	if other.Store.PostgresDSN != "" {
		c.Store.PostgresDSN = other.Store.PostgresDSN
	}

	if other.API.Listen != "" {
		c.API.Listen = other.API.Listen
	}

	if other.Workspace.Root != "" {
		c.Workspace.Root = other.Workspace.Root
	}

	if other.Models.RegistryPath != "" {
		c.Models.RegistryPath = other.Models.RegistryPath
	}

	if other.Telemetry.Enabled {
		c.Telemetry = other.Telemetry
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}

// ApplyEnvOverrides applies CELLMESH_* environment variables with the highest
// precedence.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CELLMESH_NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Embedded = false
	}
	if v := os.Getenv("CELLMESH_POSTGRES_DSN"); v != "" {
		c.Store.PostgresDSN = v
	}
	if v := os.Getenv("CELLMESH_API_LISTEN"); v != "" {
		c.API.Listen = v
	}
	if v := os.Getenv("CELLMESH_WORKSPACE_ROOT"); v != "" {
		c.Workspace.Root = v
	}
	if v := os.Getenv("CELLMESH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CELLMESH_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}
}
