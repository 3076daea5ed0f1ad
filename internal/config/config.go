package config

import (
	"flag"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceConfig holds the shared tuning knobs every collector receives.
type SourceConfig struct {
	CollectionIntervalMs int `yaml:"collection_interval_ms"`
	BatchSize            int `yaml:"batch_size"`
	BatchTimeoutMs       int `yaml:"batch_timeout_ms"`
}

// DockerConfig configures the container-runtime collector. An empty
// Endpoint means "not configured" and the collector idles.
type DockerConfig struct {
	Endpoint     string `yaml:"endpoint"` // e.g. unix:///var/run/docker.sock
	SourceConfig `yaml:",inline"`
}

// StorageHostConfig configures one remote storage-pool host reached
// over SSH. Host and User are required; either Password or KeyFile.
type StorageHostConfig struct {
	Host         string `yaml:"host"` // host:port
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	KeyFile      string `yaml:"key_file"`
	SourceConfig `yaml:",inline"`
}

// PVEConfig configures the virtualization-cluster collector. TokenID
// and Secret form the API token (user@realm!name=secret).
type PVEConfig struct {
	BaseURL      string `yaml:"base_url"` // e.g. https://pve:8006
	TokenID      string `yaml:"token_id"`
	Secret       string `yaml:"secret"`
	InsecureTLS  bool   `yaml:"insecure_tls"`
	SourceConfig `yaml:",inline"`
}

// Config holds the application configuration.
type Config struct {
	Listen         string `yaml:"listen"`
	DBPath         string `yaml:"database"`
	PidFile        string `yaml:"pid_file"`
	LogFile        string `yaml:"log_file"`
	RetentionHours int    `yaml:"retention_hours"`

	Docker       DockerConfig        `yaml:"docker"`
	StorageHosts []StorageHostConfig `yaml:"storage_hosts"`
	PVE          PVEConfig           `yaml:"pve"`
	Host         SourceConfig        `yaml:"host"`

	// Parsed from command line (not YAML)
	ConfigPath string `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	def := SourceConfig{
		CollectionIntervalMs: 5000,
		BatchSize:            50,
		BatchTimeoutMs:       2000,
	}
	return &Config{
		Listen:         "127.0.0.1:9924",
		DBPath:         "homelabd.db",
		PidFile:        "homelabd.pid",
		LogFile:        "homelabd.log",
		RetentionHours: 48,
		Docker:         DockerConfig{SourceConfig: def},
		PVE:            PVEConfig{SourceConfig: def},
		Host:           def,
		ConfigPath:     "config.yaml",
	}
}

// Load reads configuration with priority: defaults < config.yaml < env vars < flags.
// It expects os.Args to already have the subcommand stripped (if any).
func Load() *Config {
	cfg := DefaultConfig()

	// 1) Pre-scan for -config flag before parsing (so we know which file to read)
	configPath := cfg.ConfigPath
	for i, arg := range os.Args[1:] {
		if arg == "-config" || arg == "--config" {
			if i+1 < len(os.Args)-1 {
				configPath = os.Args[i+2]
			}
		} else if strings.HasPrefix(arg, "-config=") || strings.HasPrefix(arg, "--config=") {
			configPath = strings.SplitN(arg, "=", 2)[1]
		}
	}

	// 2) Load YAML config file
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Printf("[config] warning: failed to parse %s: %v", configPath, err)
		}
	}
	cfg.ConfigPath = configPath

	// 3) Environment variables override YAML
	if v := os.Getenv("HOMELABD_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("HOMELABD_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HOMELABD_DOCKER_ENDPOINT"); v != "" {
		cfg.Docker.Endpoint = v
	}
	if v := os.Getenv("HOMELABD_PVE_URL"); v != "" {
		cfg.PVE.BaseURL = v
	}
	if v := os.Getenv("HOMELABD_PVE_TOKEN"); v != "" {
		cfg.PVE.TokenID = v
	}
	if v := os.Getenv("HOMELABD_PVE_SECRET"); v != "" {
		cfg.PVE.Secret = v
	}

	// 4) Flags override everything
	flag.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to config.yaml")
	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address (host:port)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.PidFile, "pid-file", cfg.PidFile, "PID file path")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file path")
	flag.Parse()

	cfg.normalize()
	return cfg
}

// normalize backfills zero-valued source knobs with defaults so a
// partially-specified YAML block still produces a usable collector.
func (c *Config) normalize() {
	def := DefaultConfig().Host
	fix := func(sc *SourceConfig) {
		if sc.CollectionIntervalMs <= 0 {
			sc.CollectionIntervalMs = def.CollectionIntervalMs
		}
		if sc.BatchSize <= 0 {
			sc.BatchSize = def.BatchSize
		}
		if sc.BatchTimeoutMs <= 0 {
			sc.BatchTimeoutMs = def.BatchTimeoutMs
		}
	}
	fix(&c.Docker.SourceConfig)
	fix(&c.PVE.SourceConfig)
	fix(&c.Host)
	for i := range c.StorageHosts {
		fix(&c.StorageHosts[i].SourceConfig)
	}
}
