package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"workescrow/native/fees"
	"workescrow/storage"
)

// Config is the escrowd node configuration persisted as TOML.
type Config struct {
	DataDir           string `toml:"DataDir"`
	StateBackend      string `toml:"StateBackend"`
	Environment       string `toml:"Environment"`
	OwnerKeystorePath string `toml:"OwnerKeystorePath"`
	PolicyFile        string `toml:"PolicyFile"`
	GatewayConfigFile string `toml:"GatewayConfigFile"`

	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Audit     AuditConfig     `toml:"audit"`
	Fees      fees.Schedule   `toml:"fees"`
	Events    EventsConfig    `toml:"events"`
}

type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// AuditConfig selects the audit log store. An empty driver disables it.
type AuditConfig struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

type EventsConfig struct {
	SubscriberBuffer int `toml:"SubscriberBuffer"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
		if !meta.IsDefined("fees") {
			cfg.Fees = fees.DefaultSchedule
		}
	}

	cfg.applyDefaults(path)
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaultConfig(path string) *Config {
	return &Config{
		DataDir:           "./escrow-data",
		StateBackend:      storage.BackendLevelDB,
		Environment:       "dev",
		OwnerKeystorePath: defaultKeystorePath(path),
		Log:               LogConfig{Level: "info"},
		Fees:              fees.DefaultSchedule,
		Events:            EventsConfig{SubscriberBuffer: 64},
		Telemetry:         TelemetryConfig{Endpoint: "localhost:4318", Insecure: true},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := defaultConfig(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults(path string) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrow-data"
	}
	cfg.StateBackend = strings.ToLower(strings.TrimSpace(cfg.StateBackend))
	if cfg.StateBackend == "" {
		cfg.StateBackend = storage.BackendLevelDB
	}
	if strings.TrimSpace(cfg.OwnerKeystorePath) == "" {
		cfg.OwnerKeystorePath = defaultKeystorePath(path)
	}
	if cfg.Events.SubscriberBuffer <= 0 {
		cfg.Events.SubscriberBuffer = 64
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
}

// StatePath is the LevelDB directory, or the bolt file, holding escrow state.
func (cfg *Config) StatePath() string {
	if cfg.StateBackend == storage.BackendBolt {
		return filepath.Join(cfg.DataDir, "state.db")
	}
	return filepath.Join(cfg.DataDir, "state")
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
