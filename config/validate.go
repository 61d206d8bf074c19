package config

import (
	"errors"
	"fmt"
	"strings"

	"workescrow/storage"
)

var ErrUnknownAuditDriver = errors.New("config: unknown audit driver")

// Validate checks the loaded configuration for values the daemon cannot run with.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	switch cfg.StateBackend {
	case "", storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("%w: %q", storage.ErrUnknownBackend, cfg.StateBackend)
	}
	if err := cfg.Fees.Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Audit.Driver)) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Audit.DSN) == "" {
			return fmt.Errorf("audit.DSN required for driver %s", cfg.Audit.Driver)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAuditDriver, cfg.Audit.Driver)
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.SampleRatio must be within [0,1]")
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits cannot be negative")
	}
	return nil
}
