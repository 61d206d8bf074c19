package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretEnv supplies auth.hmacSecret when the file leaves it empty.
const SecretEnv = "ESCROWD_GATEWAY_HMAC_SECRET"

const minSecretLength = 32

type RateLimitConfig struct {
	ID                string         `yaml:"id"`
	RequestsPerMinute float64        `yaml:"requestsPerMinute"`
	RatePerSecond     float64        `yaml:"ratePerSecond"`
	Burst             int            `yaml:"burst"`
	DefaultTokens     int            `yaml:"defaultTokens"`
	Tokens            map[string]int `yaml:"tokens"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Security      SecurityConfig      `yaml:"security"`
	CORS          CORSConfig          `yaml:"cors"`
}

type AuthConfig struct {
	Enabled        bool          `yaml:"enabled"`
	HMACSecret     string        `yaml:"hmacSecret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	ScopeClaim     string        `yaml:"scopeClaim"`
	OptionalPaths  []string      `yaml:"optionalPaths"`
	AllowAnonymous bool          `yaml:"allowAnonymous"`
	ClockSkew      time.Duration `yaml:"clockSkew"`
	TokenTTL       time.Duration `yaml:"tokenTTL"`
	ChallengeTTL   time.Duration `yaml:"challengeTTL"`
	// ChallengeStore is the LevelDB directory for login challenges. Empty
	// places it under the daemon data directory.
	ChallengeStore    string `yaml:"challengeStore"`
	allowAnonymousSet bool   `yaml:"-"`
	enabledSet        bool   `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled        *bool         `yaml:"enabled"`
		HMACSecret     string        `yaml:"hmacSecret"`
		Issuer         string        `yaml:"issuer"`
		Audience       string        `yaml:"audience"`
		ScopeClaim     string        `yaml:"scopeClaim"`
		OptionalPaths  []string      `yaml:"optionalPaths"`
		AllowAnonymous *bool         `yaml:"allowAnonymous"`
		ClockSkew      time.Duration `yaml:"clockSkew"`
		TokenTTL       time.Duration `yaml:"tokenTTL"`
		ChallengeTTL   time.Duration `yaml:"challengeTTL"`
		ChallengeStore string        `yaml:"challengeStore"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Enabled = raw.Enabled != nil && *raw.Enabled
	a.enabledSet = raw.Enabled != nil
	a.HMACSecret = raw.HMACSecret
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.ScopeClaim = raw.ScopeClaim
	a.OptionalPaths = raw.OptionalPaths
	a.AllowAnonymous = raw.AllowAnonymous != nil && *raw.AllowAnonymous
	a.allowAnonymousSet = raw.AllowAnonymous != nil
	a.ClockSkew = raw.ClockSkew
	a.TokenTTL = raw.TokenTTL
	a.ChallengeTTL = raw.ChallengeTTL
	a.ChallengeStore = raw.ChallengeStore
	return nil
}

type SecurityConfig struct {
	AllowInsecure   bool   `yaml:"allowInsecure"`
	TLSCertFile     string `yaml:"tlsCertFile"`
	TLSKeyFile      string `yaml:"tlsKeyFile"`
	TLSClientCAFile string `yaml:"tlsClientCAFile"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddress: "127.0.0.1:8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Observability: ObservabilityConfig{
			ServiceName:   "escrowd-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "gateway",
		},
		Auth: AuthConfig{
			Enabled:        true,
			Issuer:         "escrowd",
			Audience:       "escrow-api",
			ScopeClaim:     "scope",
			AllowAnonymous: false,
			ClockSkew:      2 * time.Minute,
			TokenTTL:       time.Hour,
			ChallengeTTL:   5 * time.Minute,
			enabledSet:     true,
		},
	}
}

// Load decodes the YAML gateway configuration at path over the defaults.
// An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyAuthDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyAuthDefaults() {
	if cfg == nil {
		return
	}
	if !cfg.Auth.enabledSet {
		cfg.Auth.Enabled = true
		cfg.Auth.enabledSet = true
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.Auth.ChallengeTTL <= 0 {
		cfg.Auth.ChallengeTTL = 5 * time.Minute
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		cfg.Auth.HMACSecret = strings.TrimSpace(os.Getenv(SecretEnv))
	}
	if !cfg.Auth.allowAnonymousSet {
		cfg.Auth.AllowAnonymous = false
	}
}

var (
	ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set when TLS is configured")
	ErrWeakSecret               = errors.New("auth.hmacSecret must be at least 32 bytes")
)

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.Enabled && len(strings.TrimSpace(cfg.Auth.HMACSecret)) < minSecretLength {
		return fmt.Errorf("%w (set it in the file or %s)", ErrWeakSecret, SecretEnv)
	}
	if cfg.Auth.AllowAnonymous && !cfg.Auth.allowAnonymousSet {
		return fmt.Errorf("auth.allowAnonymous must be explicitly set to true to enable anonymous access")
	}
	trimmed := make([]string, len(cfg.Auth.OptionalPaths))
	for i, path := range cfg.Auth.OptionalPaths {
		trimmedPath := strings.TrimSpace(path)
		if trimmedPath == "" {
			return fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		}
		if !strings.HasPrefix(trimmedPath, "/") {
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		trimmed[i] = trimmedPath
	}
	cfg.Auth.OptionalPaths = trimmed
	if cfg.Auth.Enabled && cfg.Auth.AllowAnonymous && len(cfg.Auth.OptionalPaths) == 0 {
		return fmt.Errorf("auth.optionalPaths must list at least one entry when auth.allowAnonymous is true")
	}
	for i, limit := range cfg.RateLimits {
		if strings.TrimSpace(limit.ID) == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if limit.Burst < 0 || limit.DefaultTokens < 0 {
			return fmt.Errorf("rateLimits[%d] cannot use negative burst or tokens", i)
		}
	}
	if (cfg.Security.TLSCertFile == "") != (cfg.Security.TLSKeyFile == "") {
		return fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must both be provided when enabling TLS")
	}
	return nil
}

// RateLimitByID returns the limit configured under id.
func (cfg Config) RateLimitByID(id string) (*RateLimitConfig, bool) {
	for _, limit := range cfg.RateLimits {
		if limit.ID == id {
			return &limit, true
		}
	}
	return nil, false
}

func (cfg *Config) isSensitiveDeployment() bool {
	if cfg == nil {
		return false
	}
	return strings.TrimSpace(cfg.Security.TLSCertFile) != "" ||
		strings.TrimSpace(cfg.Security.TLSKeyFile) != "" ||
		strings.TrimSpace(cfg.Security.TLSClientCAFile) != ""
}
