// Package config loads perimeterd server configuration from a YAML file
// with environment variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use strings like "30m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the perimeterd server configuration.
type Config struct {
	// Listen is the HTTP listen address (e.g., ":8443")
	Listen string `yaml:"listen"`

	// Database is the SQLite database path.
	Database string `yaml:"database"`

	// SigningKey is the path to the PEM-encoded P-256 token signing key.
	// If empty, an ephemeral key is generated at startup and tokens do not
	// survive a restart.
	SigningKey string `yaml:"signing_key"`

	// Issuer and Audience are stamped into issued access tokens and
	// required on verification.
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// TokenTTL is the access token lifetime.
	TokenTTL Duration `yaml:"token_ttl"`

	// Debug exposes precise rejection reasons to clients. Leave false in
	// production so account probing sees a uniform failure.
	Debug bool `yaml:"debug"`

	Policy PolicyConfig `yaml:"policy"`

	Classifier ClassifierConfig `yaml:"classifier"`
}

// PolicyConfig controls which signals reject a request versus annotate it.
type PolicyConfig struct {
	FingerprintThreshold float64 `yaml:"fingerprint_threshold"`
	EnforceFingerprint   bool    `yaml:"enforce_fingerprint"`
	BlockBots            bool    `yaml:"block_bots"`
}

// ClassifierConfig overrides the behavioral classifier defaults.
type ClassifierConfig struct {
	FlagThreshold     int      `yaml:"flag_threshold"`
	RetentionHorizon  Duration `yaml:"retention_horizon"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8443",
		Database: "perimeter.db",
		Issuer:   "https://perimeter.local",
		Audience: "perimeter-api",
		TokenTTL: Duration(time.Hour),
		Policy: PolicyConfig{
			FingerprintThreshold: 0.7,
			BlockBots:            true,
		},
	}
}

// Load reads configuration from the given YAML file, layered over defaults.
// An empty path returns defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides.
func (c *Config) LoadFromEnv() {
	if addr := os.Getenv("PERIMETER_LISTEN"); addr != "" {
		c.Listen = addr
	}
	if db := os.Getenv("PERIMETER_DB"); db != "" {
		c.Database = db
	}
	if key := os.Getenv("PERIMETER_SIGNING_KEY"); key != "" {
		c.SigningKey = key
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("token issuer is required")
	}
	if c.Audience == "" {
		return fmt.Errorf("token audience is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Policy.FingerprintThreshold < 0 || c.Policy.FingerprintThreshold > 1 {
		return fmt.Errorf("fingerprint threshold must be between 0 and 1")
	}
	return nil
}
