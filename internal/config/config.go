package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/gnn-trainconf/internal/registry"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultMaxBodyBytes   = 1 << 20
	defaultLogLevel       = "info"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string              `yaml:"port"`
	ShutdownGracePeriod  time.Duration       `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    time.Duration       `yaml:"read_header_timeout"`
	WriteTimeout         time.Duration       `yaml:"write_timeout"`
	IdleTimeout          time.Duration       `yaml:"idle_timeout"`
	EnableRequestLogging bool                `yaml:"enable_request_logging"`
	LogLevel             string              `yaml:"log_level"`
	CheckPaths           bool                `yaml:"check_paths"`
	StrictBatchSize      bool                `yaml:"strict_batch_size"`
	MaxBodyBytes         int64               `yaml:"max_body_bytes"`
	Components           map[string][]string `yaml:"components"`
	RateLimitRPS         float64             `yaml:"-"`
	RateLimitBurst       int                 `yaml:"-"`
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string              `yaml:"port"`
	ShutdownGracePeriod  string              `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string              `yaml:"read_header_timeout"`
	WriteTimeout         string              `yaml:"write_timeout"`
	IdleTimeout          string              `yaml:"idle_timeout"`
	EnableRequestLogging *bool               `yaml:"enable_request_logging"`
	LogLevel             string              `yaml:"log_level"`
	CheckPaths           *bool               `yaml:"check_paths"`
	StrictBatchSize      *bool               `yaml:"strict_batch_size"`
	MaxBodyBytes         int64               `yaml:"max_body_bytes"`
	Components           map[string][]string `yaml:"components"`
	RateLimit            *yamlRateLimit      `yaml:"rate_limit"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	LogLevel       *string
	CheckPaths     *bool
	StrictBatch    *bool
	MaxBodyBytes   *int64
	Components     []string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Apply environment variables
	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	// Load from YAML file if specified (overrides environment)
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Config{}, err
		}
	}

	// Validate final configuration
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		LogLevel:             defaultLogLevel,
		MaxBodyBytes:         defaultMaxBodyBytes,
		Components:           map[string][]string{},
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	durations := []struct {
		raw    string
		target *time.Duration
		name   string
	}{
		{yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod, "shutdown_grace_period"},
		{yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout, "read_header_timeout"},
		{yamlCfg.WriteTimeout, &cfg.WriteTimeout, "write_timeout"},
		{yamlCfg.IdleTimeout, &cfg.IdleTimeout, "idle_timeout"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.CheckPaths != nil {
		cfg.CheckPaths = *yamlCfg.CheckPaths
	}
	if yamlCfg.StrictBatchSize != nil {
		cfg.StrictBatchSize = *yamlCfg.StrictBatchSize
	}
	if yamlCfg.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = yamlCfg.MaxBodyBytes
	}
	mergeComponents(cfg, yamlCfg.Components)

	if yamlCfg.RateLimit != nil {
		if yamlCfg.RateLimit.RPS >= 0 {
			cfg.RateLimitRPS = yamlCfg.RateLimit.RPS
		}
		if yamlCfg.RateLimit.Burst >= 0 {
			cfg.RateLimitBurst = yamlCfg.RateLimit.Burst
		}
	}
	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if raw := strings.TrimSpace(os.Getenv("CHECK_PATHS")); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.CheckPaths = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STRICT_BATCH_SIZE")); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.StrictBatchSize = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAX_BODY_BYTES")); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil && value > 0 {
			cfg.MaxBodyBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("EXTRA_COMPONENTS")); raw != "" {
		components, err := parseComponents(raw)
		if err != nil {
			return fmt.Errorf("EXTRA_COMPONENTS: %w", err)
		}
		mergeComponents(cfg, components)
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) error {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.CheckPaths != nil {
		cfg.CheckPaths = *overrides.CheckPaths
	}

	if overrides.StrictBatch != nil {
		cfg.StrictBatchSize = *overrides.StrictBatch
	}

	if overrides.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *overrides.MaxBodyBytes
	}

	if len(overrides.Components) > 0 {
		components, err := parseComponents(strings.Join(overrides.Components, ","))
		if err != nil {
			return fmt.Errorf("--component: %w", err)
		}
		mergeComponents(cfg, components)
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
	return nil
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	for kind := range cfg.Components {
		if _, err := registry.ParseKind(kind); err != nil {
			return fmt.Errorf("components: %q: %w", kind, err)
		}
	}
	return nil
}

func mergeComponents(cfg *Config, extra map[string][]string) {
	if cfg.Components == nil {
		cfg.Components = map[string][]string{}
	}
	for kind, names := range extra {
		cfg.Components[kind] = append(cfg.Components[kind], names...)
	}
}

// parseComponents parses a comma-separated list of kind:name pairs, e.g.
// "parser:parse_custom,model:my_gnn".
func parseComponents(raw string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, name, ok := strings.Cut(part, ":")
		kind, name = strings.TrimSpace(kind), strings.TrimSpace(name)
		if !ok || kind == "" || name == "" {
			return nil, fmt.Errorf("invalid component %q, want kind:name", part)
		}
		out[kind] = append(out[kind], name)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no components provided")
	}
	return out, nil
}
