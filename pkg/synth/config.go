package synth

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bookvoice/bookvoice/pkg/synth/perf"
)

// Selection strategies for picking an adapter when the caller does not
// name one.
const (
	// SelectDefault always uses the configured default adapter.
	SelectDefault = "default"

	// SelectBestQuality picks the available adapter with the highest
	// capability quality score.
	SelectBestQuality = "best-quality"

	// SelectRoundRobin rotates through available adapters.
	SelectRoundRobin = "round-robin"
)

// Config holds the orchestration settings.
type Config struct {
	// Default adapter used when a request does not name one
	DefaultAdapter string `yaml:"default_adapter" mapstructure:"default_adapter"`

	// Ordered fallback chain tried after the selected adapter fails
	FallbackChain []string `yaml:"fallback_chain" mapstructure:"fallback_chain"`

	// Adapter selection strategy: default, best-quality, round-robin
	SelectionStrategy string `yaml:"selection_strategy" mapstructure:"selection_strategy"`

	// Health check probe timeout
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" mapstructure:"health_check_timeout"`

	// Retry policy for transient failures
	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`

	// Performance monitoring settings
	Perf perf.Config `yaml:"performance" mapstructure:"performance"`
}

// DefaultConfig returns the orchestration defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultAdapter:     "espeak",
		FallbackChain:      []string{"espeak", "gtts"},
		SelectionStrategy:  SelectDefault,
		HealthCheckTimeout: 10 * time.Second,
		Retry:              DefaultRetryConfig(),
		Perf:               perf.DefaultConfig(),
	}
}

// Validate rejects configurations the manager cannot run with.
func (c *Config) Validate() error {
	switch c.SelectionStrategy {
	case SelectDefault, SelectBestQuality, SelectRoundRobin:
	default:
		return NewConfigError(fmt.Sprintf("unknown selection strategy %q", c.SelectionStrategy), nil)
	}
	if c.Retry.MaxRetries < 0 {
		return NewConfigError("retry max_retries cannot be negative", nil)
	}
	if c.Retry.Multiplier < 1 {
		return NewConfigError("retry multiplier must be at least 1", nil)
	}
	return nil
}

// configPaths returns the paths checked for a config file, most specific
// first.
func configPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".bookvoice", "synth.yml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bookvoice", "synth.yml"))
	}
	return paths
}

// LoadConfig reads the orchestration config from the first config file
// found, falling back to defaults when none exists.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	config := DefaultConfig()

	var found bool
	for _, path := range configPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			log.Warn("Failed to read synthesis config", "path", path, "error", err)
			continue
		}
		if err := v.Unmarshal(config); err != nil {
			log.Warn("Failed to parse synthesis config", "path", path, "error", err)
			continue
		}
		log.Info("Loaded synthesis configuration", "path", path)
		found = true
		break
	}
	if !found {
		log.Debug("No synthesis config file found, using defaults")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the configuration as YAML, creating the directory as
// needed.
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info("Saved synthesis configuration", "path", path)
	return nil
}

// GenerateExampleConfig renders a commented example config file.
func GenerateExampleConfig() string {
	config := DefaultConfig()
	data, _ := yaml.Marshal(config)

	header := `# Bookvoice synthesis configuration
#
# Place this file at:
#   - ./.bookvoice/synth.yml (project-specific)
#   - ~/.config/bookvoice/synth.yml (user-wide)
#
# The project-specific config takes precedence.

`
	return header + string(data)
}
