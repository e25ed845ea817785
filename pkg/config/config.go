// Package config provides configuration loading for Reservoir pools.
// It defines a Settings structure describing pool sizing and eviction
// behavior, loadable from YAML files with environment variable
// substitution, plus validation and defaulting.
//
// Example usage:
//
//	settings := config.DefaultSettings("db-connections")
//	if err := config.Load("pool.yaml", settings); err != nil {
//	    log.Fatal(err)
//	}
//	if err := settings.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	reserrors "github.com/ajitpratap0/reservoir/pkg/errors"
)

// Settings describes the tunable behavior of a single pool instance.
type Settings struct {
	// Name identifies the pool in logs and metrics
	Name string `yaml:"name" json:"name"`

	// Sizing controls pool bounds and admission
	Sizing SizingSettings `yaml:"sizing" json:"sizing"`

	// Eviction controls the background strategy
	Eviction EvictionSettings `yaml:"eviction" json:"eviction"`

	// Logging controls the structured logger
	Logging LoggingSettings `yaml:"logging" json:"logging"`

	// EnableMetrics turns on Prometheus instrumentation
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// SizingSettings contains pool sizing and admission parameters.
type SizingSettings struct {
	// MinSize is the lower bound on pool size
	MinSize int `yaml:"min_size" json:"min_size"`
	// MaxSize is the upper bound on pool size
	MaxSize int `yaml:"max_size" json:"max_size"`
	// Concurrency is the number of simultaneous borrowers per item
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// TargetUtilization is the fraction of per-item capacity the pool
	// tries to keep busy before growing, in [0.1, 1]
	TargetUtilization float64 `yaml:"target_utilization" json:"target_utilization"`
}

// EvictionSettings contains background eviction parameters.
type EvictionSettings struct {
	// TTL is the item time-to-live; zero disables eviction
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// Strategy selects the eviction behavior: "none", "creation" or "usage"
	Strategy string `yaml:"strategy" json:"strategy"`
}

// LoggingSettings contains structured logging parameters.
type LoggingSettings struct {
	Level    string `yaml:"level" json:"level"`
	Encoding string `yaml:"encoding" json:"encoding"`
}

// DefaultSettings returns settings with sensible defaults for the named pool.
func DefaultSettings(name string) *Settings {
	return &Settings{
		Name: name,
		Sizing: SizingSettings{
			MinSize:           1,
			MaxSize:           10,
			Concurrency:       1,
			TargetUtilization: 1.0,
		},
		Eviction: EvictionSettings{
			TTL:      0,
			Strategy: "none",
		},
		Logging: LoggingSettings{
			Level:    "info",
			Encoding: "json",
		},
		EnableMetrics: true,
	}
}

// Validate checks the settings for consistency.
func (s *Settings) Validate() error {
	if s.Name == "" {
		return reserrors.New(reserrors.ErrorTypeConfig, "pool name is required")
	}
	if s.Sizing.MinSize < 0 {
		return reserrors.New(reserrors.ErrorTypeConfig, "min_size must be >= 0")
	}
	if s.Sizing.MaxSize < 1 {
		return reserrors.New(reserrors.ErrorTypeConfig, "max_size must be >= 1")
	}
	if s.Sizing.MinSize > s.Sizing.MaxSize {
		return reserrors.New(reserrors.ErrorTypeConfig, "min_size must be <= max_size").
			WithDetail("min_size", s.Sizing.MinSize).
			WithDetail("max_size", s.Sizing.MaxSize)
	}
	if s.Sizing.Concurrency < 1 {
		return reserrors.New(reserrors.ErrorTypeConfig, "concurrency must be >= 1")
	}
	if s.Sizing.TargetUtilization < 0.1 || s.Sizing.TargetUtilization > 1 {
		return reserrors.New(reserrors.ErrorTypeConfig, "target_utilization must be in [0.1, 1]").
			WithDetail("target_utilization", s.Sizing.TargetUtilization)
	}
	switch s.Eviction.Strategy {
	case "", "none":
	case "creation", "usage":
		if s.Eviction.TTL <= 0 {
			return reserrors.New(reserrors.ErrorTypeConfig, "ttl must be > 0 for ttl strategies")
		}
	default:
		return reserrors.New(reserrors.ErrorTypeConfig, "unknown eviction strategy").
			WithDetail("strategy", s.Eviction.Strategy)
	}
	return nil
}

// Load loads a configuration from a YAML file into config.
// Occurrences of ${VAR_NAME} in the file are replaced with the
// corresponding environment variable values before parsing.
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller and validated
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
