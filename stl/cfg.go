package stl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/stlgen/common/go/logging"
	"github.com/yanet-platform/stlgen/stl/stream"
)

// Config is the configuration of the stlgen tool.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Generator configuration.
	Generator *stream.GeneratorConfig `yaml:"generator"`
	// Seed is the source of the random seeds stored in stream programs.
	//
	// The same seed reproduces the same packets.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging:   *logging.DefaultConfig(),
		Generator: stream.DefaultGeneratorConfig(),
		Seed:      3,
	}
}

// LoadConfig loads configuration from a YAML file at the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	return cfg, nil
}
