package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Output is either "stderr", "stdout" or a file path.
	//
	// Packet traces are printed to stdout, so logs go to stderr by
	// default.
	Output string `yaml:"output"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Output: "stderr",
	}
}
