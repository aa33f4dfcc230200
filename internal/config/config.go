// Package config loads the optional CLI configuration file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

// DefaultFileName is the config file looked up in the working directory
// when no explicit path is given.
const DefaultFileName = "mirrorfs.yaml"

// Config holds the CLI settings. Command-line flags override file values.
type Config struct {
	// Source is the OS directory used as backing storage.
	Source string `yaml:"source"`
	// Mount is the optional FUSE mount point for the view.
	Mount string `yaml:"mount"`
	// LogLevel is one of ERROR, WARN, INFO, DEBUG, TRACE.
	LogLevel string `yaml:"log_level"`
	// Watch lists filter expressions over the variable "path"; a listener
	// is registered per expression.
	Watch []string `yaml:"watch"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
