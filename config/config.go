// Package config loads the broker's optional YAML configuration file
// and supplies defaults. Command-line flags override file values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/c360/squawkbus/errors"
	"github.com/c360/squawkbus/pkg/security"
)

// Config is the broker's startup configuration.
type Config struct {
	Port        int `yaml:"port"`
	WSPort      int `yaml:"ws_port"`
	MetricsPort int `yaml:"metrics_port"`

	TLS security.ServerTLSConfig `yaml:"tls"`

	PasswordsFile      string `yaml:"passwords_file"`
	AuthorizationsFile string `yaml:"authorizations_file"`

	QueueCapacity int `yaml:"queue_capacity"`
	MaxFrameSize  int `yaml:"max_frame_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port: 22000,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapFatal(err, "config", "Load", "read config file")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.WrapFatal(err, "config", "Load", "parse config file")
	}
	return cfg, nil
}

// Validate rejects configurations the broker cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapFatal(fmt.Errorf("invalid port %d", c.Port),
			"config", "Validate", "port validation")
	}
	if c.WSPort < 0 || c.WSPort > 65535 {
		return errors.WrapFatal(fmt.Errorf("invalid ws port %d", c.WSPort),
			"config", "Validate", "ws port validation")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return errors.WrapFatal(fmt.Errorf("invalid metrics port %d", c.MetricsPort),
			"config", "Validate", "metrics port validation")
	}
	if c.QueueCapacity < 0 {
		return errors.WrapFatal(fmt.Errorf("invalid queue capacity %d", c.QueueCapacity),
			"config", "Validate", "queue capacity validation")
	}
	if c.MaxFrameSize < 0 {
		return errors.WrapFatal(fmt.Errorf("invalid max frame size %d", c.MaxFrameSize),
			"config", "Validate", "frame size validation")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.WrapFatal(errors.ErrMissingConfig,
			"config", "Validate", "TLS cert and key validation")
	}
	return nil
}
