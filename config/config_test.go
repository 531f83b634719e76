package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 22000, cfg.Port)
	assert.Zero(t, cfg.WSPort)
	assert.Zero(t, cfg.MetricsPort)
	assert.False(t, cfg.TLS.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
ws_port: 9001
metrics_port: 9090
tls:
  enabled: true
  cert_file: /etc/squawkbus/cert.pem
  key_file: /etc/squawkbus/key.pem
passwords_file: /etc/squawkbus/passwords
authorizations_file: /etc/squawkbus/authorizations.yaml
queue_capacity: 2048
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 9001, cfg.WSPort)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.True(t, cfg.TLS.Enabled)
	assert.Equal(t, "/etc/squawkbus/cert.pem", cfg.TLS.CertFile)
	assert.Equal(t, "/etc/squawkbus/passwords", cfg.PasswordsFile)
	assert.Equal(t, 2048, cfg.QueueCapacity)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"negative ws port", func(c *Config) { c.WSPort = -1 }},
		{"negative metrics port", func(c *Config) { c.MetricsPort = -1 }},
		{"negative queue", func(c *Config) { c.QueueCapacity = -1 }},
		{"negative frame size", func(c *Config) { c.MaxFrameSize = -1 }},
		{"tls without cert", func(c *Config) { c.TLS.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
