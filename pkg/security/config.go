// Package security defines the TLS configuration surface shared by the
// broker listener and the client library.
package security

// ServerTLSConfig configures TLS for the broker's listening sockets.
type ServerTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" (default) or "1.3"
}

// ClientTLSConfig configures TLS for outbound client connections.
// The system CA bundle is always trusted; CAFiles add private CAs.
type ClientTLSConfig struct {
	Enabled            bool     `yaml:"enabled"`
	CAFiles            []string `yaml:"ca_files"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	MinVersion         string   `yaml:"min_version"`
}
