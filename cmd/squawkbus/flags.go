package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath     string
	Port           int
	WSPort         int
	MetricsPort    int
	SSL            bool
	CertFile       string
	KeyFile        string
	Passwords      string
	Authorizations string
	InlineSpecs    stringList
	LogLevel       string
	LogFormat      string
	ShowHelp       bool

	set map[string]bool
}

// Changed reports whether the named flag was given explicitly.
func (c *CLIConfig) Changed(name string) bool { return c.set[name] }

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{set: make(map[string]bool)}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("SQUAWKBUS_CONFIG", ""),
		"Path to YAML configuration file (env: SQUAWKBUS_CONFIG)")

	flag.IntVar(&cfg.Port, "port",
		getEnvInt("SQUAWKBUS_PORT", 22000),
		"Broker listening port (env: SQUAWKBUS_PORT)")

	flag.IntVar(&cfg.WSPort, "ws-port",
		getEnvInt("SQUAWKBUS_WS_PORT", 0),
		"WebSocket listening port, 0 to disable (env: SQUAWKBUS_WS_PORT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("SQUAWKBUS_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: SQUAWKBUS_METRICS_PORT)")

	flag.BoolVar(&cfg.SSL, "ssl", false, "Serve TLS on the listening sockets")
	flag.StringVar(&cfg.CertFile, "certfile", "", "TLS certificate file")
	flag.StringVar(&cfg.KeyFile, "keyfile", "", "TLS private key file")

	flag.StringVar(&cfg.Passwords, "passwords", "", "Password file for HTPASSWD authentication")
	flag.StringVar(&cfg.Authorizations, "authorizations", "", "YAML authorizations file")
	flag.Var(&cfg.InlineSpecs, "authorization",
		"Inline authorization spec \"user-pattern:topic-pattern:e1,e2:Role|Role\" (repeatable)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SQUAWKBUS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SQUAWKBUS_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SQUAWKBUS_LOG_FORMAT", "text"),
		"Log format: json, text (env: SQUAWKBUS_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = printDetailedHelp
	flag.Parse()

	flag.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowHelp {
		return nil
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.SSL && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return fmt.Errorf("--ssl requires --certfile and --keyfile")
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - topic-oriented publish/subscribe message broker

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Plain broker on the default port
  %s

  # TLS broker with htpasswd authentication
  %s --ssl --certfile=cert.pem --keyfile=key.pem --passwords=/etc/squawkbus/passwords

  # Regex-scoped entitlements from a YAML file
  %s --authorizations=/etc/squawkbus/authorizations.yaml

  # One inline authorization spec
  %s --authorization='joe:.*\.LSE:1,2:Subscriber|Notifier'

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
