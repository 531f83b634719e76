// Package main implements the squawkbus broker entry point: flag and
// config handling, policy loading, and supervised startup of the hub,
// the listeners and the metrics endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/c360/squawkbus/auth"
	"github.com/c360/squawkbus/broker"
	"github.com/c360/squawkbus/config"
	"github.com/c360/squawkbus/metric"
	"github.com/c360/squawkbus/pkg/tlsutil"
)

const appName = "squawkbus"

// Version is stamped by the build.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("Startup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()
	if cli.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if err := validateFlags(cli); err != nil {
		return err
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := resolveConfig(cli)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Policy inputs.
	var passwords *auth.PasswordFile
	if cfg.PasswordsFile != "" {
		passwords, err = auth.LoadPasswordFile(cfg.PasswordsFile)
		if err != nil {
			return err
		}
		logger.Info("Loaded password file", "path", cfg.PasswordsFile)
	}

	specs, err := loadSpecs(cfg.AuthorizationsFile, cli.InlineSpecs, logger)
	if err != nil {
		return err
	}

	tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.TLS)
	if err != nil {
		return err
	}

	// Core assembly.
	authz, err := auth.NewRepository(specs)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(passwords, logger)
	metrics := metric.NewMetrics(authz.CacheStats())
	hub := broker.NewHub(authenticator, authz, metrics, logger)
	server := broker.NewServer(broker.Config{
		Port:          cfg.Port,
		WSPort:        cfg.WSPort,
		TLS:           tlsConfig,
		QueueCapacity: cfg.QueueCapacity,
		MaxFrameSize:  cfg.MaxFrameSize,
	}, hub, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloadOnHangup(ctx, cfg, cli, authenticator, hub, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return metrics.Serve(ctx, cfg.MetricsPort, logger) })

	logger.Info("Broker started", "port", cfg.Port, "ws_port", cfg.WSPort, "tls", cfg.TLS.Enabled)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Broker shutdown complete")
	return nil
}

// resolveConfig layers explicit command-line flags over the optional
// config file over the defaults.
func resolveConfig(cli *CLIConfig) (config.Config, error) {
	cfg := config.Default()
	if cli.ConfigPath != "" {
		var err error
		cfg, err = config.Load(cli.ConfigPath)
		if err != nil {
			return cfg, err
		}
	}

	if cli.Changed("port") || cfg.Port == 0 {
		cfg.Port = cli.Port
	}
	if cli.Changed("ws-port") {
		cfg.WSPort = cli.WSPort
	}
	if cli.Changed("metrics-port") {
		cfg.MetricsPort = cli.MetricsPort
	}
	if cli.Changed("ssl") {
		cfg.TLS.Enabled = cli.SSL
	}
	if cli.Changed("certfile") {
		cfg.TLS.CertFile = cli.CertFile
	}
	if cli.Changed("keyfile") {
		cfg.TLS.KeyFile = cli.KeyFile
	}
	if cli.Changed("passwords") {
		cfg.PasswordsFile = cli.Passwords
	}
	if cli.Changed("authorizations") {
		cfg.AuthorizationsFile = cli.Authorizations
	}

	return cfg, nil
}

// loadSpecs resolves the authorization policy: file first, else inline
// specs, else the default public-only policy.
func loadSpecs(path string, inline []string, logger *slog.Logger) ([]auth.Spec, error) {
	if path != "" {
		logger.Info("Loading authorizations", "path", path)
		return auth.LoadSpecsFile(path)
	}

	var specs []auth.Spec
	for _, raw := range inline {
		spec, err := auth.ParseSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("authorization %q: %w", raw, err)
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		logger.Info("Using default authorizations")
	}
	return specs, nil
}

// reloadOnHangup re-reads the password and authorization files on
// SIGHUP, swapping them into the running broker.
func reloadOnHangup(ctx context.Context, cfg config.Config, cli *CLIConfig, authenticator *auth.Authenticator, hub *broker.Hub, logger *slog.Logger) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(hangup)
				return
			case <-hangup:
				logger.Info("Reloading configuration on SIGHUP")
				if err := authenticator.Reload(); err != nil {
					logger.Error("Password reload failed", "error", err)
				}
				specs, err := loadSpecs(cfg.AuthorizationsFile, cli.InlineSpecs, logger)
				if err != nil {
					logger.Error("Authorization reload failed", "error", err)
					continue
				}
				hub.Reload(specs)
			}
		}
	}()
}
