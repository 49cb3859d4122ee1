package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/compresr/session-mirror/internal/config"
	"github.com/compresr/session-mirror/internal/hostio"
	"github.com/compresr/session-mirror/internal/inflight"
	"github.com/compresr/session-mirror/internal/monitoring"
	"github.com/compresr/session-mirror/internal/relay"
)

type serveFlags struct {
	configPath string
	debug      bool
	relayURL   string
	sessionKey string
}

func (f *serveFlags) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "path to config file")
	fs.BoolVarP(&f.debug, "debug", "d", false, "enable debug logging")
	fs.StringVar(&f.relayURL, "relay-url", "", "override relay.url")
	fs.StringVar(&f.sessionKey, "session-key", "", "override relay.session_key")
}

// overrideResolver applies command-line overrides on top of a base resolver.
type overrideResolver struct {
	base       config.Resolver
	url        string
	sessionKey string
}

func (o overrideResolver) Resolve() (config.RelayConfig, error) {
	r, err := o.base.Resolve()
	if err != nil && !errors.Is(err, config.ErrNotConfigured) {
		return config.RelayConfig{}, err
	}
	if o.url != "" {
		r.URL = o.url
	}
	if o.sessionKey != "" {
		r.SessionKey = o.sessionKey
	}
	if err := r.Validate(); err != nil {
		return config.RelayConfig{}, err
	}
	return config.StaticResolver(r).Resolve()
}

func (f serveFlags) resolver(path string) config.Resolver {
	var r config.Resolver = config.FileResolver{Path: path}
	if f.relayURL != "" || f.sessionKey != "" {
		r = overrideResolver{base: r, url: f.relayURL, sessionKey: f.sessionKey}
	}
	return r
}

// runServe bridges the runtime's JSON lines on stdin/stdout to the relay
// until the runtime ends the session or the process is signalled.
func runServe(args []string, stdin io.Reader, stdout io.Writer) error {
	var flags serveFlags
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	loadEnvFiles()

	path := resolveConfigPath(flags.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level := cfg.Monitoring.LogLevel
	if flags.debug {
		level = "debug"
	}
	monitoring.Global(monitoring.LoggerConfig{
		Level:  level,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})

	log.Info().
		Str("version", Version).
		Str("config", path).
		Bool("relay_configured", cfg.Relay.Configured() || flags.relayURL != "").
		Str("inflight", cfg.InFlight.Type).
		Msg("session mirror starting")

	journal, err := monitoring.NewJournal(monitoring.JournalConfig{Path: cfg.Monitoring.JournalPath})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	store, err := inflight.Open(cfg.InFlight.Type, cfg.InFlight.Path, cfg.Bridge.InFlightTTL)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := monitoring.NewMetricsCollector()
	host := hostio.NewHost(stdout, cfg.Bridge.ConfirmTools)
	bridge, err := relay.New(relay.Options{
		Resolver: flags.resolver(path),
		Host:     host,
		Config:   cfg.Bridge,
		InFlight: store,
		Metrics:  metrics,
		Journal:  journal,
		Alerts:   monitoring.NewAlertManager(monitoring.NewWithLogger(log.Logger), monitoring.AlertConfig{}),
		OnStatus: host.WriteStatus,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				bridge.Reconnect()
			case <-bridge.Done():
				return
			}
		}
	}()

	// The bridge outlives ctx so Serve can still emit session_shutdown.
	if err := bridge.Start(context.Background()); err != nil {
		return err
	}
	err = hostio.Serve(ctx, stdin, bridge)

	log.Info().Interface("stats", metrics.Stats()).Msg("session mirror stopped")
	return err
}
