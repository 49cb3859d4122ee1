package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/compresr/session-mirror/internal/config"
)

// runCheckConfig loads and validates the configuration and prints the
// effective settings. An unconfigured relay is reported, not an error.
func runCheckConfig(args []string, out io.Writer) error {
	var flags serveFlags
	fs := pflag.NewFlagSet("check-config", pflag.ContinueOnError)
	flags.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	loadEnvFiles()
	path := resolveConfigPath(flags.configPath)
	return checkConfig(out, path, flags)
}

func checkConfig(out io.Writer, path string, flags serveFlags) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "config:          %s\n", path)

	relayCfg, err := flags.resolver(path).Resolve()
	switch {
	case errors.Is(err, config.ErrNotConfigured):
		fmt.Fprintln(out, "relay:           not configured (bridge stays idle)")
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "relay:           %s\n", relayCfg.Redacted())
	}

	b := cfg.Bridge
	fmt.Fprintf(out, "queue capacity:  %d\n", b.QueueCapacity)
	fmt.Fprintf(out, "heartbeat:       %s\n", b.HeartbeatInterval)
	fmt.Fprintf(out, "backoff:         %s..%s jitter %.2f\n", b.Backoff.Base, b.Backoff.Max, b.Backoff.Jitter)
	fmt.Fprintf(out, "inflight:        %s ttl %s\n", cfg.InFlight.Type, b.InFlightTTL)
	if cfg.Monitoring.JournalPath != "" {
		fmt.Fprintf(out, "journal:         %s\n", cfg.Monitoring.JournalPath)
	}
	return nil
}
