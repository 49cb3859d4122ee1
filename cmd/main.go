// Package main is the entry point for the session mirror bridge.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Version is set at build time via ldflags
var Version = "v0.1.0"

const appName = "session-mirror"

// configDir returns ~/.config/session-mirror, or "" when there is no home.
func configDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", appName)
}

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	if dir := configDir(); dir != "" {
		configEnv := filepath.Join(dir, ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}

	// Local .env never overrides what is already set.
	_ = godotenv.Load()
}

// resolveConfigPath picks the config file: flag, then SESSION_MIRROR_CONFIG,
// then ~/.config/session-mirror/config.yaml. The file need not exist.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("SESSION_MIRROR_CONFIG"); v != "" {
		return v
	}
	if dir := configDir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return ""
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "serve", "start":
			return runServe(args[1:], os.Stdin, os.Stdout)
		case "check-config", "check":
			return runCheckConfig(args[1:], os.Stdout)
		case "version", "-v", "--version":
			printVersion()
			return nil
		case "help", "-h", "--help":
			printHelp()
			return nil
		}
	}

	// Default: serve, so hook scripts can spawn the binary without arguments.
	return runServe(args, os.Stdin, os.Stdout)
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, Version)
	fmt.Printf("Runtime: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp prints usage information
func printHelp() {
	fmt.Println("session-mirror - mirror a local agent session to a remote relay")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  session-mirror [serve] [options]")
	fmt.Println("  session-mirror [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve          Bridge stdin/stdout JSON lines to the relay (default)")
	fmt.Println("  check-config   Validate configuration and print the effective relay")
	fmt.Println("  version        Print version information")
	fmt.Println("  help           Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -c, --config FILE        Config file (default ~/.config/session-mirror/config.yaml)")
	fmt.Println("  -d, --debug              Enable debug logging")
	fmt.Println("      --relay-url URL      Override relay.url")
	fmt.Println("      --session-key KEY    Override relay.session_key")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  RELAY_URL, RELAY_TOKEN, RELAY_SESSION_KEY, SESSION_MIRROR_CONFIG, SESSION_MIRROR_JOURNAL")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGHUP reconnects with freshly read configuration.")
}
