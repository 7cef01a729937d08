package main

// ---------------------------------------------------------------------------
// helpers.go — color, error helpers, env-based config
// ---------------------------------------------------------------------------

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/finscenario/scenariomap/internal/core"
)

const defaultConfigPath = "configs/scenariomap.yaml"

// ---------------------------------------------------------------------------
// Color helpers
// ---------------------------------------------------------------------------

// fatih/color already honours NO_COLOR and non-TTY output.
var (
	red    = color.New(color.FgHiRed).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	dim    = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func disableColor() { color.NoColor = true }

// ---------------------------------------------------------------------------
// Error / warn helpers (always to stderr)
// ---------------------------------------------------------------------------

func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, red("error: ")+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, yellow("warn: ")+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Env-based configuration
//
// Environment variables:
//   SCENARIOMAP_CONFIG  default config file path
//   SCENARIOMAP_API     API base URL
//   SCENARIOMAP_API_KEY API key for authentication
//   SCENARIOMAP_ACTOR   actor recorded in the audit log
// ---------------------------------------------------------------------------

// envConfig returns the config path, preferring flag > env > default.
func envConfig(flagVal string) string {
	if flagVal != "" && flagVal != defaultConfigPath {
		return flagVal
	}
	if e := os.Getenv("SCENARIOMAP_CONFIG"); e != "" {
		return e
	}
	return flagVal
}

// apiBase returns the API base URL, preferring flag > env > config.
func apiBase(flagVal, configPath string) string {
	if flagVal != "" {
		return strings.TrimRight(flagVal, "/")
	}
	if e := os.Getenv("SCENARIOMAP_API"); e != "" {
		return strings.TrimRight(e, "/")
	}

	host := "127.0.0.1"
	port := core.DefaultConfig().Server.Port
	if cfg, err := core.LoadConfig(configPath); err == nil {
		if cfg.Server.Host != "" && cfg.Server.Host != "0.0.0.0" && cfg.Server.Host != "::" {
			host = cfg.Server.Host
		}
		port = cfg.Server.Port
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// resolveAPIKey returns the API key from flag, env, or config (in that order).
func resolveAPIKey(flagKey, configPath string) string {
	if flagKey != "" {
		return flagKey
	}
	if envKey := os.Getenv("SCENARIOMAP_API_KEY"); envKey != "" {
		return envKey
	}
	cfg, err := core.LoadConfig(configPath)
	if err == nil && len(cfg.Server.APIKeys) > 0 {
		return cfg.Server.APIKeys[0]
	}
	return ""
}

// resolveActor prefers flag > env > the local user name.
func resolveActor(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if e := os.Getenv("SCENARIOMAP_ACTOR"); e != "" {
		return e
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// client builds an API client from the global flags.
func (g *globalFlags) client() (*apiClient, error) {
	timeout, err := time.ParseDuration(g.timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout %q: %w", g.timeout, err)
	}
	return &apiClient{
		base:    apiBase(g.apiURL, g.configPath),
		apiKey:  resolveAPIKey(g.apiKey, g.configPath),
		actor:   resolveActor(g.actor),
		timeout: timeout,
	}, nil
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
