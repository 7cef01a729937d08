package main

// ---------------------------------------------------------------------------
// cmd_serve.go — start the engine and REST API
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/finscenario/scenariomap/internal/api"
	"github.com/finscenario/scenariomap/internal/core"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		logLevel string
		port     int
		dryRun   bool
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and REST API",
		Long: `Start the scenariomap engine and REST API.

SIGHUP reloads the config file and historical corpus without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stderr := cmd.ErrOrStderr()
			if !quiet {
				fmt.Fprint(stderr, bannerText())
			}

			cfg, err := core.LoadConfig(g.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			engine, err := core.NewEngine(cfg)
			if err != nil {
				return fmt.Errorf("creating engine: %w", err)
			}
			if _, err := os.Stat(g.configPath); err == nil {
				engine.ConfigPath = g.configPath
			}

			if dryRun {
				snap := engine.Corpus.Snapshot()
				fmt.Fprintf(cmd.OutOrStdout(), "%s Config valid. storage=%s provider=%s corpus=%s (%d cases)\n",
					green("✓"), cfg.Storage.Driver, providerName(cfg), snap.Source(), snap.Len())
				return nil
			}

			if !cfg.AuthEnabled() && !quiet {
				fmt.Fprintf(stderr, "%s No API keys configured, the API is open.\n", yellow("⚠"))
				fmt.Fprintf(stderr, "    Set server.api_keys in config or SCENARIOMAP_API_KEY.\n")
			}
			if cfg.Crypto.Key == "" && !quiet {
				fmt.Fprintf(stderr, "%s DATA_ENCRYPTION_KEY not set, sensitive fields are stored as plaintext.\n", yellow("⚠"))
				fmt.Fprintf(stderr, "    Generate one with %s.\n", bold("scenariomap keygen"))
			}

			if err := engine.Start(); err != nil {
				return fmt.Errorf("starting engine: %w", err)
			}

			srv := api.NewServer(engine)
			if err := srv.Start(); err != nil {
				engine.Shutdown()
				return fmt.Errorf("starting API server: %w", err)
			}

			if !quiet {
				fmt.Fprintf(stderr, "%s scenariomap running, API on %s (storage %s, generator %s)\n",
					green("✓"), srv.Addr(), cfg.Storage.Driver, providerName(cfg))
				fmt.Fprintf(stderr, "%s Press Ctrl+C to stop\n", dim("▸"))
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigCh)

			for sig := range sigCh {
				if sig == syscall.SIGHUP {
					changes, err := engine.Reload()
					if err != nil {
						warnf("reload failed: %v", err)
						continue
					}
					if !quiet {
						for _, c := range changes {
							fmt.Fprintf(stderr, "%s %s\n", green("↻"), c)
						}
					}
					continue
				}
				if !quiet {
					fmt.Fprintf(stderr, "\n%s Received %s, shutting down...\n", dim("▸"), sig)
				}
				break
			}

			if err := srv.Stop(); err != nil {
				warnf("stopping API server: %v", err)
			}
			engine.Shutdown()

			if !quiet {
				fmt.Fprintf(stderr, "%s scenariomap stopped.\n", green("✓"))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")
	f.IntVar(&port, "port", 0, "API port override")
	f.BoolVar(&dryRun, "dry-run", false, "Validate config and corpus, then exit")
	f.BoolVarP(&quiet, "quiet", "q", false, "Suppress banner and non-essential output")
	return cmd
}

func providerName(cfg *core.Config) string {
	p := cfg.Recommend.Provider
	if p == "" || p == "none" || cfg.Recommend.APIKey == "" {
		return "none"
	}
	return p
}
