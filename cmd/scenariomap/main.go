package main

// ---------------------------------------------------------------------------
// main.go — root command for the scenariomap CLI
//
// Command implementations live in cmd_*.go. Shared helpers are in
// helpers.go, http.go, output.go, and banner.go.
// ---------------------------------------------------------------------------

import (
	"github.com/spf13/cobra"

	"github.com/finscenario/scenariomap/internal/core"
)

var (
	version   = core.Version
	commit    = "dev"
	buildDate = "unknown"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	apiURL     string
	apiKey     string
	actor      string
	jsonOut    bool
	noColor    bool
	timeout    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "scenariomap",
		Short:         "Financial risk scenario matching and recommendation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			g.configPath = envConfig(g.configPath)
			if g.noColor {
				disableColor()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			printUsage(cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", defaultConfigPath, "Config file path (env SCENARIOMAP_CONFIG)")
	pf.StringVar(&g.apiURL, "api", "", "API base URL (default from config, env SCENARIOMAP_API)")
	pf.StringVar(&g.apiKey, "api-key", "", "API key (env SCENARIOMAP_API_KEY)")
	pf.StringVar(&g.actor, "actor", "", "Actor recorded in the audit log (env SCENARIOMAP_ACTOR)")
	pf.BoolVar(&g.jsonOut, "json", false, "Print raw JSON")
	pf.BoolVar(&g.noColor, "no-color", false, "Disable color output")
	pf.StringVar(&g.timeout, "timeout", "30s", "Request timeout")

	root.AddCommand(
		serveCmd(g),
		submitCmd(g),
		uploadCmd(g),
		getCmd(g),
		recentCmd(g),
		casesCmd(g),
		auditCmd(g),
		logsCmd(g),
		statusCmd(g),
		reloadCmd(g),
		configCmd(g),
		keygenCmd(),
		versionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errorf("%v", err)
	}
}
