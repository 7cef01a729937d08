package main

// ---------------------------------------------------------------------------
// banner.go — banner and version/usage printing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	goruntime "runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func bannerText() string {
	return cyan(`
    ╔══════════════════════════════════════════════════════╗
    ║                                                      ║
    ║   S C E N A R I O M A P                              ║
    ║                                                      ║
    ║   risk scenario matching and recommendations         ║
    ║                                                      ║
    ╚══════════════════════════════════════════════════════╝
`)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "scenariomap v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  scenariomap <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	for _, c := range [][2]string{
		{"serve", "Start the engine and REST API"},
		{"submit", "Submit one scenario for matching"},
		{"upload", "Upload a CSV or JSON batch of scenarios"},
		{"get", "Show a processed scenario"},
		{"recent", "List recent scenarios"},
		{"cases", "List the historical case corpus"},
		{"audit", "Show the audit log"},
		{"logs", "Fetch recent logs from a running instance"},
		{"status", "Show status of a running instance"},
		{"reload", "Reload configuration and corpus"},
		{"config", "Show, validate, or initialize configuration"},
		{"keygen", "Generate a data encryption key"},
		{"version", "Print version information"},
	} {
		fmt.Fprintf(w, "  %-14s  %s\n", bold(c[0]), c[1])
	}
	fmt.Fprintf(w, "\nRun %s for command flags.\n", bold("scenariomap <command> --help"))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}
