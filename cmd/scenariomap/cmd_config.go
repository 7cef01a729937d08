package main

// ---------------------------------------------------------------------------
// cmd_config.go — show, validate, or initialize configuration; keygen
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/finscenario/scenariomap/internal/core"
	"github.com/finscenario/scenariomap/internal/fieldcrypt"
)

func configCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, validate, or initialize configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfig(g.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return printConfig(cmd, cfg)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			cfg, err := core.LoadConfig(g.configPath)
			if err != nil {
				fmt.Fprintf(w, "%s Config invalid: %v\n", red("✗"), err)
				return fmt.Errorf("validation failed")
			}
			if _, err := core.NewEngine(cfg); err != nil {
				fmt.Fprintf(w, "%s %v\n", red("✗"), err)
				return fmt.Errorf("validation failed")
			}
			if cfg.Crypto.Key == "" {
				fmt.Fprintf(w, "%s no encryption key, sensitive fields stored as plaintext\n", yellow("⚠"))
			}
			if !cfg.AuthEnabled() {
				fmt.Fprintf(w, "%s no API keys, the API is open\n", yellow("⚠"))
			}
			fmt.Fprintf(w, "%s %s is valid\n", green("✓"), g.configPath)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(g.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", g.configPath)
			}
			if dir := filepath.Dir(g.configPath); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("creating %s: %w", dir, err)
				}
			}
			if err := core.SaveConfig(core.DefaultConfig(), g.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", green("✓"), g.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

// printConfig prints the effective config with secrets masked.
func printConfig(cmd *cobra.Command, cfg *core.Config) error {
	masked := *cfg
	masked.Crypto.Key = mask(cfg.Crypto.Key)
	masked.Recommend.APIKey = mask(cfg.Recommend.APIKey)
	masked.Storage.DSN = maskDSN(cfg.Storage.Driver, cfg.Storage.DSN)
	keys := make([]string, len(cfg.Server.APIKeys))
	for i, k := range cfg.Server.APIKeys {
		keys[i] = mask(k)
	}
	masked.Server.APIKeys = keys

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDSN hides postgres credentials; sqlite paths are shown as is.
func maskDSN(driver, dsn string) string {
	if driver == "postgres" && dsn != "" {
		return "postgres://****"
	}
	return dsn
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a data encryption key",
		Long: `Generate a random 32-byte key for field encryption, base64 encoded.
Set it as DATA_ENCRYPTION_KEY or crypto.key. Data written with one key cannot
be read with another.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := fieldcrypt.GenerateKey()
			if err != nil {
				return fmt.Errorf("generating key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
