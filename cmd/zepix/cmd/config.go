package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ZepixTrader/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files.

Subcommands:
  init     - Write the default configuration (tiers, symbols, re-entry settings)
  validate - Load a configuration file and report what it sets up

Examples:
  zepix config init -o config/config.yaml
  zepix config validate -f config/config.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configInitForce    bool
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "config/config.yaml", "output config file path")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	_ = configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configInitOutput); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configInitOutput)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	b, err := config.Default().Marshal()
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if dir := filepath.Dir(configInitOutput); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(configInitOutput, b, 0o600); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created default configuration: %s\n", configInitOutput)
	fmt.Fprintf(out, "Edit the file and run with:\n  zepix serve -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Broker: %s (simulate_orders=%t)\n", cfg.Broker.Mode, cfg.Trading.SimulateOrders)
	fmt.Fprintf(out, "  Store: %s\n", cfg.Store.Path)
	fmt.Fprintf(out, "  Symbols: %d, risk tiers: %d\n", len(cfg.Symbols), len(cfg.RiskTiers))
	fmt.Fprintf(out, "  Re-entry: sl_hunt=%t tp_continuation=%t max_levels=%d\n",
		cfg.Reentry.SLHuntEnabled, cfg.Reentry.TPContinuationEnabled, cfg.Reentry.MaxChainLevels)
	fmt.Fprintf(out, "  Kafka: %t, Redis: %t, ClickHouse: %t, Quote feed: %t, Telegram: %t\n",
		cfg.Kafka.Enabled, cfg.Redis.Enabled, cfg.ClickHouse.Enabled, cfg.QuoteFeed.Enabled, cfg.Telegram.Enabled)
	return nil
}
