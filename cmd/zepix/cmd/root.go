package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "zepix",
	Short: "Alert-driven forex trade engine with automatic re-entry chains",
	Long: `Zepix turns TradingView alerts into broker orders and manages the trades
autonomously: stop-loss hunt re-entries, take-profit continuations, reversal
exits and tiered loss caps.

Configuration is read from a YAML file, then .env, then environment
overrides (ZEPIX_*, BROKER_*, TELEGRAM_*, KAFKA_BROKERS, REDIS_ADDR).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults only when empty)")
}
