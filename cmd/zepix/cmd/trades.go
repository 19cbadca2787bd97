package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/repository"
	"ZepixTrader/pkg/config"
)

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List recently closed trades from the store",
	Long: `Read closed trades straight from the sqlite store. The server does not
need to be running.

Examples:
  zepix trades
  zepix trades --symbol EURUSD --since 72h --limit 50
  zepix trades --json`,
	Args: cobra.NoArgs,
	RunE: runTrades,
}

var (
	tradesSymbol string
	tradesSince  time.Duration
	tradesLimit  int
	tradesJSON   bool
)

func init() {
	rootCmd.AddCommand(tradesCmd)

	tradesCmd.Flags().StringVarP(&tradesSymbol, "symbol", "s", "", "only this symbol")
	tradesCmd.Flags().DurationVar(&tradesSince, "since", 24*time.Hour, "look back this far")
	tradesCmd.Flags().IntVarP(&tradesLimit, "limit", "n", 20, "maximum rows")
	tradesCmd.Flags().BoolVar(&tradesJSON, "json", false, "print JSON instead of a table")
}

func runTrades(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	ctx := cmd.Context()
	store, err := repository.NewSQLiteStore(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	trades, err := store.ListTrades(ctx, models.TradeFilter{
		Symbol: tradesSymbol,
		Status: models.TradeClosed,
		Since:  time.Now().Add(-tradesSince),
		Limit:  tradesLimit,
	})
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}

	out := cmd.OutOrStdout()
	if tradesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(trades)
	}
	if len(trades) == 0 {
		fmt.Fprintln(out, "no closed trades")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLOSED\tSYMBOL\tSIDE\tLOGIC\tLEVEL\tENTRY\tEXIT\tLOT\tREASON\tPNL")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.5f\t%.5f\t%.2f\t%s\t%s\n",
			t.ClosedAt.Local().Format("01-02 15:04"), t.Symbol, t.Side, t.Logic, t.ChainLevel,
			t.Entry, t.ClosePrice, t.Lot, t.CloseReason, t.PnL.StringFixed(2))
	}
	return w.Flush()
}
