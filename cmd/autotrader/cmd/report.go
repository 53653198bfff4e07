package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"autotrader/config"
	"autotrader/internal/adapters/logger"
	"autotrader/internal/adapters/sqlite"
	"autotrader/internal/strategy/analytics"
)

type reportOptions struct {
	Symbol  string
	Limit   int
	Balance float64 // starting equity for returns and drawdown
	Orders  int
}

var (
	reportDB   string
	reportOpts reportOptions
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise journaled trades",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		log, err := logger.NewZapLogger(logger.LevelWarn, "console", "report")
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if reportDB == "" {
			reportDB = cfg.DBPath
		}
		opts := reportOpts
		if opts.Symbol == "" {
			opts.Symbol = cfg.Symbol
		}
		if opts.Balance <= 0 {
			opts.Balance = cfg.PaperBalance
		}

		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: reportDB, Logger: log})
		if err != nil {
			return err
		}
		defer repo.Close()

		return writeReport(cmd.Context(), cmd.OutOrStdout(), repo, opts)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDB, "db", "", "journal database (default DB_PATH)")
	reportCmd.Flags().StringVarP(&reportOpts.Symbol, "symbol", "s", "", "instrument (default SYMBOL)")
	reportCmd.Flags().IntVarP(&reportOpts.Limit, "limit", "n", 10000, "newest trades to include")
	reportCmd.Flags().Float64VarP(&reportOpts.Balance, "balance", "b", 0, "starting balance for returns (default PAPER_BALANCE)")
	reportCmd.Flags().IntVar(&reportOpts.Orders, "orders", 0, "also list this many recent orders")
	rootCmd.AddCommand(reportCmd)
}

func writeReport(ctx context.Context, out io.Writer, repo *sqlite.Repository, opts reportOptions) error {
	trades, err := repo.ListTrades(ctx, opts.Symbol, opts.Limit)
	if err != nil {
		return err
	}
	total, err := repo.TotalPnL(ctx, opts.Symbol)
	if err != nil {
		return err
	}
	m := analytics.AnalyzePerformance(trades, opts.Balance)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Symbol\t%s\n", opts.Symbol)
	fmt.Fprintf(w, "Trades\t%d (%d won, %d lost, %d even)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades, m.BreakevenTrades)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Net PnL\t%.4f (all time %.4f)\n", m.TotalProfit, total)
	fmt.Fprintf(w, "Return\t%.2f%% on %.2f\n", m.ReturnOnInvestment*100, opts.Balance)
	fmt.Fprintf(w, "Profit factor\t%.3f\n", m.ProfitFactor)
	fmt.Fprintf(w, "Expectancy\t%.4f\n", m.Expectancy)
	fmt.Fprintf(w, "Avg win / loss\t%.4f / %.4f\n", m.AverageWin, m.AverageLoss)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "Recovery factor\t%.3f\n", m.RecoveryFactor)
	fmt.Fprintf(w, "Sharpe (per trade)\t%.3f\n", m.SharpeRatio)
	fmt.Fprintf(w, "Streaks\t%d wins, %d losses\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Fprintf(w, "Avg duration\t%s\n", m.AverageTradeDuration.Round(time.Second))

	if m.TotalTrades > 0 {
		fmt.Fprintln(w, "\nBreakdown\tTrades\tWins\tPnL")
		for _, k := range sortedKeys(m.BySide) {
			b := m.BySide[k]
			fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\n", k, b.Trades, b.Wins, b.PnL)
		}
		for _, k := range sortedKeys(m.ByCloseReason) {
			b := m.ByCloseReason[k]
			fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\n", k, b.Trades, b.Wins, b.PnL)
		}
	}

	if months := m.GetMonthlyReturns(); len(months) > 0 {
		fmt.Fprintln(w, "\nMonth\tPnL")
		for _, mr := range months {
			fmt.Fprintf(w, "%s\t%.4f\n", mr.Month.Format("2006-01"), mr.Return)
		}
	}

	if opts.Orders > 0 {
		orders, err := repo.ListOrders(ctx, opts.Symbol, opts.Orders)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "\nOrder\tPurpose\tSide\tSize\tFilled\tStatus\tUpdated")
		for _, rec := range orders {
			o := rec.Order
			fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%g\t%s\t%s\n",
				o.ClientOrderID, o.Purpose, o.Side, o.Size, o.FilledSize, o.Status, o.UpdatedAt.Format(time.RFC3339))
		}
	}
	return w.Flush()
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
