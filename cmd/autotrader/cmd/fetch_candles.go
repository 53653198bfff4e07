package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"autotrader/config"
	"autotrader/internal/adapters/logger"
	"autotrader/internal/domain"
	"autotrader/internal/ports"
	"autotrader/internal/utils"
)

var (
	fetchExchange string
	fetchSymbol   string
	fetchInterval string
	fetchDays     int
	fetchOut      string
)

// rangeFetcher is implemented by clients that can page by time range.
type rangeFetcher interface {
	FetchCandlesRange(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Candle, error)
}

var fetchCandlesCmd = &cobra.Command{
	Use:   "fetch-candles",
	Short: "Download historical candles to a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		log, err := logger.NewZapLogger(cfg.LogLevel, "console", "fetch-candles")
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		exchange := fetchExchange
		if exchange == "" {
			exchange = cfg.Exchange
		}
		if exchange == config.ExchangePaper {
			exchange = cfg.PaperMarketData
		}
		symbol := fetchSymbol
		if symbol == "" {
			symbol = cfg.Symbol
		}
		interval := cfg.Interval
		if fetchInterval != "" {
			interval = domain.Interval(fetchInterval)
		}
		if !interval.Valid() {
			return fmt.Errorf("unsupported interval %q", interval)
		}
		if fetchDays < 1 {
			return fmt.Errorf("--days must be at least 1")
		}

		ctx := cmd.Context()
		client, err := dialExchange(ctx, exchange, false, domain.Credentials{}, log)
		if err != nil {
			return err
		}
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -fetchDays)

		log.Info(ctx, "Fetching candles", map[string]interface{}{
			"exchange": exchange, "symbol": symbol, "interval": interval, "from": start, "to": end,
		})
		candles, err := fetchRange(ctx, client, symbol, interval, start, end)
		if err != nil {
			return err
		}

		filename := fetchOut
		if filename == "" {
			filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", symbol, interval, start.Format("20060102"), end.Format("20060102"))
		}
		if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
			return err
		}
		if err := utils.WriteCandlesToCSV(candles, symbol, interval, filename); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		log.Info(ctx, "Saved candles", map[string]interface{}{"count": len(candles), "filename": filename})
		return nil
	},
}

func init() {
	fetchCandlesCmd.Flags().StringVarP(&fetchExchange, "exchange", "e", "", "okx or binance (default EXCHANGE)")
	fetchCandlesCmd.Flags().StringVarP(&fetchSymbol, "symbol", "s", "", "instrument (default SYMBOL)")
	fetchCandlesCmd.Flags().StringVarP(&fetchInterval, "interval", "i", "", "candle interval (default CYCLE_INTERVAL)")
	fetchCandlesCmd.Flags().IntVarP(&fetchDays, "days", "d", 90, "how many days back to fetch")
	fetchCandlesCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "output file")
	rootCmd.AddCommand(fetchCandlesCmd)
}

// fetchRange uses the client's range paging when it has one, and otherwise
// asks for enough of the newest candles to cover [start, end].
func fetchRange(ctx context.Context, client ports.ExchangeClient, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Candle, error) {
	if rf, ok := client.(rangeFetcher); ok {
		return rf.FetchCandlesRange(ctx, symbol, interval, start, end)
	}
	limit := int(end.Sub(start)/interval.Duration()) + 1
	candles, err := client.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	out := candles[:0]
	for _, c := range candles {
		if !c.OpenTime.Before(start) && !c.OpenTime.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}
