package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autotrader",
	Short: "Automated trader for a single perpetual swap",
	Long: `autotrader polls closed candles on a fixed interval, evaluates an RSI
threshold or MA crossover strategy and keeps at most one position open,
protected by stop loss and take profit levels.

Settings come from the environment; a .env file in the working directory
is loaded when present.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
