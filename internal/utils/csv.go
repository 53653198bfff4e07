package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"autotrader/internal/domain"
)

// WriteCandlesToCSV dumps candles with one row per bar.
func WriteCandlesToCSV(candles []domain.Candle, symbol string, interval domain.Interval, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"open_time", "symbol", "interval", "open", "high", "low", "close", "volume", "confirmed"}); err != nil {
		return err
	}

	for _, c := range candles {
		if err := writer.Write([]string{
			c.OpenTime.UTC().Format(time.RFC3339),
			symbol,
			string(interval),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
			strconv.FormatBool(c.Confirmed),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
