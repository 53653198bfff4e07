package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"autotrader/internal/adapters/logger"
	"autotrader/internal/domain"
)

// Exchange names accepted in EXCHANGE.
const (
	ExchangeOKX     = "okx"
	ExchangeBinance = "binance"
	ExchangePaper   = "paper"
)

// Config holds all application configuration.
type Config struct {
	// Exchange
	Exchange   string
	IsTestnet  bool
	APIKey     string
	SecretKey  string
	Passphrase string // OKX only

	// Encrypted credentials file, used when the API_* variables are empty
	CredentialsPath       string
	CredentialsPassphrase string

	// Paper trading
	PaperBalance    float64
	PaperMarketData string // exchange that feeds prices to the paper book
	PaperFeeRate    float64

	// Engine
	Symbol            string
	Interval          domain.Interval
	CycleDelay        time.Duration
	OrderPollInterval time.Duration
	OrderTimeout      time.Duration
	SubmitMaxAttempts int
	RetryMinDelay     time.Duration
	RetryMaxDelay     time.Duration
	CandleHistory     int
	EventBuffer       int
	StreamPrices      bool

	// Starting trade parameters, used until PARAMS_PATH holds a saved set
	Params domain.TradeParameters

	// Storage
	DBPath     string
	ParamsPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // json | console

	// HealthAddr is the listen address of the health server; empty disables it.
	HealthAddr string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// .env is optional; plain environment variables work too
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	cfg.Exchange = strings.ToLower(getEnv("EXCHANGE", ExchangePaper))
	switch cfg.Exchange {
	case ExchangeOKX, ExchangeBinance, ExchangePaper:
	default:
		errs = append(errs, fmt.Sprintf("EXCHANGE must be one of okx, binance, paper (got %q)", cfg.Exchange))
	}
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // testnet unless told otherwise
	cfg.APIKey = getEnv("API_KEY", "")
	cfg.SecretKey = getEnv("API_SECRET", "")
	cfg.Passphrase = getEnv("API_PASSPHRASE", "")

	cfg.CredentialsPath = getEnv("CREDENTIALS_PATH", "")
	cfg.CredentialsPassphrase = getEnv("CREDENTIALS_PASSPHRASE", "")
	if cfg.CredentialsPath != "" && cfg.CredentialsPassphrase == "" {
		errs = append(errs, "CREDENTIALS_PASSPHRASE must be set when CREDENTIALS_PATH is used")
	}

	cfg.PaperBalance, err = getEnvAsFloatRequired("PAPER_BALANCE", 10000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_BALANCE: %v", err))
	} else if cfg.PaperBalance <= 0 {
		errs = append(errs, "PAPER_BALANCE must be positive")
	}
	cfg.PaperMarketData = strings.ToLower(getEnv("PAPER_MARKET_DATA", ExchangeOKX))
	if cfg.PaperMarketData != ExchangeOKX && cfg.PaperMarketData != ExchangeBinance {
		errs = append(errs, "PAPER_MARKET_DATA must be okx or binance")
	}
	cfg.PaperFeeRate, err = getEnvAsFloatRequired("PAPER_FEE_RATE", 0.0005)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_FEE_RATE: %v", err))
	} else if cfg.PaperFeeRate < 0 || cfg.PaperFeeRate >= 1 {
		errs = append(errs, "PAPER_FEE_RATE must be in [0, 1)")
	}

	// Engine
	cfg.Symbol = getEnv("SYMBOL", "BTC-USDT-SWAP")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.Interval = domain.Interval(getEnv("CYCLE_INTERVAL", string(domain.DefaultInterval)))
	if !cfg.Interval.Valid() {
		errs = append(errs, fmt.Sprintf("unsupported CYCLE_INTERVAL %q", cfg.Interval))
	}

	durations := []struct {
		key  string
		def  time.Duration
		dst  *time.Duration
		zero bool // zero allowed
	}{
		{"CYCLE_DELAY", 2 * time.Second, &cfg.CycleDelay, true},
		{"ORDER_POLL_INTERVAL", 3 * time.Second, &cfg.OrderPollInterval, false},
		{"ORDER_TIMEOUT", 2 * time.Minute, &cfg.OrderTimeout, false},
		{"RETRY_MIN_DELAY", 500 * time.Millisecond, &cfg.RetryMinDelay, false},
		{"RETRY_MAX_DELAY", 10 * time.Second, &cfg.RetryMaxDelay, false},
	}
	for _, d := range durations {
		v, err := getEnvAsDurationRequired(d.key, d.def)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("invalid %s: %v", d.key, err))
		case v < 0 || (v == 0 && !d.zero):
			errs = append(errs, fmt.Sprintf("%s must be positive", d.key))
		default:
			*d.dst = v
		}
	}
	if cfg.RetryMinDelay > cfg.RetryMaxDelay {
		errs = append(errs, "RETRY_MIN_DELAY must not exceed RETRY_MAX_DELAY")
	}

	cfg.SubmitMaxAttempts, err = getEnvAsIntRequired("SUBMIT_MAX_ATTEMPTS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SUBMIT_MAX_ATTEMPTS: %v", err))
	} else if cfg.SubmitMaxAttempts < 1 {
		errs = append(errs, "SUBMIT_MAX_ATTEMPTS must be at least 1")
	}
	cfg.CandleHistory, err = getEnvAsIntRequired("CANDLE_HISTORY", 200)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CANDLE_HISTORY: %v", err))
	} else if cfg.CandleHistory < 2 {
		errs = append(errs, "CANDLE_HISTORY must be at least 2")
	}
	cfg.EventBuffer, err = getEnvAsIntRequired("EVENT_BUFFER", 256)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EVENT_BUFFER: %v", err))
	} else if cfg.EventBuffer < 1 {
		errs = append(errs, "EVENT_BUFFER must be positive")
	}
	cfg.StreamPrices = getEnvAsBool("STREAM_PRICES", false)

	// Trade parameters
	cfg.Params, errs = loadParams(errs)

	// Storage
	cfg.DBPath = getEnv("DB_PATH", "./data/autotrader.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.ParamsPath = getEnv("PARAMS_PATH", "./data/trade_parameters.yaml")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	cfg.HealthAddr = getEnv("HEALTH_ADDR", ":8080")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func loadParams(errs []string) (domain.TradeParameters, []string) {
	p := domain.DefaultTradeParameters()
	floats := []struct {
		key string
		dst *float64
	}{
		{"STOP_LOSS_PCT", &p.StopLossPct},
		{"TAKE_PROFIT_PCT", &p.TakeProfitPct},
		{"POSITION_SIZE", &p.PositionSize},
		{"STRATEGY_RSI_OVERSOLD", &p.Settings.RSIOversold},
		{"STRATEGY_RSI_OVERBOUGHT", &p.Settings.RSIOverbought},
		{"STRATEGY_RSI_NEUTRAL_LOW", &p.Settings.RSINeutralLow},
		{"STRATEGY_RSI_NEUTRAL_HIGH", &p.Settings.RSINeutralHigh},
	}
	for _, f := range floats {
		v, err := getEnvAsFloatRequired(f.key, *f.dst)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", f.key, err))
			continue
		}
		*f.dst = v
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"LEVERAGE", &p.Leverage},
		{"STRATEGY_RSI_PERIOD", &p.Settings.RSIPeriod},
		{"STRATEGY_FAST_MA_PERIOD", &p.Settings.FastMAPeriod},
		{"STRATEGY_SLOW_MA_PERIOD", &p.Settings.SlowMAPeriod},
	}
	for _, i := range ints {
		v, err := getEnvAsIntRequired(i.key, *i.dst)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", i.key, err))
			continue
		}
		*i.dst = v
	}
	p.Strategy = domain.StrategyKind(strings.ToUpper(getEnv("STRATEGY", string(p.Strategy))))
	p.AutomationEnabled = getEnvAsBool("AUTOMATION_ENABLED", false)

	if err := p.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	return p, errs
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDurationRequired(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
