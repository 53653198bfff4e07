package cmd

import (
	"context"
	"errors"
	"fmt"

	"autotrader/config"
	"autotrader/internal/adapters/binanceclient"
	"autotrader/internal/adapters/credstore"
	"autotrader/internal/adapters/okxclient"
	"autotrader/internal/adapters/paper"
	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// marketClient is a venue client that can also stream prices.
type marketClient interface {
	ports.ExchangeClient
	ports.PriceStreamer
}

// venue is the exchange the engine trades on and, optionally, its price feed.
type venue struct {
	Client   ports.ExchangeClient
	Streamer ports.PriceStreamer
}

// credentialSource prefers API_* variables and falls back to the encrypted file.
func credentialSource(cfg *config.Config) credstore.FirstOf {
	providers := credstore.FirstOf{
		credstore.StaticProvider{Credentials: domain.Credentials{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			Passphrase: cfg.Passphrase,
		}},
	}
	if cfg.CredentialsPath != "" {
		providers = append(providers, &credstore.FileProvider{
			Path:       cfg.CredentialsPath,
			Passphrase: cfg.CredentialsPassphrase,
		})
	}
	return providers
}

func loadCredentials(ctx context.Context, cfg *config.Config) (domain.Credentials, error) {
	creds, err := credentialSource(cfg).Load(ctx)
	switch {
	case err == nil:
		return creds, nil
	case errors.Is(err, ports.ErrNotFound) && cfg.Exchange == config.ExchangePaper:
		return domain.Credentials{}, nil
	case errors.Is(err, ports.ErrNotFound):
		return domain.Credentials{}, fmt.Errorf("%s needs API credentials (API_KEY/API_SECRET or CREDENTIALS_PATH): %w",
			cfg.Exchange, ports.ErrConfigurationError)
	default:
		return domain.Credentials{}, err
	}
}

func dialExchange(ctx context.Context, name string, testnet bool, creds domain.Credentials, logger ports.Logger) (marketClient, error) {
	switch name {
	case config.ExchangeOKX:
		return okxclient.New(okxclient.Config{
			APIKey:     creds.APIKey,
			SecretKey:  creds.SecretKey,
			Passphrase: creds.Passphrase,
			UseTestnet: testnet,
			Logger:     logger,
		})
	case config.ExchangeBinance:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     creds.APIKey,
			SecretKey:  creds.SecretKey,
			UseTestnet: testnet,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		if err := client.SetServerTime(ctx); err != nil {
			logger.Warn(ctx, "Failed to sync time with Binance, signed requests may be rejected", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown exchange %q", ports.ErrConfigurationError, name)
	}
}

// newVenue builds the exchange named by EXCHANGE. The paper venue reads public
// prices from PAPER_MARKET_DATA's production endpoint.
func newVenue(ctx context.Context, cfg *config.Config, creds domain.Credentials, logger ports.Logger) (venue, error) {
	if cfg.Exchange != config.ExchangePaper {
		client, err := dialExchange(ctx, cfg.Exchange, cfg.IsTestnet, creds, logger)
		if err != nil {
			return venue{}, err
		}
		return venue{Client: client, Streamer: client}, nil
	}

	feed, err := dialExchange(ctx, cfg.PaperMarketData, false, domain.Credentials{}, logger)
	if err != nil {
		return venue{}, err
	}
	book, err := paper.New(paper.Config{
		Market:         feed,
		Logger:         logger,
		InitialBalance: cfg.PaperBalance,
		FeeRate:        cfg.PaperFeeRate,
	})
	if err != nil {
		return venue{}, err
	}
	logger.Info(ctx, "Paper trading enabled", map[string]interface{}{
		"marketData": cfg.PaperMarketData, "balance": cfg.PaperBalance, "feeRate": cfg.PaperFeeRate,
	})
	return venue{Client: book, Streamer: feed}, nil
}
