package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"autotrader/config"
	"autotrader/internal/adapters/credstore"
	"autotrader/internal/domain"
)

var (
	credPath       string
	credPassphrase string
	credAPIKey     string
	credSecret     string
	credAPIPass    string
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage the encrypted API credentials file",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Encrypt API credentials into the credentials file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if credAPIKey == "" || credSecret == "" {
			return fmt.Errorf("--api-key and --secret are required")
		}
		store, err := credentialFile()
		if err != nil {
			return err
		}
		creds := domain.Credentials{APIKey: credAPIKey, SecretKey: credSecret, Passphrase: credAPIPass}
		if err := store.Save(cmd.Context(), creds); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "credentials written to %s\n", store.Path)
		return nil
	},
}

var credentialsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Decrypt the credentials file and print the masked API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credentialFile()
		if err != nil {
			return err
		}
		creds, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "api key:    %s\npassphrase: %t\n", mask(creds.APIKey), creds.Passphrase != "")
		return nil
	},
}

func init() {
	credentialsCmd.PersistentFlags().StringVar(&credPath, "file", "", "credentials file (default CREDENTIALS_PATH)")
	credentialsCmd.PersistentFlags().StringVar(&credPassphrase, "passphrase", "", "encryption passphrase (default CREDENTIALS_PASSPHRASE)")
	credentialsSetCmd.Flags().StringVarP(&credAPIKey, "api-key", "k", "", "exchange API key")
	credentialsSetCmd.Flags().StringVarP(&credSecret, "secret", "s", "", "exchange API secret")
	credentialsSetCmd.Flags().StringVarP(&credAPIPass, "api-passphrase", "p", "", "exchange API passphrase (OKX)")

	credentialsCmd.AddCommand(credentialsSetCmd, credentialsShowCmd)
	rootCmd.AddCommand(credentialsCmd)
}

// credentialFile resolves flags over the environment.
func credentialFile() (*credstore.FileProvider, error) {
	path, pass := credPath, credPassphrase
	if path == "" || pass == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		if path == "" {
			path = cfg.CredentialsPath
		}
		if pass == "" {
			pass = cfg.CredentialsPassphrase
		}
	}
	if path == "" {
		return nil, fmt.Errorf("no credentials file: pass --file or set CREDENTIALS_PATH")
	}
	return &credstore.FileProvider{Path: path, Passphrase: pass}, nil
}

func mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
