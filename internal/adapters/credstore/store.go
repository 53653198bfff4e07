// Package credstore keeps exchange API credentials encrypted at rest.
package credstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

const fileVersion = 1

type fileFormat struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	Passphrase string `json:"passphrase,omitempty"`
}

// FileProvider reads and writes an encrypted credentials file.
type FileProvider struct {
	Path       string
	Passphrase string
}

var _ ports.CredentialProvider = (*FileProvider)(nil)

// Save encrypts creds under a fresh salt and replaces the file atomically.
func (p *FileProvider) Save(ctx context.Context, creds domain.Credentials) error {
	salt, err := newSalt()
	if err != nil {
		return err
	}
	key, err := deriveKey(p.Passphrase, salt)
	if err != nil {
		return fmt.Errorf("derive key: %w: %w", ports.ErrConfigurationError, err)
	}
	enc, err := newEncryptor(key, fileVersion)
	if err != nil {
		return err
	}

	out := fileFormat{Version: fileVersion, Salt: base64.StdEncoding.EncodeToString(salt)}
	if out.APIKey, err = enc.encrypt(creds.APIKey); err != nil {
		return err
	}
	if out.SecretKey, err = enc.encrypt(creds.SecretKey); err != nil {
		return err
	}
	if creds.Passphrase != "" {
		if out.Passphrase, err = enc.encrypt(creds.Passphrase); err != nil {
			return err
		}
	}

	data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return os.Rename(tmp, p.Path)
}

// Load decrypts the file. A missing file yields ports.ErrNotFound.
func (p *FileProvider) Load(ctx context.Context) (domain.Credentials, error) {
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Credentials{}, fmt.Errorf("credentials file %s: %w", p.Path, ports.ErrNotFound)
	}
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	var in fileFormat
	if err := sonic.Unmarshal(data, &in); err != nil {
		return domain.Credentials{}, fmt.Errorf("decode credentials: %w: %w", ports.ErrConfigurationError, err)
	}
	if in.Version != fileVersion {
		return domain.Credentials{}, fmt.Errorf("credentials file version %d: %w", in.Version, ports.ErrConfigurationError)
	}
	salt, err := base64.StdEncoding.DecodeString(in.Salt)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("decode salt: %w: %w", ports.ErrConfigurationError, err)
	}
	key, err := deriveKey(p.Passphrase, salt)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("derive key: %w: %w", ports.ErrConfigurationError, err)
	}
	enc, err := newEncryptor(key, in.Version)
	if err != nil {
		return domain.Credentials{}, err
	}

	var creds domain.Credentials
	if creds.APIKey, err = enc.decrypt(in.APIKey); err != nil {
		return domain.Credentials{}, fmt.Errorf("api key: %w: %w", ports.ErrConfigurationError, err)
	}
	if creds.SecretKey, err = enc.decrypt(in.SecretKey); err != nil {
		return domain.Credentials{}, fmt.Errorf("secret key: %w: %w", ports.ErrConfigurationError, err)
	}
	if in.Passphrase != "" {
		if creds.Passphrase, err = enc.decrypt(in.Passphrase); err != nil {
			return domain.Credentials{}, fmt.Errorf("passphrase: %w: %w", ports.ErrConfigurationError, err)
		}
	}
	return creds, nil
}

// StaticProvider returns credentials that were supplied directly, e.g. from env.
type StaticProvider struct {
	Credentials domain.Credentials
}

func (p StaticProvider) Load(ctx context.Context) (domain.Credentials, error) {
	if p.Credentials.Empty() {
		return domain.Credentials{}, fmt.Errorf("no credentials in environment: %w", ports.ErrNotFound)
	}
	return p.Credentials, nil
}

// FirstOf tries providers in order and returns the first that has credentials.
type FirstOf []ports.CredentialProvider

func (f FirstOf) Load(ctx context.Context) (domain.Credentials, error) {
	for _, p := range f {
		creds, err := p.Load(ctx)
		if err == nil {
			return creds, nil
		}
		if !errors.Is(err, ports.ErrNotFound) {
			return domain.Credentials{}, err
		}
	}
	return domain.Credentials{}, fmt.Errorf("no credential source configured: %w", ports.ErrNotFound)
}
