// Package paramstore persists trade parameters as YAML.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// Store keeps one TradeParameters document in a file.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ ports.ParameterStore = (*Store)(nil)

func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and validates the file. Fields missing from the file keep their
// default values.
func (s *Store) Load(ctx context.Context) (domain.TradeParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.TradeParameters{}, fmt.Errorf("parameter file %s: %w", s.path, ports.ErrNotFound)
	}
	if err != nil {
		return domain.TradeParameters{}, fmt.Errorf("read parameter file: %w", err)
	}

	params := domain.DefaultTradeParameters()
	if err := yaml.Unmarshal(data, &params); err != nil {
		return domain.TradeParameters{}, fmt.Errorf("parse parameter file %s: %w: %w", s.path, ports.ErrConfigurationError, err)
	}
	if err := params.Validate(); err != nil {
		return domain.TradeParameters{}, fmt.Errorf("parameter file %s: %w", s.path, err)
	}
	return params, nil
}

// Save validates params and replaces the file through a rename.
func (s *Store) Save(ctx context.Context, params domain.TradeParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create parameter dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write parameter file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
