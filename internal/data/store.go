// Package data provides on-disk storage and loading of instrument bar
// series. The engine itself never touches disk; this store sits at its
// input boundary.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/quantdesk/ibs-backtester/internal/timeline"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// Store provides access to historical daily bars, one JSON file per symbol.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.Bar
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata describes the available data for a symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate types.Day `json:"startDate"`
	EndDate   types.Day `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewStore creates a store rooted at dataDir, creating it if needed.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.Bar),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// LoadBars loads the daily bars for a symbol, ascending by date.
func (s *Store) LoadBars(ctx context.Context, symbol string) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		return cached, nil
	}

	filename := filepath.Join(s.dataDir, symbol+".json")
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read bars for %s: %w", symbol, err)
	}

	var bars []types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse bars for %s: %w", symbol, err)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })

	s.cache[symbol] = bars
	return bars, nil
}

// LoadSeries loads and indexes the given symbols for an engine run.
func (s *Store) LoadSeries(ctx context.Context, symbols []string) ([]*timeline.Series, error) {
	series := make([]*timeline.Series, 0, len(symbols))
	for _, symbol := range symbols {
		bars, err := s.LoadBars(ctx, symbol)
		if err != nil {
			return nil, err
		}
		ts, err := timeline.NewSeries(symbol, bars)
		if err != nil {
			return nil, err
		}
		series = append(series, ts)
	}
	return series, nil
}

// SaveBars writes a symbol's bars to disk and refreshes the metadata index.
func (s *Store) SaveBars(symbol string, bars []types.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	raw, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bars: %w", err)
	}

	filename := filepath.Join(s.dataDir, symbol+".json")
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return fmt.Errorf("failed to write bars for %s: %w", symbol, err)
	}

	s.cache[symbol] = sorted

	if len(sorted) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: sorted[0].Date,
			EndDate:   sorted[len(sorted)-1].Date,
			BarCount:  len(sorted),
		}
	}

	if err := s.saveMetadata(); err != nil {
		s.logger.Warn("Failed to save metadata", zap.Error(err))
	}

	return nil
}

// Symbols returns every symbol known to the store, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Metadata returns the data range for a symbol.
func (s *Store) Metadata(symbol string) (*SymbolMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[symbol]; ok {
		return meta, nil
	}
	return nil, fmt.Errorf("no data available for symbol %s", symbol)
}

// ClearCache drops the in-memory bar cache.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.Bar)
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.dataDir, "metadata.json")
}

func (s *Store) loadMetadata() error {
	raw, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return s.scanDataDir()
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

// scanDataDir rebuilds the symbol index from bar files when no metadata
// file exists yet.
func (s *Store) scanDataDir() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || name == "metadata.json" {
			continue
		}
		symbol := strings.TrimSuffix(name, ".json")
		s.metadata[symbol] = &SymbolMetadata{Symbol: symbol}
	}
	return nil
}

func (s *Store) saveMetadata() error {
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.metadataPath(), raw, 0644)
}
