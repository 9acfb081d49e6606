package data_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/ibs-backtester/internal/data"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

func storeBar(d types.Day, close float64) types.Bar {
	return types.Bar{
		Date:  d,
		Open:  decimal.NewFromFloat(close),
		High:  decimal.NewFromFloat(close + 5),
		Low:   decimal.NewFromFloat(close - 5),
		Close: decimal.NewFromFloat(close),
	}
}

func TestStoreSaveAndLoadBars(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	d0 := types.NewDay(2024, 1, 2)
	bars := []types.Bar{
		storeBar(d0+1, 102), // out of order on purpose
		storeBar(d0, 101),
		storeBar(d0+2, 103),
	}
	if err := store.SaveBars("SPY", bars); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}

	store.ClearCache()
	loaded, err := store.LoadBars(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("LoadBars failed: %v", err)
	}

	if len(loaded) != 3 {
		t.Fatalf("Expected 3 bars, got %d", len(loaded))
	}
	for i := 1; i < len(loaded); i++ {
		if loaded[i].Date <= loaded[i-1].Date {
			t.Fatalf("Bars not sorted ascending at index %d", i)
		}
	}
	if !loaded[0].Close.Equal(decimal.NewFromInt(101)) {
		t.Errorf("Expected first close 101, got %s", loaded[0].Close)
	}
}

func TestStoreLoadSeries(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	d0 := types.NewDay(2024, 1, 2)
	if err := store.SaveBars("SPY", []types.Bar{storeBar(d0, 100), storeBar(d0+1, 101)}); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}

	series, err := store.LoadSeries(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("LoadSeries failed: %v", err)
	}
	if len(series) != 1 || series[0].Symbol != "SPY" {
		t.Fatalf("Unexpected series: %+v", series)
	}
	if len(series[0].IBS) != 2 {
		t.Errorf("Expected IBS computed for every bar, got %d values", len(series[0].IBS))
	}

	if _, err := store.LoadSeries(context.Background(), []string{"MISSING"}); err == nil {
		t.Error("Expected error for unknown symbol")
	}
}

func TestStoreMetadataPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	d0 := types.NewDay(2024, 1, 2)

	first, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := first.SaveBars("QQQ", []types.Bar{storeBar(d0, 100), storeBar(d0+1, 101)}); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}

	second, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	symbols := second.Symbols()
	if len(symbols) != 1 || symbols[0] != "QQQ" {
		t.Fatalf("Expected [QQQ], got %v", symbols)
	}

	meta, err := second.Metadata("QQQ")
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.BarCount != 2 || meta.StartDate != d0 || meta.EndDate != d0+1 {
		t.Errorf("Unexpected metadata: %+v", meta)
	}

	if _, err := second.Metadata("MISSING"); err == nil {
		t.Error("Expected error for unknown symbol")
	}
}
