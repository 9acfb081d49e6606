package backtester_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/ibs-backtester/internal/backtester"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

func tradeWithPnL(pnl int64) types.Trade {
	return types.Trade{Symbol: "SPY", PnL: decimal.NewFromInt(pnl)}
}

func TestCalculateMetricsTradeStats(t *testing.T) {
	trades := []types.Trade{tradeWithPnL(100), tradeWithPnL(200), tradeWithPnL(-100)}

	metrics := backtester.CalculateMetrics(trades, nil, decimal.NewFromInt(10000), decimal.Zero)

	if metrics.TotalTrades != 3 || metrics.WinningTrades != 2 || metrics.LosingTrades != 1 {
		t.Errorf("Unexpected trade counts: %d/%d/%d",
			metrics.TotalTrades, metrics.WinningTrades, metrics.LosingTrades)
	}
	if winRate, _ := metrics.WinRate.Float64(); math.Abs(winRate-2.0/3.0) > 1e-9 {
		t.Errorf("Expected win rate 2/3, got %v", winRate)
	}
	if !metrics.AvgWin.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected avg win 150, got %s", metrics.AvgWin)
	}
	if !metrics.AvgLoss.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected avg loss 100, got %s", metrics.AvgLoss)
	}
	if !metrics.ProfitFactor.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected profit factor 3, got %s", metrics.ProfitFactor)
	}
	expectancy, _ := metrics.Expectancy.Float64()
	if math.Abs(expectancy-(2.0/3.0*150-1.0/3.0*100)) > 1e-9 {
		t.Errorf("Unexpected expectancy %v", expectancy)
	}
}

func TestCalculateMetricsBreakevenTradesCountNeither(t *testing.T) {
	trades := []types.Trade{tradeWithPnL(0), tradeWithPnL(100)}

	metrics := backtester.CalculateMetrics(trades, nil, decimal.NewFromInt(10000), decimal.Zero)

	if metrics.TotalTrades != 2 || metrics.WinningTrades != 1 || metrics.LosingTrades != 0 {
		t.Errorf("Breakeven trade miscounted: %d/%d/%d",
			metrics.TotalTrades, metrics.WinningTrades, metrics.LosingTrades)
	}
	if !metrics.ProfitFactor.IsZero() {
		t.Errorf("Profit factor undefined without losses, expected 0, got %s", metrics.ProfitFactor)
	}
}

func TestCalculateMetricsReturnAndCAGR(t *testing.T) {
	d0 := types.NewDay(2023, 1, 2)
	equity := []types.EquityPoint{
		{Date: d0, Value: decimal.NewFromInt(10000)},
		{Date: d0 + 365, Value: decimal.NewFromInt(11000)},
	}

	metrics := backtester.CalculateMetrics(nil, equity, decimal.NewFromInt(10000), decimal.Zero)

	if ret, _ := metrics.TotalReturn.Float64(); math.Abs(ret-0.1) > 1e-9 {
		t.Errorf("Expected total return 0.1, got %v", ret)
	}
	cagr, _ := metrics.CAGR.Float64()
	expected := math.Pow(1.1, 365.25/365) - 1
	if math.Abs(cagr-expected) > 1e-9 {
		t.Errorf("Expected CAGR %v, got %v", expected, cagr)
	}
}

func TestCalculateMetricsReturnNetOfContributions(t *testing.T) {
	d0 := types.NewDay(2023, 1, 2)
	// 2000 of the final value arrived as contributions, not performance.
	equity := []types.EquityPoint{
		{Date: d0, Value: decimal.NewFromInt(10000)},
		{Date: d0 + 100, Value: decimal.NewFromInt(12000)},
	}

	metrics := backtester.CalculateMetrics(nil, equity,
		decimal.NewFromInt(10000), decimal.NewFromInt(2000))

	if !metrics.TotalReturn.IsZero() {
		t.Errorf("Contributed capital is not return, expected 0, got %s", metrics.TotalReturn)
	}
}

func TestCalculateMetricsMaxDrawdown(t *testing.T) {
	d0 := types.NewDay(2023, 1, 2)
	equity := []types.EquityPoint{
		{Date: d0, Value: decimal.NewFromInt(10000), DrawdownPct: decimal.Zero},
		{Date: d0 + 1, Value: decimal.NewFromInt(9000), DrawdownPct: decimal.NewFromFloat(0.1)},
		{Date: d0 + 2, Value: decimal.NewFromInt(9500), DrawdownPct: decimal.NewFromFloat(0.05)},
	}

	metrics := backtester.CalculateMetrics(nil, equity, decimal.NewFromInt(10000), decimal.Zero)

	if !metrics.MaxDrawdown.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("Expected max drawdown 0.1, got %s", metrics.MaxDrawdown)
	}
}

func TestCalculateMetricsEmptyInputs(t *testing.T) {
	metrics := backtester.CalculateMetrics(nil, nil, decimal.NewFromInt(10000), decimal.Zero)

	if metrics.TotalTrades != 0 || !metrics.WinRate.IsZero() || !metrics.CAGR.IsZero() {
		t.Errorf("Expected zero metrics for empty inputs, got %+v", metrics)
	}
}
