package backtester

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/ibs-backtester/pkg/types"
)

const daysPerYear = 365.25

// CalculateMetrics summarizes a trade ledger and equity curve. It works on
// either the stock ledger or an option ledger converted via
// types.StockTrades. Returns on a contributing account are measured against
// initial capital plus total contributions.
func CalculateMetrics(trades []types.Trade, equity []types.EquityPoint, initialCapital, totalContribution decimal.Decimal) *types.PerformanceMetrics {
	metrics := &types.PerformanceMetrics{}

	var winning, losing int
	var totalWins, totalLosses decimal.Decimal
	for _, trade := range trades {
		switch {
		case trade.PnL.IsPositive():
			winning++
			totalWins = totalWins.Add(trade.PnL)
		case trade.PnL.IsNegative():
			losing++
			totalLosses = totalLosses.Add(trade.PnL.Abs())
		}
	}

	metrics.TotalTrades = len(trades)
	metrics.WinningTrades = winning
	metrics.LosingTrades = losing

	if len(trades) > 0 {
		metrics.WinRate = decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(len(trades))))
	}
	if winning > 0 {
		metrics.AvgWin = totalWins.Div(decimal.NewFromInt(int64(winning)))
	}
	if losing > 0 {
		metrics.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(losing)))
	}
	if totalLosses.IsPositive() {
		metrics.ProfitFactor = totalWins.Div(totalLosses)
	}
	if len(trades) > 0 {
		lossRate := decimal.NewFromInt(1).Sub(metrics.WinRate)
		metrics.Expectancy = metrics.WinRate.Mul(metrics.AvgWin).Sub(lossRate.Mul(metrics.AvgLoss))
	}

	if len(equity) == 0 {
		return metrics
	}

	base := initialCapital.Add(totalContribution)
	final := equity[len(equity)-1].Value
	if base.IsPositive() {
		metrics.TotalReturn = final.Sub(base).Div(base)
	}

	// Drawdown points already carry running-peak drawdowns; the maximum is a
	// single pass over the curve.
	for _, point := range equity {
		if point.DrawdownPct.GreaterThan(metrics.MaxDrawdown) {
			metrics.MaxDrawdown = point.DrawdownPct
		}
	}

	days := int(equity[len(equity)-1].Date - equity[0].Date)
	if days > 0 && base.IsPositive() && final.IsPositive() {
		ratio, _ := final.Div(base).Float64()
		cagr := math.Pow(ratio, daysPerYear/float64(days)) - 1
		metrics.CAGR = decimal.NewFromFloat(cagr)
	}

	return metrics
}
