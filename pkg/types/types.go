package types

import (
	"github.com/shopspring/decimal"
)

// Bar represents a single daily OHLCV bar, supplied pre-adjusted for splits.
type Bar struct {
	Date   Day             `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitIBSSignal     ExitReason = "ibs_signal"
	ExitMaxHoldDays   ExitReason = "max_hold_days"
	ExitEndOfData     ExitReason = "end_of_data"
	ExitOptionExpired ExitReason = "option_expired"
	ExitMaxHold       ExitReason = "max_hold"
)

// Side represents the direction of an execution.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a closed stock position, immutable once appended to the ledger.
type Trade struct {
	Symbol       string          `json:"symbol"`
	EntryDate    Day             `json:"entryDate"`
	ExitDate     Day             `json:"exitDate"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	ExitPrice    decimal.Decimal `json:"exitPrice"`
	Quantity     int64           `json:"quantity"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   decimal.Decimal `json:"pnlPercent"`
	DurationDays int             `json:"durationDays"`
	ExitReason   ExitReason      `json:"exitReason"`
	EntryIBS     float64         `json:"entryIbs,omitempty"`
}

// OptionTrade is a closed call option position tied to a stock signal.
// Entry and exit prices are integer dollars per contract (the per-share
// price already multiplied by the 100-share multiplier).
type OptionTrade struct {
	Trade
	Strike            int64   `json:"strike"`
	ExpirationDate    Day     `json:"expirationDate"`
	ImpliedVolAtEntry float64 `json:"impliedVolAtEntry"`
	ImpliedVolAtExit  float64 `json:"impliedVolAtExit"`
	OptionEntryPrice  int64   `json:"optionEntryPrice"`
	OptionExitPrice   int64   `json:"optionExitPrice"`
	Contracts         int64   `json:"contracts"`
}

// EquityPoint is one point on an equity curve. DrawdownPct is measured
// against the running peak observed so far in the same curve.
type EquityPoint struct {
	Date        Day             `json:"date"`
	Value       decimal.Decimal `json:"value"`
	Cash        decimal.Decimal `json:"cash"`
	DrawdownPct decimal.Decimal `json:"drawdownPct"`
}

// PerformanceMetrics summarizes a trade ledger and equity curve.
type PerformanceMetrics struct {
	TotalReturn   decimal.Decimal `json:"totalReturn"`
	CAGR          decimal.Decimal `json:"cagr"`
	WinRate       decimal.Decimal `json:"winRate"`
	ProfitFactor  decimal.Decimal `json:"profitFactor"`
	MaxDrawdown   decimal.Decimal `json:"maxDrawdown"`
	TotalTrades   int             `json:"totalTrades"`
	WinningTrades int             `json:"winningTrades"`
	LosingTrades  int             `json:"losingTrades"`
	AvgWin        decimal.Decimal `json:"avgWin"`
	AvgLoss       decimal.Decimal `json:"avgLoss"`
	Expectancy    decimal.Decimal `json:"expectancy"`
}

// BacktestResult is the output of one stock engine run.
type BacktestResult struct {
	Trades            []Trade             `json:"trades"`
	Equity            []EquityPoint       `json:"equity"`
	FinalValue        decimal.Decimal     `json:"finalValue"`
	MaxDrawdown       decimal.Decimal     `json:"maxDrawdown"`
	Metrics           *PerformanceMetrics `json:"metrics"`
	TotalContribution decimal.Decimal     `json:"totalContribution"`
	ContributionCount int                 `json:"contributionCount"`
}

// OptionsResult is the output of one options overlay run.
type OptionsResult struct {
	Trades      []OptionTrade       `json:"trades"`
	Equity      []EquityPoint       `json:"equity"`
	FinalValue  decimal.Decimal     `json:"finalValue"`
	MaxDrawdown decimal.Decimal     `json:"maxDrawdown"`
	Metrics     *PerformanceMetrics `json:"metrics"`
}

// StockTrades converts an option ledger into plain trades so that metrics
// can be computed from either ledger with the same calculator.
func StockTrades(trades []OptionTrade) []Trade {
	out := make([]Trade, len(trades))
	for i, t := range trades {
		out[i] = t.Trade
	}
	return out
}
