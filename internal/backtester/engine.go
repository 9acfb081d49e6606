package backtester

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/ibs-backtester/internal/timeline"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// position is the single open position. At most one instance is alive at any
// simulated moment, owned by the running engine invocation.
type position struct {
	series          *timeline.Series
	entryDate       types.Day
	entryPrice      decimal.Decimal
	quantity        int64
	margin          decimal.Decimal
	loan            decimal.Decimal
	entryCommission decimal.Decimal
	entryIBS        float64
}

// Engine walks the master timeline once, maintains at most one open position
// across all instruments, and produces the trade ledger and equity curve.
// A run is a pure, single-threaded function of its inputs: same bars and
// parameters always yield the same ledger.
type Engine struct {
	logger   *zap.Logger
	slippage SlippageModel
}

// NewEngine creates a new portfolio engine. A nil slippage model fills at
// the reference price.
func NewEngine(logger *zap.Logger, slippage SlippageModel) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slippage == nil {
		slippage = NoSlippage{}
	}
	return &Engine{logger: logger, slippage: slippage}
}

// Run executes one deterministic backtest over the union timeline of the
// given instruments. Malformed inputs fail before any simulation starts;
// expected market conditions (degenerate bars, unaffordable entries, missing
// bars) are silent skips, never errors.
func (e *Engine) Run(instruments []*timeline.Series, params types.StrategyParams, initialCapital decimal.Decimal) (*types.BacktestResult, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instruments supplied")
	}
	for _, s := range instruments {
		if s == nil || len(s.Bars) == 0 {
			return nil, fmt.Errorf("instrument series must not be empty")
		}
	}
	if initialCapital.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("initial capital must be positive, got %s", initialCapital)
	}
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	master := timeline.Master(instruments)
	scanner := NewScanner(params.LowIBS, params.HighIBS)
	portfolio := NewPortfolio(initialCapital)

	e.logger.Info("Starting backtest",
		zap.Int("instruments", len(instruments)),
		zap.Int("timelineDays", len(master)),
		zap.String("initialCapital", initialCapital.String()),
	)

	var pos *position
	trades := make([]types.Trade, 0)
	contributedMonth := 0

	for i, d := range master {
		if params.Contribution != nil {
			next := types.Day(-1)
			if i+1 < len(master) {
				next = master[i+1]
			}
			contributedMonth = applyContribution(portfolio, params.Contribution, d, next, contributedMonth)
		}

		exitedToday := false

		// Exit evaluation: only when the instrument traded today. The IBS
		// signal takes priority over the day-count exit when both fire.
		if pos != nil {
			if bi, ok := pos.series.IndexOn(d); ok {
				bar := pos.series.Bars[bi]
				var reason types.ExitReason
				switch {
				case scanner.ShouldExit(pos.series.IBS[bi]):
					reason = types.ExitIBSSignal
				case int(d-pos.entryDate) >= params.MaxHoldDays:
					reason = types.ExitMaxHoldDays
				}
				if reason != "" {
					trades = append(trades, e.closePosition(portfolio, pos, d, bar.Close, params, reason))
					pos = nil
					exitedToday = true
				}
			}
		}

		// Entry evaluation when flat.
		if pos == nil && (!exitedToday || params.AllowSameDayReentry) {
			if cand, ok := scanner.EntryCandidate(instruments, d); ok {
				pos = e.tryOpen(portfolio, cand, d, params)
			}
		}

		// A position still open on the final date is force-closed at the
		// instrument's last known close.
		if pos != nil && i == len(master)-1 {
			price, _ := pos.series.LastCloseOn(d)
			trades = append(trades, e.closePosition(portfolio, pos, d, price, params, types.ExitEndOfData))
			pos = nil
		}

		portfolio.RecordEquity(d, e.markToMarket(portfolio, pos, d, params))
	}

	equity := portfolio.Equity()
	finalValue := initialCapital
	if len(equity) > 0 {
		finalValue = equity[len(equity)-1].Value
	}

	metrics := CalculateMetrics(trades, equity, initialCapital, portfolio.TotalContribution())

	e.logger.Info("Backtest completed",
		zap.Int("trades", len(trades)),
		zap.String("finalValue", finalValue.String()),
		zap.String("maxDrawdown", metrics.MaxDrawdown.String()),
	)

	return &types.BacktestResult{
		Trades:            trades,
		Equity:            equity,
		FinalValue:        finalValue,
		MaxDrawdown:       metrics.MaxDrawdown,
		Metrics:           metrics,
		TotalContribution: portfolio.TotalContribution(),
		ContributionCount: portfolio.ContributionCount(),
	}, nil
}

// tryOpen sizes and opens a position at the candidate's close. Returns nil
// when the sized quantity is zero or free cash cannot cover margin plus
// entry commission; that is "no signal fires", not an error.
func (e *Engine) tryOpen(portfolio *Portfolio, cand Candidate, d types.Day, params types.StrategyParams) *position {
	bar := cand.Series.Bars[cand.BarIndex]
	entryPrice := e.slippage.Adjust(bar.Close, types.SideBuy)
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	leverage := decimal.NewFromFloat(params.Leverage)
	investable := portfolio.FreeCash().Mul(decimal.NewFromFloat(params.CapitalUsagePct / 100))
	quantity := investable.Mul(leverage).Div(entryPrice).IntPart()
	if quantity <= 0 {
		return nil
	}

	cost := entryPrice.Mul(decimal.NewFromInt(quantity))
	margin := cost.Div(leverage)
	entryCommission := params.Commission.Charge(cost)
	if portfolio.FreeCash().LessThan(margin.Add(entryCommission)) {
		e.logger.Debug("Entry skipped, insufficient free cash",
			zap.String("symbol", cand.Series.Symbol),
			zap.String("date", d.String()),
		)
		return nil
	}

	portfolio.Debit(margin.Add(entryCommission))

	e.logger.Debug("Position opened",
		zap.String("symbol", cand.Series.Symbol),
		zap.String("date", d.String()),
		zap.Int64("quantity", quantity),
		zap.Float64("ibs", cand.IBS),
	)

	return &position{
		series:          cand.Series,
		entryDate:       d,
		entryPrice:      entryPrice,
		quantity:        quantity,
		margin:          margin,
		loan:            cost.Sub(margin),
		entryCommission: entryCommission,
		entryIBS:        cand.IBS,
	}
}

// closePosition settles the position at the given reference price, releases
// margin and net proceeds back to free cash, and returns the ledger record.
func (e *Engine) closePosition(portfolio *Portfolio, pos *position, d types.Day, refPrice decimal.Decimal, params types.StrategyParams, reason types.ExitReason) types.Trade {
	exitPrice := e.slippage.Adjust(refPrice, types.SideSell)
	quantity := decimal.NewFromInt(pos.quantity)
	gross := exitPrice.Mul(quantity)
	exitCommission := params.Commission.Charge(gross)

	portfolio.Credit(gross.Sub(pos.loan).Sub(exitCommission))

	entryGross := pos.entryPrice.Mul(quantity)
	pnl := exitPrice.Sub(pos.entryPrice).Mul(quantity).Sub(pos.entryCommission).Sub(exitCommission)
	pnlPercent := decimal.Zero
	if entryGross.IsPositive() {
		pnlPercent = pnl.Div(entryGross)
	}

	e.logger.Debug("Position closed",
		zap.String("symbol", pos.series.Symbol),
		zap.String("date", d.String()),
		zap.String("reason", string(reason)),
		zap.String("pnl", pnl.String()),
	)

	return types.Trade{
		Symbol:       pos.series.Symbol,
		EntryDate:    pos.entryDate,
		ExitDate:     d,
		EntryPrice:   pos.entryPrice,
		ExitPrice:    exitPrice,
		Quantity:     pos.quantity,
		PnL:          pnl,
		PnLPercent:   pnlPercent,
		DurationDays: int(d - pos.entryDate),
		ExitReason:   reason,
		EntryIBS:     pos.entryIBS,
	}
}

// markToMarket values the portfolio on a date. An open position is valued at
// today's close, or its last known close when the instrument has no bar on
// the master date, net of the loan and the commission a liquidation today
// would cost.
func (e *Engine) markToMarket(portfolio *Portfolio, pos *position, d types.Day, params types.StrategyParams) decimal.Decimal {
	if pos == nil {
		return portfolio.FreeCash()
	}
	price, ok := pos.series.LastCloseOn(d)
	if !ok {
		price = pos.entryPrice
	}
	gross := price.Mul(decimal.NewFromInt(pos.quantity))
	liquidation := gross.Sub(pos.loan).Sub(params.Commission.Charge(gross))
	return portfolio.FreeCash().Add(liquidation)
}

// applyContribution credits at most one contribution per calendar month: on
// the first trading day whose day of month reaches the configured day, or on
// the month's last trading day when that day never occurs. Returns the
// year*12+month marker of the last credited month.
func applyContribution(portfolio *Portfolio, cfg *types.ContributionConfig, d, next types.Day, contributedMonth int) int {
	t := d.Time()
	monthKey := t.Year()*12 + int(t.Month())
	if monthKey == contributedMonth {
		return contributedMonth
	}

	lastTradingDayOfMonth := next < 0
	if next >= 0 {
		nt := next.Time()
		lastTradingDayOfMonth = nt.Year() != t.Year() || nt.Month() != t.Month()
	}

	if t.Day() >= cfg.DayOfMonth || lastTradingDayOfMonth {
		portfolio.Contribute(cfg.Amount)
		return monthKey
	}
	return contributedMonth
}
