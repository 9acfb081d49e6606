package options

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/ibs-backtester/internal/backtester"
	"github.com/quantdesk/ibs-backtester/internal/indicator"
	"github.com/quantdesk/ibs-backtester/internal/timeline"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// VolEstimator supplies annualized volatility from trailing closing prices.
// The overlay depends on this interface so tests can pin volatility.
type VolEstimator interface {
	Annualized(prices []float64) float64
}

// WindowEstimator is the default estimator: sample stddev of log returns
// over a trailing window, annualized.
type WindowEstimator struct {
	Window int
}

// Annualized implements VolEstimator.
func (w WindowEstimator) Annualized(prices []float64) float64 {
	return indicator.AnnualizedVolatility(prices, w.Window)
}

// openOption is one live synthetic call position.
type openOption struct {
	series      *timeline.Series
	entryDate   types.Day
	stockExit   types.Day
	stockReason types.ExitReason
	strike      int64
	expiration  types.Day
	contracts   int64
	entryPrice  int64 // dollars per contract
	entryIV     float64
	entrySpot   decimal.Decimal
}

// Overlay consumes a stock trade ledger plus market data and produces a
// parallel options trade ledger and equity curve, pricing synthetic calls
// against each stock signal. Like the stock engine, one run is a pure
// function of its inputs.
type Overlay struct {
	logger *zap.Logger
	pricer CallPricer
	vol    VolEstimator
}

// NewOverlay creates an overlay engine. Nil pricer or estimator fall back to
// Black-Scholes and the trailing-window estimator.
func NewOverlay(logger *zap.Logger, pricer CallPricer, vol VolEstimator) *Overlay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pricer == nil {
		pricer = BlackScholes{}
	}
	return &Overlay{logger: logger, pricer: pricer, vol: vol}
}

// RunSingle overlays options on a single instrument's stock trades.
func (o *Overlay) RunSingle(series *timeline.Series, stockTrades []types.Trade, params types.OptionsParams, initialCapital decimal.Decimal) (*types.OptionsResult, error) {
	if series == nil {
		return nil, fmt.Errorf("instrument series must not be nil")
	}
	filtered := make([]types.Trade, 0, len(stockTrades))
	for _, t := range stockTrades {
		if t.Symbol == "" || t.Symbol == series.Symbol {
			t.Symbol = series.Symbol
			filtered = append(filtered, t)
		}
	}
	return o.RunMulti([]*timeline.Series{series}, filtered, params, initialCapital)
}

// RunMulti overlays options on stock trades across several instruments that
// share a single cash pool. Instruments are processed in alphabetical order
// on every date, so an entry later in the same date sees the cash already
// reduced by an earlier one.
func (o *Overlay) RunMulti(instruments []*timeline.Series, stockTrades []types.Trade, params types.OptionsParams, initialCapital decimal.Decimal) (*types.OptionsResult, error) {
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

	est := o.vol
	if est == nil {
		est = WindowEstimator{Window: params.VolWindow}
	}

	ordered := make([]*timeline.Series, len(instruments))
	copy(ordered, instruments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Symbol < ordered[j].Symbol })

	bySymbol := make(map[string]*timeline.Series, len(ordered))
	for _, s := range ordered {
		bySymbol[s.Symbol] = s
	}

	entriesByDay := make(map[types.Day][]types.Trade)
	for _, t := range stockTrades {
		entriesByDay[t.EntryDate] = append(entriesByDay[t.EntryDate], t)
	}
	for d := range entriesByDay {
		day := entriesByDay[d]
		sort.SliceStable(day, func(i, j int) bool { return day[i].Symbol < day[j].Symbol })
	}

	master := timeline.Master(ordered)

	o.logger.Info("Starting options overlay",
		zap.Int("instruments", len(ordered)),
		zap.Int("stockTrades", len(stockTrades)),
		zap.Int("timelineDays", len(master)),
	)

	cash := initialCapital
	var open []*openOption
	ledger := make([]types.OptionTrade, 0)
	var peak decimal.Decimal
	hasPeak := false
	equity := make([]types.EquityPoint, 0, len(master))

	for _, d := range master {
		// Close pass: settle positions whose stock signal exited, whose
		// option expired, or whose holding window ran out.
		remaining := open[:0]
		for _, pos := range open {
			m := o.markPosition(pos, d, params, est)

			var reason types.ExitReason
			switch {
			case d >= pos.stockExit:
				reason = pos.stockReason
				if reason == "" {
					reason = types.ExitIBSSignal
				}
			case m.tte <= 0:
				reason = types.ExitOptionExpired
			case int(d-pos.entryDate) >= params.MaxHoldingDays:
				reason = types.ExitMaxHold
			}
			if reason == "" {
				remaining = append(remaining, pos)
				continue
			}

			settle := m.price
			if m.tte <= 0 {
				settle = intrinsicContract(m.spot, pos.strike)
			}
			proceeds := decimal.NewFromInt(pos.contracts * settle)
			cash = cash.Add(proceeds)
			ledger = append(ledger, o.closedTrade(pos, d, m, settle, reason))
		}
		open = remaining

		// Entry pass: open a call for every stock entry dated today, in
		// symbol order, drawing from the shared cash pool.
		for _, stock := range entriesByDay[d] {
			pos, ok := o.tryOpen(bySymbol[stock.Symbol], stock, d, params, est, cash)
			if !ok {
				continue
			}
			cash = cash.Sub(decimal.NewFromInt(pos.contracts * pos.entryPrice))
			open = append(open, pos)
		}

		// Equity point: cash plus marked value of whatever stayed open.
		total := cash
		for _, pos := range open {
			m := o.markPosition(pos, d, params, est)
			total = total.Add(decimal.NewFromInt(pos.contracts * m.price))
		}
		if !hasPeak || total.GreaterThan(peak) {
			peak = total
			hasPeak = true
		}
		dd := decimal.Zero
		if peak.IsPositive() {
			dd = peak.Sub(total).Div(peak)
		}
		equity = append(equity, types.EquityPoint{Date: d, Value: total, Cash: cash, DrawdownPct: dd})
	}

	finalValue := initialCapital
	if len(equity) > 0 {
		finalValue = equity[len(equity)-1].Value
	}
	metrics := backtester.CalculateMetrics(types.StockTrades(ledger), equity, initialCapital, decimal.Zero)

	o.logger.Info("Options overlay completed",
		zap.Int("trades", len(ledger)),
		zap.String("finalValue", finalValue.String()),
	)

	return &types.OptionsResult{
		Trades:      ledger,
		Equity:      equity,
		FinalValue:  finalValue,
		MaxDrawdown: metrics.MaxDrawdown,
		Metrics:     metrics,
	}, nil
}

// mark is one position's valuation on a date.
type mark struct {
	spot  float64
	vol   float64
	tte   float64
	price int64 // execution-rounded theoretical, dollars per contract
}

// markPosition values an open position with today's spot (last known close
// when the instrument has no bar on the master date), freshly estimated
// volatility, and the remaining time to expiry.
func (o *Overlay) markPosition(pos *openOption, d types.Day, params types.OptionsParams, est VolEstimator) mark {
	i, ok := pos.series.IndexAtOrBefore(d)
	if !ok {
		i = 0
	}
	spot, _ := pos.series.Bars[i].Close.Float64()
	vol := est.Annualized(pos.series.ClosesThrough(i, params.VolWindow)) * (1 + params.VolAdjPct/100)
	tte := YearsToMaturity(d, pos.expiration)
	theo := o.pricer.Price(spot, float64(pos.strike), tte, params.RiskFreeRate, vol)
	return mark{spot: spot, vol: vol, tte: tte, price: o.pricer.ExecutionPrice(theo)}
}

// tryOpen prices and sizes a new call against a stock entry signal. Zero
// volatility, a worthless rounded price, and an unaffordable first contract
// are silent skips.
func (o *Overlay) tryOpen(series *timeline.Series, stock types.Trade, d types.Day, params types.OptionsParams, est VolEstimator, cash decimal.Decimal) (*openOption, bool) {
	if series == nil {
		return nil, false
	}
	i, ok := series.IndexOn(d)
	if !ok {
		return nil, false
	}
	bar := series.Bars[i]
	spot, _ := bar.Close.Float64()

	vol := est.Annualized(series.ClosesThrough(i, params.VolWindow)) * (1 + params.VolAdjPct/100)
	if vol <= 0 {
		o.logger.Debug("Option entry skipped, no volatility estimate",
			zap.String("symbol", series.Symbol), zap.String("date", d.String()))
		return nil, false
	}

	strike := int64(math.Round(spot * (1 + params.StrikePct/100)))
	if strike <= 0 {
		return nil, false
	}
	expiration := ExpirationDate(d, params.ExpirationWeeks)
	theo := o.pricer.Price(spot, float64(strike), YearsToMaturity(d, expiration), params.RiskFreeRate, vol)
	contractPrice := o.pricer.ExecutionPrice(theo)
	if contractPrice == 0 {
		o.logger.Debug("Option entry skipped, worthless contract",
			zap.String("symbol", series.Symbol), zap.String("date", d.String()))
		return nil, false
	}

	invest := cash.Mul(decimal.NewFromFloat(params.CapitalPct / 100))
	contracts := invest.Div(decimal.NewFromInt(contractPrice)).IntPart()
	if contracts < 1 {
		return nil, false
	}

	o.logger.Debug("Option opened",
		zap.String("symbol", series.Symbol),
		zap.String("date", d.String()),
		zap.Int64("strike", strike),
		zap.Int64("contracts", contracts),
		zap.Int64("contractPrice", contractPrice),
	)

	return &openOption{
		series:      series,
		entryDate:   d,
		stockExit:   stock.ExitDate,
		stockReason: stock.ExitReason,
		strike:      strike,
		expiration:  expiration,
		contracts:   contracts,
		entryPrice:  contractPrice,
		entryIV:     vol,
		entrySpot:   bar.Close,
	}, true
}

// closedTrade builds the immutable ledger record for a settled position.
func (o *Overlay) closedTrade(pos *openOption, d types.Day, m mark, settle int64, reason types.ExitReason) types.OptionTrade {
	pnl := decimal.NewFromInt(pos.contracts * (settle - pos.entryPrice))
	cost := decimal.NewFromInt(pos.contracts * pos.entryPrice)
	pnlPercent := decimal.Zero
	if cost.IsPositive() {
		pnlPercent = pnl.Div(cost)
	}
	return types.OptionTrade{
		Trade: types.Trade{
			Symbol:       pos.series.Symbol,
			EntryDate:    pos.entryDate,
			ExitDate:     d,
			EntryPrice:   pos.entrySpot,
			ExitPrice:    decimal.NewFromFloat(m.spot),
			Quantity:     pos.contracts,
			PnL:          pnl,
			PnLPercent:   pnlPercent,
			DurationDays: int(d - pos.entryDate),
			ExitReason:   reason,
		},
		Strike:            pos.strike,
		ExpirationDate:    pos.expiration,
		ImpliedVolAtEntry: pos.entryIV,
		ImpliedVolAtExit:  m.vol,
		OptionEntryPrice:  pos.entryPrice,
		OptionExitPrice:   settle,
		Contracts:         pos.contracts,
	}
}

// intrinsicContract is the expiry settlement in dollars per contract.
func intrinsicContract(spot float64, strike int64) int64 {
	return int64(math.Round(math.Max(0, spot-float64(strike)) * ContractMultiplier))
}
