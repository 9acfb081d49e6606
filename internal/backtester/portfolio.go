package backtester

import (
	"github.com/shopspring/decimal"

	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// Portfolio tracks the cash ledger and equity curve for a single engine run.
// It is owned exclusively by that run; two invocations never share one.
type Portfolio struct {
	freeCash decimal.Decimal

	peak    decimal.Decimal
	hasPeak bool
	equity  []types.EquityPoint

	totalContribution decimal.Decimal
	contributionCount int
}

// NewPortfolio creates a portfolio seeded with the initial capital.
func NewPortfolio(initialCapital decimal.Decimal) *Portfolio {
	return &Portfolio{freeCash: initialCapital}
}

// FreeCash returns the currently uncommitted cash.
func (p *Portfolio) FreeCash() decimal.Decimal {
	return p.freeCash
}

// Debit removes cash, Credit adds it.
func (p *Portfolio) Debit(amount decimal.Decimal) {
	p.freeCash = p.freeCash.Sub(amount)
}

// Credit adds cash to the ledger.
func (p *Portfolio) Credit(amount decimal.Decimal) {
	p.freeCash = p.freeCash.Add(amount)
}

// Contribute credits a scheduled monthly contribution and tracks the totals.
func (p *Portfolio) Contribute(amount decimal.Decimal) {
	p.freeCash = p.freeCash.Add(amount)
	p.totalContribution = p.totalContribution.Add(amount)
	p.contributionCount++
}

// TotalContribution returns the sum of all contributions so far.
func (p *Portfolio) TotalContribution() decimal.Decimal {
	return p.totalContribution
}

// ContributionCount returns how many contributions were credited.
func (p *Portfolio) ContributionCount() int {
	return p.contributionCount
}

// RecordEquity appends an equity point, updating the running peak in O(1).
// The peak is never recomputed from history.
func (p *Portfolio) RecordEquity(d types.Day, totalValue decimal.Decimal) {
	if !p.hasPeak || totalValue.GreaterThan(p.peak) {
		p.peak = totalValue
		p.hasPeak = true
	}
	dd := decimal.Zero
	if p.peak.IsPositive() {
		dd = p.peak.Sub(totalValue).Div(p.peak)
	}
	p.equity = append(p.equity, types.EquityPoint{
		Date:        d,
		Value:       totalValue,
		Cash:        p.freeCash,
		DrawdownPct: dd,
	})
}

// Equity returns the curve recorded so far.
func (p *Portfolio) Equity() []types.EquityPoint {
	return p.equity
}
