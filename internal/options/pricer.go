// Package options prices synthetic call options and overlays them on the
// stock trade ledger produced by the portfolio engine.
package options

import (
	"math"
	"time"

	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// ContractMultiplier is the share count of one option contract.
const ContractMultiplier = 100

const defaultExpirationDays = 30

// CallPricer produces theoretical and tradable call prices. The overlay
// engine depends on this interface so tests can substitute a fixed pricer.
type CallPricer interface {
	// Price returns the theoretical per-share value of a call.
	Price(spot, strike, yearsToExpiry, riskFreeRate, vol float64) float64
	// ExecutionPrice discretizes a theoretical per-share price into an
	// integer per-contract dollar amount per market tick conventions.
	ExecutionPrice(theoretical float64) int64
}

// BlackScholes prices European calls with the closed-form solution.
type BlackScholes struct{}

// Price returns the Black-Scholes value of a call, or intrinsic value when
// the option has expired or the inputs degenerate.
func (BlackScholes) Price(spot, strike, yearsToExpiry, riskFreeRate, vol float64) float64 {
	intrinsic := math.Max(0, spot-strike)
	if yearsToExpiry <= 0 {
		return intrinsic
	}
	if vol <= 0 || spot <= 0 || strike <= 0 {
		return intrinsic
	}

	sqrtT := math.Sqrt(yearsToExpiry)
	d1 := (math.Log(spot/strike) + (riskFreeRate+vol*vol/2)*yearsToExpiry) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT

	return spot*normCDF(d1) - strike*math.Exp(-riskFreeRate*yearsToExpiry)*normCDF(d2)
}

// ExecutionPrice applies tick-size rounding on the contract price
// (theoretical * 100): per-share prices under half a cent are worthless,
// under $3.00 round to the nearest cent per share, and at $3.00 or above to
// the nearest 5 cents per share.
func (BlackScholes) ExecutionPrice(theoretical float64) int64 {
	if theoretical < 0.005 {
		return 0
	}
	contract := theoretical * ContractMultiplier
	if theoretical < 3.0 {
		return int64(math.Round(contract))
	}
	return 5 * int64(math.Round(contract/5))
}

// ExpirationDate adds weeks*7 days (30 days when weeks is unset) and then
// advances to the next Friday; a Friday target is kept.
func ExpirationDate(from types.Day, weeks int) types.Day {
	days := defaultExpirationDays
	if weeks > 0 {
		days = weeks * 7
	}
	d := from + types.Day(days)
	for d.Weekday() != time.Friday {
		d++
	}
	return d
}

// YearsToMaturity converts a date span to years.
func YearsToMaturity(from, to types.Day) float64 {
	return float64(to-from) / 365.25
}

// normCDF is the cumulative standard normal distribution via the
// Abramowitz & Stegun 7.1.26 rational approximation (max error ~7.5e-8).
func normCDF(x float64) float64 {
	if x < 0 {
		return 1 - normCDF(-x)
	}
	k := 1 / (1 + 0.2316419*x)
	poly := k * (0.319381530 + k*(-0.356563782+k*(1.781477937+k*(-1.821255978+k*1.330274429))))
	return 1 - math.Exp(-x*x/2)/math.Sqrt(2*math.Pi)*poly
}
