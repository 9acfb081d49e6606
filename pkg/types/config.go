package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CommissionType tags the commission model variant.
type CommissionType string

const (
	CommissionFixed      CommissionType = "fixed"
	CommissionPercentage CommissionType = "percentage"
	CommissionCombined   CommissionType = "combined"
)

// CommissionModel is a closed tagged variant: fixed amount per execution,
// percentage of gross trade value, or both combined.
type CommissionModel struct {
	Type   CommissionType  `json:"type"`
	Amount decimal.Decimal `json:"amount,omitempty"`
	Rate   decimal.Decimal `json:"rate,omitempty"` // fraction of gross value, e.g. 0.001
}

// Charge returns the commission on a gross trade value.
func (m CommissionModel) Charge(grossValue decimal.Decimal) decimal.Decimal {
	switch m.Type {
	case CommissionFixed:
		return m.Amount
	case CommissionPercentage:
		return grossValue.Mul(m.Rate)
	case CommissionCombined:
		return m.Amount.Add(grossValue.Mul(m.Rate))
	default:
		return decimal.Zero
	}
}

// ContributionConfig adds a fixed amount to free cash on the first trading
// day at or after DayOfMonth each month (or the month's last trading day if
// that day never occurs).
type ContributionConfig struct {
	Amount     decimal.Decimal `json:"amount"`
	DayOfMonth int             `json:"dayOfMonth"`
}

// StrategyParams configures the single-position IBS engine.
type StrategyParams struct {
	LowIBS              float64             `json:"lowIbs"`
	HighIBS             float64             `json:"highIbs"`
	MaxHoldDays         int                 `json:"maxHoldDays"`
	CapitalUsagePct     float64             `json:"capitalUsagePct"` // investable fraction of free cash, default 100
	Leverage            float64             `json:"leverage"`        // default 1
	Commission          CommissionModel     `json:"commission"`
	AllowSameDayReentry bool                `json:"allowSameDayReentry"`
	Contribution        *ContributionConfig `json:"contribution,omitempty"`
}

// Normalize fills defaulted fields in place.
func (p *StrategyParams) Normalize() {
	if p.CapitalUsagePct <= 0 {
		p.CapitalUsagePct = 100
	}
	if p.Leverage <= 0 {
		p.Leverage = 1
	}
}

// Validate rejects caller configuration mistakes before any simulation runs.
func (p StrategyParams) Validate() error {
	if !(p.LowIBS > 0 && p.LowIBS < p.HighIBS && p.HighIBS <= 1) {
		return fmt.Errorf("ibs thresholds must satisfy 0 < low < high <= 1, got low=%v high=%v", p.LowIBS, p.HighIBS)
	}
	if p.MaxHoldDays <= 0 {
		return fmt.Errorf("maxHoldDays must be positive, got %d", p.MaxHoldDays)
	}
	if p.CapitalUsagePct > 100 {
		return fmt.Errorf("capitalUsagePct must not exceed 100, got %v", p.CapitalUsagePct)
	}
	if p.Contribution != nil {
		if p.Contribution.Amount.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("contribution amount must be positive")
		}
		if p.Contribution.DayOfMonth < 1 || p.Contribution.DayOfMonth > 31 {
			return fmt.Errorf("contribution dayOfMonth must be 1..31, got %d", p.Contribution.DayOfMonth)
		}
	}
	return nil
}

// OptionsParams configures the options overlay.
type OptionsParams struct {
	StrikePct       float64 `json:"strikePct"`       // strike = spot * (1 + pct/100), rounded to whole dollars
	VolAdjPct       float64 `json:"volAdjPct"`       // additive vol stress, vol *= (1 + pct/100)
	CapitalPct      float64 `json:"capitalPct"`      // share of current cash invested per entry
	RiskFreeRate    float64 `json:"riskFreeRate"`    // default 0.05
	ExpirationWeeks int     `json:"expirationWeeks"` // default 4
	MaxHoldingDays  int     `json:"maxHoldingDays"`  // default 30
	VolWindow       int     `json:"volWindow"`       // trailing closes for vol estimation, default 30
}

// Normalize fills defaulted fields in place.
func (p *OptionsParams) Normalize() {
	if p.RiskFreeRate == 0 {
		p.RiskFreeRate = 0.05
	}
	if p.ExpirationWeeks <= 0 {
		p.ExpirationWeeks = 4
	}
	if p.MaxHoldingDays <= 0 {
		p.MaxHoldingDays = 30
	}
	if p.VolWindow <= 0 {
		p.VolWindow = 30
	}
}

// Validate rejects caller configuration mistakes.
func (p OptionsParams) Validate() error {
	if p.CapitalPct <= 0 || p.CapitalPct > 100 {
		return fmt.Errorf("capitalPct must be in (0, 100], got %v", p.CapitalPct)
	}
	return nil
}

// ServerConfig configures the HTTP/WebSocket boundary.
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	WebSocketPath string        `json:"websocketPath"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
}

// DataConfig configures the on-disk instrument store.
type DataConfig struct {
	DataDir string `json:"dataDir"`
}
