// Package backtester implements the deterministic single-position IBS
// portfolio engine.
package backtester

import (
	"github.com/shopspring/decimal"

	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// SlippageModel adjusts an execution price before commission is applied.
// Buys fill above the reference price, sells below.
type SlippageModel interface {
	Adjust(price decimal.Decimal, side types.Side) decimal.Decimal
}

// NoSlippage fills at the reference price.
type NoSlippage struct{}

// Adjust returns the price unchanged.
func (NoSlippage) Adjust(price decimal.Decimal, side types.Side) decimal.Decimal {
	return price
}

// FixedSlippage applies a fixed basis-point adjustment against the trader.
type FixedSlippage struct {
	BasisPoints decimal.Decimal
}

// NewFixedSlippage creates a fixed slippage model.
func NewFixedSlippage(bps decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{BasisPoints: bps}
}

// Adjust moves the price against the trader by the configured basis points.
func (f *FixedSlippage) Adjust(price decimal.Decimal, side types.Side) decimal.Decimal {
	frac := f.BasisPoints.Div(decimal.NewFromInt(10000))
	if side == types.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(frac))
}
