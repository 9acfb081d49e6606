package types_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/ibs-backtester/pkg/types"
)

func TestCommissionCharge(t *testing.T) {
	gross := decimal.NewFromInt(10000)

	fixed := types.CommissionModel{Type: types.CommissionFixed, Amount: decimal.NewFromFloat(1.5)}
	if got := fixed.Charge(gross); !got.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("Fixed commission: expected 1.5, got %s", got)
	}

	pct := types.CommissionModel{Type: types.CommissionPercentage, Rate: decimal.NewFromFloat(0.001)}
	if got := pct.Charge(gross); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Percentage commission: expected 10, got %s", got)
	}

	combined := types.CommissionModel{
		Type:   types.CommissionCombined,
		Amount: decimal.NewFromInt(1),
		Rate:   decimal.NewFromFloat(0.001),
	}
	if got := combined.Charge(gross); !got.Equal(decimal.NewFromInt(11)) {
		t.Errorf("Combined commission: expected 11, got %s", got)
	}

	var zero types.CommissionModel
	if got := zero.Charge(gross); !got.IsZero() {
		t.Errorf("Zero-value commission model should charge nothing, got %s", got)
	}
}

func TestStrategyParamsNormalize(t *testing.T) {
	p := types.StrategyParams{LowIBS: 0.2, HighIBS: 0.8, MaxHoldDays: 5}
	p.Normalize()

	if p.CapitalUsagePct != 100 {
		t.Errorf("Expected capitalUsagePct default 100, got %v", p.CapitalUsagePct)
	}
	if p.Leverage != 1 {
		t.Errorf("Expected leverage default 1, got %v", p.Leverage)
	}
}

func TestStrategyParamsValidate(t *testing.T) {
	valid := types.StrategyParams{LowIBS: 0.2, HighIBS: 0.8, MaxHoldDays: 5, CapitalUsagePct: 100, Leverage: 1}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid params rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*types.StrategyParams)
	}{
		{"low above high", func(p *types.StrategyParams) { p.LowIBS = 0.9 }},
		{"high above one", func(p *types.StrategyParams) { p.HighIBS = 1.5 }},
		{"zero low", func(p *types.StrategyParams) { p.LowIBS = 0 }},
		{"zero max hold", func(p *types.StrategyParams) { p.MaxHoldDays = 0 }},
		{"capital over 100", func(p *types.StrategyParams) { p.CapitalUsagePct = 150 }},
		{"negative contribution", func(p *types.StrategyParams) {
			p.Contribution = &types.ContributionConfig{Amount: decimal.NewFromInt(-1), DayOfMonth: 1}
		}},
		{"contribution day out of range", func(p *types.StrategyParams) {
			p.Contribution = &types.ContributionConfig{Amount: decimal.NewFromInt(100), DayOfMonth: 32}
		}},
	}
	for _, tc := range cases {
		p := valid
		tc.mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestOptionsParamsDefaults(t *testing.T) {
	p := types.OptionsParams{CapitalPct: 10}
	p.Normalize()

	if p.RiskFreeRate != 0.05 {
		t.Errorf("Expected riskFreeRate 0.05, got %v", p.RiskFreeRate)
	}
	if p.ExpirationWeeks != 4 {
		t.Errorf("Expected expirationWeeks 4, got %v", p.ExpirationWeeks)
	}
	if p.MaxHoldingDays != 30 {
		t.Errorf("Expected maxHoldingDays 30, got %v", p.MaxHoldingDays)
	}
	if p.VolWindow != 30 {
		t.Errorf("Expected volWindow 30, got %v", p.VolWindow)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Valid params rejected: %v", err)
	}

	bad := types.OptionsParams{CapitalPct: 0}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for zero capitalPct")
	}
	bad.CapitalPct = 101
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for capitalPct above 100")
	}
}

func TestStockTradesConversion(t *testing.T) {
	ledger := []types.OptionTrade{
		{
			Trade:     types.Trade{Symbol: "SPY", PnL: decimal.NewFromInt(500)},
			Contracts: 10,
		},
	}
	trades := types.StockTrades(ledger)
	if len(trades) != 1 || trades[0].Symbol != "SPY" || !trades[0].PnL.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Unexpected conversion result: %+v", trades)
	}
}
