// Package indicator computes the per-bar indicators consumed by the signal
// scanner and the options overlay.
package indicator

import (
	"math"

	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// IBS returns the Internal Bar Strength of a single bar:
// (close - low) / (high - low). A bar with high == low has no defined IBS
// and yields NaN; downstream consumers treat NaN as "no signal".
func IBS(bar types.Bar) float64 {
	rng := bar.High.Sub(bar.Low)
	if rng.IsZero() {
		return math.NaN()
	}
	v, _ := bar.Close.Sub(bar.Low).Div(rng).Float64()
	return v
}

// IBSSeries computes IBS for every bar, parallel to the input slice.
func IBSSeries(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = IBS(bar)
	}
	return out
}
