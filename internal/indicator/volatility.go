package indicator

import "math"

// DefaultVolWindow is the trailing close count used when no window is given.
const DefaultVolWindow = 30

const tradingDaysPerYear = 252

// AnnualizedVolatility estimates annualized volatility from a trailing window
// of closing prices: the sample standard deviation (n-1) of log returns
// between consecutive closes, scaled by sqrt(252). Fewer than two usable
// prices yield 0.
func AnnualizedVolatility(prices []float64, window int) float64 {
	if window <= 0 {
		window = DefaultVolWindow
	}
	if len(prices) > window {
		prices = prices[len(prices)-window:]
	}
	if len(prices) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sumSquares float64
	for _, r := range returns {
		diff := r - mean
		sumSquares += diff * diff
	}
	daily := math.Sqrt(sumSquares / float64(len(returns)-1))

	return daily * math.Sqrt(tradingDaysPerYear)
}
