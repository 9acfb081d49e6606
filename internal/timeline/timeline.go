// Package timeline builds per-instrument date indexes and the master
// simulation clock shared by all instruments in a run.
package timeline

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/ibs-backtester/internal/indicator"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// Series is one instrument's bar history plus derived lookups. It is built
// once per backtest invocation and read-only afterwards.
type Series struct {
	Symbol    string
	Bars      []types.Bar
	IBS       []float64 // parallel to Bars, NaN for degenerate bars
	DateIndex map[types.Day]int
}

// NewSeries validates the bar sequence and precomputes the IBS series and
// the date→index lookup. Bars must be strictly increasing by date.
func NewSeries(symbol string, bars []types.Bar) (*Series, error) {
	if symbol == "" {
		return nil, fmt.Errorf("instrument symbol must not be empty")
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("instrument %s has no bars", symbol)
	}

	index := make(map[types.Day]int, len(bars))
	for i, bar := range bars {
		if i > 0 && bar.Date <= bars[i-1].Date {
			return nil, fmt.Errorf("instrument %s: bar dates not strictly increasing at %s", symbol, bar.Date)
		}
		index[bar.Date] = i
	}

	return &Series{
		Symbol:    symbol,
		Bars:      bars,
		IBS:       indicator.IBSSeries(bars),
		DateIndex: index,
	}, nil
}

// IndexOn returns the bar index for a date, if the instrument traded that day.
func (s *Series) IndexOn(d types.Day) (int, bool) {
	i, ok := s.DateIndex[d]
	return i, ok
}

// BarOn returns the bar for a date, if the instrument traded that day.
func (s *Series) BarOn(d types.Day) (types.Bar, bool) {
	if i, ok := s.DateIndex[d]; ok {
		return s.Bars[i], true
	}
	return types.Bar{}, false
}

// IndexAtOrBefore returns the index of the most recent bar at or before the
// given date. The second return is false when the instrument has no bar
// that early.
func (s *Series) IndexAtOrBefore(d types.Day) (int, bool) {
	// First bar strictly after d.
	i := sort.Search(len(s.Bars), func(i int) bool { return s.Bars[i].Date > d })
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// LastCloseOn returns the most recent close at or before the given date.
func (s *Series) LastCloseOn(d types.Day) (decimal.Decimal, bool) {
	i, ok := s.IndexAtOrBefore(d)
	if !ok {
		return decimal.Decimal{}, false
	}
	return s.Bars[i].Close, true
}

// ClosesThrough returns the trailing closes ending at bar index i (inclusive),
// at most window values, as floats for the volatility estimator.
func (s *Series) ClosesThrough(i, window int) []float64 {
	if i < 0 || i >= len(s.Bars) {
		return nil
	}
	start := i + 1 - window
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, i+1-start)
	for _, bar := range s.Bars[start : i+1] {
		v, _ := bar.Close.Float64()
		out = append(out, v)
	}
	return out
}

// Master returns the strictly ascending union of all instrument bar dates.
func Master(series []*Series) []types.Day {
	seen := make(map[types.Day]struct{})
	for _, s := range series {
		for _, bar := range s.Bars {
			seen[bar.Date] = struct{}{}
		}
	}
	out := make([]types.Day, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
