package backtester

import (
	"math"

	"github.com/quantdesk/ibs-backtester/internal/timeline"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// Scanner evaluates entry and exit eligibility against IBS thresholds.
// A NaN IBS (degenerate bar) never produces a signal.
type Scanner struct {
	lowIBS  float64
	highIBS float64
}

// NewScanner creates a scanner for the given thresholds.
func NewScanner(lowIBS, highIBS float64) *Scanner {
	return &Scanner{lowIBS: lowIBS, highIBS: highIBS}
}

// ShouldExit reports whether an open position should exit on this IBS value.
func (sc *Scanner) ShouldExit(ibs float64) bool {
	return !math.IsNaN(ibs) && ibs > sc.highIBS
}

// ShouldEnter reports whether an instrument is oversold enough to enter.
func (sc *Scanner) ShouldEnter(ibs float64) bool {
	return !math.IsNaN(ibs) && ibs < sc.lowIBS
}

// Candidate is an instrument eligible for entry on a given date.
type Candidate struct {
	Series   *timeline.Series
	BarIndex int
	IBS      float64
}

// EntryCandidate scans every instrument with a bar on the given date and
// returns the one with the strictly lowest IBS below the entry threshold.
// Equal IBS values resolve lexicographically by symbol, so the choice never
// depends on instrument iteration order.
func (sc *Scanner) EntryCandidate(instruments []*timeline.Series, d types.Day) (Candidate, bool) {
	var best Candidate
	found := false
	for _, s := range instruments {
		i, ok := s.IndexOn(d)
		if !ok {
			continue
		}
		ibs := s.IBS[i]
		if !sc.ShouldEnter(ibs) {
			continue
		}
		if !found || ibs < best.IBS || (ibs == best.IBS && s.Symbol < best.Series.Symbol) {
			best = Candidate{Series: s, BarIndex: i, IBS: ibs}
			found = true
		}
	}
	return best, found
}
