// Package rate converts cumulative counters into per-second rates.
//
// Every calculator follows the same contract: the first observation of
// an entity yields zero for all delta-derived rates, a counter that
// went backwards (process restart) yields zero rather than a negative
// rate, and the previous sample is always overwritten after computing.
package rate

// perSec computes a rate from a cumulative counter pair, clamping
// counter resets to zero.
func perSec(cur, prev uint64, elapsedSec float64) float64 {
	if elapsedSec <= 0 || cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsedSec
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}
