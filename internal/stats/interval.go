package stats

import "math"

// WaldInterval calculates the normal-approximation (Wald) confidence
// interval for a binomial proportion, clamped to [0, 1].
func WaldInterval(successes, trials int, confidence float64) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	z := ZScore(confidence)
	p := float64(successes) / float64(trials)
	spread := z * math.Sqrt(p*(1-p)/float64(trials))

	lower = p - spread
	upper = p + spread

	// Clamp to [0, 1]
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}

	return lower, upper
}

// ZScore returns the z-score for a given confidence level.
// Common values:
//   - 0.90 -> 1.645
//   - 0.95 -> 1.96
//   - 0.99 -> 2.576
func ZScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.96
	case confidence >= 0.90:
		return 1.645
	case confidence >= 0.85:
		return 1.44
	default:
		return 1.28
	}
}
