package stats

import "math"

// Observation is one variant's raw tallies for a single metric.
type Observation struct {
	VariantID      string
	Name           string
	IsControl      bool
	Participants   int
	Conversions    int
	AvgMetricValue float64
}

// VariantResult contains computed statistics for a single variant
type VariantResult struct {
	VariantID      string  `json:"variant_id"`
	Name           string  `json:"name"`
	IsControl      bool    `json:"is_control"`
	Participants   int     `json:"participants"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	AvgMetricValue float64 `json:"avg_metric_value"`
	StandardError  float64 `json:"standard_error"`
	CILower        float64 `json:"ci_lower"`
	CIUpper        float64 `json:"ci_upper"`
	Uplift         float64 `json:"uplift"`  // vs control, percent; 0 for the control itself
	PValue         float64 `json:"p_value"` // two-proportion z-test vs control; 1 for the control itself
}

// Evaluation is the full statistical readout for a test's primary metric.
type Evaluation struct {
	Variants          []VariantResult `json:"variants"`
	TotalParticipants int             `json:"total_participants"`
	WinnerID          string          `json:"winner_id,omitempty"`
	IsSignificant     bool            `json:"is_significant"`
	ConfidenceLevel   float64         `json:"confidence_level"` // (1 - winner p-value) * 100, 0 without a winner
}

// Evaluate computes rates, intervals, uplift and significance for each
// variant against the control. Zero-participant variants degrade to rate 0
// and p-value 1 so the result is always computable.
func Evaluate(observations []Observation) *Evaluation {
	eval := &Evaluation{
		Variants: make([]VariantResult, len(observations)),
	}

	var control *Observation
	for i := range observations {
		if observations[i].IsControl {
			control = &observations[i]
			break
		}
	}

	controlRate := 0.0
	if control != nil && control.Participants > 0 {
		controlRate = float64(control.Conversions) / float64(control.Participants)
	}

	for i, obs := range observations {
		rate := 0.0
		if obs.Participants > 0 {
			rate = float64(obs.Conversions) / float64(obs.Participants)
		}

		se := StandardError(rate, obs.Participants)
		ciLower, ciUpper := WaldInterval(obs.Conversions, obs.Participants, 0.95)

		r := VariantResult{
			VariantID:      obs.VariantID,
			Name:           obs.Name,
			IsControl:      obs.IsControl,
			Participants:   obs.Participants,
			Conversions:    obs.Conversions,
			ConversionRate: rate,
			AvgMetricValue: obs.AvgMetricValue,
			StandardError:  se,
			CILower:        ciLower,
			CIUpper:        ciUpper,
			PValue:         1,
		}

		if !obs.IsControl && control != nil {
			if controlRate > 0 {
				r.Uplift = (rate - controlRate) / controlRate * 100
			}
			r.PValue = TwoProportionPValue(obs.Conversions, obs.Participants, control.Conversions, control.Participants)
		}

		eval.Variants[i] = r
		eval.TotalParticipants += obs.Participants
	}

	// Winner: non-control variants that beat control significantly, best
	// uplift first
	bestUplift := 0.0
	for i := range eval.Variants {
		v := &eval.Variants[i]
		if v.IsControl {
			continue
		}
		if v.PValue < 0.05 && v.Uplift > 0 && v.Uplift > bestUplift {
			bestUplift = v.Uplift
			eval.WinnerID = v.VariantID
			eval.IsSignificant = true
			eval.ConfidenceLevel = (1 - v.PValue) * 100
		}
	}

	return eval
}

// StandardError returns sqrt(p(1-p)/n) for a proportion, 0 when n is 0.
func StandardError(p float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(p * (1 - p) / float64(n))
}

// TwoProportionPValue performs a two-sided two-proportion z-test and returns
// the p-value. With no data on either side, or a degenerate pooled standard
// error, it returns 1: the null cannot be rejected with no information.
func TwoProportionPValue(aConv, aN, bConv, bN int) float64 {
	if aN == 0 || bN == 0 {
		return 1
	}

	pA := float64(aConv) / float64(aN)
	pB := float64(bConv) / float64(bN)

	// Pooled proportion under the null hypothesis (pA = pB)
	pooled := float64(aConv+bConv) / float64(aN+bN)

	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aN) + 1/float64(bN)))
	if se == 0 {
		return 1
	}

	z := (pA - pB) / se

	return 2 * (1 - normalCDF(math.Abs(z)))
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
func normalCDF(x float64) float64 {
	// Use the approximation from Abramowitz and Stegun
	// Handbook of Mathematical Functions, formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
