package tail

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	domainstats "gopalm/domain/stats"
	"gopalm/internal/errors"
)

// DefaultTailFraction is the share of the null above the first candidate threshold
const DefaultTailFraction = 0.25

// MinP is the smallest p-value the approximation reports
const MinP = math.SmallestNonzeroFloat64

// Approximator fits the upper tail of a null sample. The threshold starts at the
// (1 − TailFraction) quantile and moves up towards FinalQuantile until the fit passes
// a Kolmogorov–Smirnov goodness-of-fit test at level Alpha.
type Approximator struct {
	TailFraction   float64 `json:"tail_fraction"`
	FinalQuantile  float64 `json:"final_quantile"`
	MaxIterations  int     `json:"max_iterations"`
	MinExceedances int     `json:"min_exceedances"`
	Alpha          float64 `json:"alpha"`
}

// NewApproximator validates tailFraction and fills the remaining defaults
func NewApproximator(tailFraction float64) (Approximator, error) {
	if !(tailFraction > 0 && tailFraction < 1) {
		return Approximator{}, errors.InvalidInput(fmt.Sprintf("tail fraction %v must lie strictly between 0 and 1", tailFraction))
	}
	return Approximator{
		TailFraction:   tailFraction,
		FinalQuantile:  0.925,
		MaxIterations:  10,
		MinExceedances: 10,
		Alpha:          0.05,
	}, nil
}

// DefaultApproximator uses DefaultTailFraction
func DefaultApproximator() Approximator {
	a, _ := NewApproximator(DefaultTailFraction)
	return a
}

// Fit is an accepted tail model
type Fit struct {
	GPD
	Threshold       float64 `json:"threshold"`
	TailProbability float64 `json:"tail_probability"` // share of the null at or above Threshold
	Exceedances     int     `json:"exceedances"`
	KSPValue        float64 `json:"ks_p_value"`
}

// PValue is P(null ≥ observed) under the tail model, for observed ≥ Threshold
func (f Fit) PValue(observed float64) float64 {
	p := f.TailProbability * f.Survival(observed-f.Threshold)
	if p < MinP || math.IsNaN(p) {
		return MinP
	}
	return math.Min(p, 1)
}

// Result is one approximated p-value
type Result struct {
	P           float64 `json:"p"`
	Accelerated bool    `json:"accelerated"` // P came from the fitted tail
	Fallback    bool    `json:"fallback"`    // the tail was needed but no fit was accepted
}

// Summary describes a batch approximation
type Summary struct {
	Fit         *Fit `json:"fit,omitempty"`
	Accelerated int  `json:"accelerated"`
	Fallbacks   int  `json:"fallbacks"`
}

// Approximate estimates P(null ≥ observed) with the default settings and the given tail fraction
func Approximate(null []float64, observed, tailFraction float64) (Result, error) {
	a, err := NewApproximator(tailFraction)
	if err != nil {
		return Result{}, err
	}
	ps, summary := a.PValues(null, []float64{observed})
	return Result{
		P:           ps[0],
		Accelerated: summary.Accelerated == 1,
		Fallback:    summary.Fallbacks == 1,
	}, nil
}

// Fit sweeps thresholds and returns the first accepted tail model
func (a Approximator) Fit(null []float64) (Fit, bool) {
	sample := finite(null)
	if len(sample) < a.MinExceedances {
		return Fit{}, false
	}

	steps := a.MaxIterations
	if steps < 1 {
		steps = 1
	}
	start := 1 - a.TailFraction
	end := math.Max(a.FinalQuantile, start)

	for i := 0; i < steps; i++ {
		q := start
		if steps > 1 {
			q = start + float64(i)*(end-start)/float64(steps-1)
		}
		threshold, err := stats.Percentile(sample, q*100)
		if err != nil {
			return Fit{}, false
		}

		var excess []float64
		for _, v := range sample {
			if v >= threshold {
				excess = append(excess, v-threshold)
			}
		}
		if len(excess) < a.MinExceedances {
			return Fit{}, false
		}

		mean, err := stats.Mean(excess)
		if err != nil {
			return Fit{}, false
		}
		variance, err := stats.SampleVariance(excess)
		if err != nil {
			return Fit{}, false
		}
		gpd, ok := FitMoments(mean, variance)
		if !ok {
			return Fit{}, false
		}

		pKS := ksPValue(ksStatistic(excess, gpd.CDF), len(excess))
		if pKS > a.Alpha {
			return Fit{
				GPD:             gpd,
				Threshold:       threshold,
				TailProbability: float64(len(excess)) / float64(len(sample)),
				Exceedances:     len(excess),
				KSPValue:        pKS,
			}, true
		}
	}
	return Fit{}, false
}

// PValues approximates P(null ≥ x) for every observed x with one tail fit. Values
// below the fitted threshold, and every value when no fit is accepted, use the
// empirical proportion. NaN observations yield NaN.
func (a Approximator) PValues(null []float64, observed []float64) ([]float64, Summary) {
	out := make([]float64, len(observed))
	var summary Summary

	sample := finite(null)
	fit, ok := a.Fit(sample)
	if ok {
		summary.Fit = &fit
	}

	// without a fit, the tail region starts where the first threshold would have been
	region := math.Inf(1)
	if ok {
		region = fit.Threshold
	} else if len(sample) > 0 {
		if t, err := stats.Percentile(sample, (1-a.TailFraction)*100); err == nil {
			region = t
		}
	}

	for i, x := range observed {
		switch {
		case math.IsNaN(x):
			out[i] = math.NaN()
		case ok && x >= fit.Threshold:
			out[i] = fit.PValue(x)
			summary.Accelerated++
		default:
			out[i] = empirical(sample, x)
			if !ok && x >= region {
				summary.Fallbacks++
			}
		}
	}
	return out, summary
}

func empirical(sample []float64, x float64) float64 {
	if len(sample) == 0 {
		return 1
	}
	count := 0
	for _, v := range sample {
		if domainstats.AtLeast(v, x) {
			count++
		}
	}
	return float64(count) / float64(len(sample))
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
