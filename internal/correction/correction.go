// Package correction turns a null distribution into uncorrected, FDR and FWE p-values.
package correction

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gopalm/domain/stats"
	"gopalm/internal/errors"
	"gopalm/internal/tail"
)

// Options controls Correct
type Options struct {
	// AccelTail replaces empirical tail p-values with generalized Pareto estimates
	AccelTail bool
	Tail      tail.Approximator
	Logger    *slog.Logger
}

// Output holds the three p-value maps for one statistic
// INVARIANTS:
// - every slice has one entry per feature
// - untestable features carry p = 1 in every map
// - FDR[j] ≥ Uncorrected[j]
// - FWE[j] ≥ Uncorrected[j], except where an accelerated FWE falls below the empirical floor
type Output struct {
	Uncorrected []float64 `json:"uncorrected"`
	FDR         []float64 `json:"fdr"`
	FWE         []float64 `json:"fwe"`
	Untestable  []bool    `json:"untestable"`

	Accelerated   int `json:"accelerated"`
	TailFallbacks int `json:"tail_fallbacks"`
}

// Floor is the smallest empirical p-value for a null of total arrangements
func Floor(total int) float64 {
	if total < 1 {
		return 1
	}
	return 1 / float64(total)
}

// Correct derives all p-value maps from one null distribution
func Correct(null *stats.Null, opts Options) (Output, error) {
	if null == nil || null.Permutations < 1 {
		return Output{}, errors.InvalidInput("correction: empty null distribution")
	}
	m := null.Observed.Len()
	if len(null.Exceedances) != m || len(null.Max) != null.Permutations {
		return Output{}, errors.Newf(errors.CodeInternalError,
			"correction: null buffers disagree (%d features, %d exceedances, %d maxima for %d arrangements)",
			m, len(null.Exceedances), len(null.Max), null.Permutations)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := Output{Untestable: null.Observed.Untestable()}
	observed := extremities(null)
	floor := Floor(null.Permutations)

	out.Uncorrected = Uncorrected(null)
	uncAccelerated := make([]bool, m)
	if opts.AccelTail && null.HasFull() {
		for j := 0; j < m; j++ {
			if out.Untestable[j] {
				continue
			}
			ps, summary := opts.Tail.PValues(withoutIdentity(null.FeatureNull(j)), []float64{observed[j]})
			if summary.Accelerated > 0 {
				out.Uncorrected[j] = ps[0]
				uncAccelerated[j] = true
				out.Accelerated++
			}
			out.TailFallbacks += summary.Fallbacks
		}
	}

	if opts.AccelTail {
		fwe, summary := acceleratedFWE(observed, null.Max, floor, opts.Tail)
		out.FWE = fwe
		out.Accelerated += summary.Accelerated
		out.TailFallbacks += summary.Fallbacks
		if summary.Fit == nil {
			logger.Debug("tail fit rejected for max-statistic null; using empirical FWE",
				"arrangements", null.Permutations)
		}
	} else {
		out.FWE = FWE(observed, null.Max, floor)
	}

	for j := range out.FWE {
		if out.Untestable[j] {
			out.Uncorrected[j], out.FWE[j] = 1, 1
			continue
		}
		// the max null dominates every feature null; a clipped empirical uncorrected
		// value must not erase an accelerated FWE estimate below the floor
		if !opts.AccelTail || uncAccelerated[j] || out.FWE[j] >= floor {
			out.FWE[j] = math.Max(out.FWE[j], out.Uncorrected[j])
		}
	}
	out.FDR = BenjaminiHochberg(out.Uncorrected, out.Untestable)

	if out.TailFallbacks > 0 {
		logger.Debug("tail approximation fell back to empirical p-values", "features", out.TailFallbacks)
	}
	return out, nil
}

// Uncorrected is the proportion of arrangements at least as extreme as the observed
// value, identity included, so it never falls below 1/total. Untestable features get 1.
func Uncorrected(null *stats.Null) []float64 {
	out := make([]float64, len(null.Exceedances))
	total := float64(null.Permutations)
	for j, c := range null.Exceedances {
		if math.IsNaN(null.Observed.Values[j]) {
			out[j] = 1
			continue
		}
		out[j] = clip(float64(c)/total, Floor(null.Permutations))
	}
	return out
}

// FWE compares each observed extremity with the max-statistic null
func FWE(observed, maxNull []float64, floor float64) []float64 {
	out := make([]float64, len(observed))
	for j, x := range observed {
		if math.IsNaN(x) {
			out[j] = 1
			continue
		}
		count := 0
		for _, v := range maxNull {
			if stats.AtLeast(v, x) {
				count++
			}
		}
		out[j] = clip(float64(count)/float64(len(maxNull)), floor)
	}
	return out
}

func acceleratedFWE(observed, maxNull []float64, floor float64, approx tail.Approximator) ([]float64, tail.Summary) {
	ps, summary := approx.PValues(withoutIdentity(maxNull), observed)
	empirical := FWE(observed, maxNull, floor)
	for j := range ps {
		accelerated := summary.Fit != nil && observed[j] >= summary.Fit.Threshold
		if math.IsNaN(observed[j]) || !accelerated {
			// accelerated values stay unclipped; everything else is the clipped empirical estimate
			ps[j] = empirical[j]
		}
	}
	return ps, summary
}

// BenjaminiHochberg applies the step-up FDR adjustment over the testable features:
// adj(i) = min over k ≥ i of m·p(k)/k, capped at 1. Untestable features get 1.
func BenjaminiHochberg(p []float64, untestable []bool) []float64 {
	out := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for j := range p {
		if (untestable != nil && untestable[j]) || math.IsNaN(p[j]) {
			out[j] = 1
			continue
		}
		idx = append(idx, j)
	}
	if len(idx) == 0 {
		return out
	}

	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	m := float64(len(idx))
	running := 1.0
	for rank := len(idx); rank >= 1; rank-- {
		j := idx[rank-1]
		adj := p[j] * m / float64(rank)
		if adj < running {
			running = adj
		}
		// p·m/m can round below p
		out[j] = math.Min(1, math.Max(running, p[j]))
	}
	return out
}

// CombineMax is the element-wise maximum of several max-statistic nulls built on the
// same arrangement sequence
func CombineMax(nulls []*stats.Null) ([]float64, error) {
	if len(nulls) == 0 {
		return nil, errors.InvalidInput("correction: no nulls to combine")
	}
	total := nulls[0].Permutations
	combined := make([]float64, total)
	for k := range combined {
		combined[k] = math.Inf(-1)
	}
	for i, n := range nulls {
		if n.Permutations != total {
			return nil, errors.InvalidInput(fmt.Sprintf(
				"correction: null %d has %d arrangements, expected %d", i+1, n.Permutations, total))
		}
		for k, v := range n.Max {
			if !math.IsNaN(v) && v > combined[k] {
				combined[k] = v
			}
		}
	}
	for k, v := range combined {
		if math.IsInf(v, -1) {
			combined[k] = math.NaN()
		}
	}
	return combined, nil
}

// CrossContrastFWE corrects one null against the combined max of a family of nulls.
// As in Correct, an accelerated estimate below the empirical floor is not raised to
// the uncorrected p-value.
func CrossContrastFWE(null *stats.Null, combinedMax []float64, opts Options) []float64 {
	observed := extremities(null)
	floor := Floor(null.Permutations)
	var out []float64
	if opts.AccelTail {
		out, _ = acceleratedFWE(observed, combinedMax, floor, opts.Tail)
	} else {
		out = FWE(observed, combinedMax, floor)
	}
	unc := Uncorrected(null)
	for j := range out {
		if !opts.AccelTail || out[j] >= floor {
			out[j] = math.Max(out[j], unc[j])
		}
	}
	return out
}

func extremities(null *stats.Null) []float64 {
	out := make([]float64, null.Observed.Len())
	for j, v := range null.Observed.Values {
		out[j] = stats.Extremity(null.Observed.Kind, v, null.TwoTailed)
	}
	return out
}

// withoutIdentity drops index 0, the observed statistic, from a sample used for tail fitting
func withoutIdentity(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	return values[1:]
}

func clip(p, floor float64) float64 {
	return math.Min(1, math.Max(p, floor))
}
