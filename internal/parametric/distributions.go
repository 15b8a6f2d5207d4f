// Package parametric converts GLM statistics to equivalent standard normal scores.
package parametric

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"gopalm/domain/stats"
)

// upper bound on tail probabilities so quantiles stay finite near p = 1
const maxTailP = 1 - 1e-16

// Distributions provides p-value and z-score conversions for t and F statistics
type Distributions struct{}

// NewDistributions creates a new distributions utility
func NewDistributions() *Distributions {
	return &Distributions{}
}

// TUpperTail is P(T ≥ t) for Student's t with df degrees of freedom
func (d *Distributions) TUpperTail(t, df float64) float64 {
	if math.IsNaN(t) || !(df > 0) {
		return math.NaN()
	}
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(t)
}

// FUpperTail is P(F ≥ f) for the F distribution with (df1, df2) degrees of freedom
func (d *Distributions) FUpperTail(f, df1, df2 float64) float64 {
	if math.IsNaN(f) || !(df1 > 0) || !(df2 > 0) {
		return math.NaN()
	}
	if f <= 0 {
		return 1
	}
	return distuv.F{D1: df1, D2: df2}.Survival(f)
}

// ZFromT maps t to the normal score with the same tail probability, keeping its sign.
// The smaller tail is converted so large |t| keeps precision.
func (d *Distributions) ZFromT(t, df float64) float64 {
	if math.IsNaN(t) || !(df > 0) {
		return math.NaN()
	}
	if t == 0 {
		return 0
	}
	p := d.TUpperTail(math.Abs(t), df)
	z := -distuv.UnitNormal.Quantile(clampP(p))
	if t < 0 {
		return -z
	}
	return z
}

// ZFromF maps F to the upper-tail normal score with the same probability
func (d *Distributions) ZFromF(f, df1, df2 float64) float64 {
	if math.IsNaN(f) || !(df1 > 0) || !(df2 > 0) {
		return math.NaN()
	}
	return -distuv.UnitNormal.Quantile(clampP(d.FUpperTail(f, df1, df2)))
}

// ZMap converts every value of a statistic map; features without degrees of freedom give NaN
func (d *Distributions) ZMap(m stats.Map) []float64 {
	out := make([]float64, m.Len())
	for j, v := range m.Values {
		df2 := math.NaN()
		if j < len(m.DF2) {
			df2 = m.DF2[j]
		}
		switch m.Kind {
		case stats.KindF:
			out[j] = d.ZFromF(v, m.DF1, df2)
		default:
			out[j] = d.ZFromT(v, df2)
		}
	}
	return out
}

func clampP(p float64) float64 {
	if p < math.SmallestNonzeroFloat64 {
		return math.SmallestNonzeroFloat64
	}
	if p > maxTailP {
		return maxTailP
	}
	return p
}
