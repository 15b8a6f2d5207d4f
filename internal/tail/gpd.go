// Package tail estimates small permutation p-values by fitting a generalized Pareto
// distribution to the upper tail of a null sample.
package tail

import (
	"math"
)

// shapeEpsilon is the |ξ| below which the exponential limit is used
const shapeEpsilon = 1e-9

// GPD is a generalized Pareto distribution for excesses over a threshold
type GPD struct {
	Shape float64 `json:"shape"` // ξ
	Scale float64 `json:"scale"` // σ
}

// FitMoments estimates ξ and σ from the mean and variance of the excesses:
// ξ = ½(1 − m²/v), σ = ½m(m²/v + 1)
func FitMoments(mean, variance float64) (GPD, bool) {
	if !(mean > 0) || !(variance > 0) || math.IsInf(mean, 0) || math.IsInf(variance, 0) {
		return GPD{}, false
	}
	r := mean * mean / variance
	g := GPD{
		Shape: 0.5 * (1 - r),
		Scale: 0.5 * mean * (r + 1),
	}
	if !(g.Scale > 0) || math.IsNaN(g.Shape) {
		return GPD{}, false
	}
	return g, true
}

// Endpoint is the upper end of the support, +Inf unless the shape is negative
func (g GPD) Endpoint() float64 {
	if g.Shape < -shapeEpsilon {
		return -g.Scale / g.Shape
	}
	return math.Inf(1)
}

// CDF is P(excess ≤ y)
func (g GPD) CDF(y float64) float64 {
	if y <= 0 {
		return 0
	}
	return 1 - g.Survival(y)
}

// Survival is P(excess > y). Beyond a finite endpoint it switches to the exponential
// limit with the same scale, so the estimate stays strictly positive.
func (g GPD) Survival(y float64) float64 {
	if y <= 0 {
		return 1
	}
	if math.Abs(g.Shape) < shapeEpsilon || y >= g.Endpoint() {
		return math.Exp(-y / g.Scale)
	}
	return math.Pow(1+g.Shape*y/g.Scale, -1/g.Shape)
}
