package statistic

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gopalm/domain/stats"
	"gopalm/internal/errors"
)

// GLMT is the ordinary least squares t statistic for a single contrast row
type GLMT struct{}

// NewGLMT creates a GLM t statistic
func NewGLMT() *GLMT {
	return &GLMT{}
}

// Name returns the statistic name
func (s *GLMT) Name() string {
	return "glm_t"
}

// Description returns a human-readable description
func (s *GLMT) Description() string {
	return "General linear model t statistic for one contrast"
}

// Kind reports a signed statistic
func (s *GLMT) Kind() stats.Kind {
	return stats.KindT
}

// Compute returns t = cβ / sqrt(σ² c(XᵗX)⁻¹cᵗ) for every feature
func (s *GLMT) Compute(data, design, contrast *mat.Dense) (stats.Map, error) {
	if err := checkShapes(s.Name(), data, design, contrast); err != nil {
		return stats.Map{}, err
	}
	if q, _ := contrast.Dims(); q != 1 {
		return stats.Map{}, errors.UnsupportedStatistic(s.Name(), "requires a single contrast row; use the F statistic for multi-row contrasts")
	}

	fit, err := fitOLS(data, design)
	if err != nil {
		return stats.Map{}, err
	}

	var cg mat.Dense
	cg.Mul(contrast, fit.gramInv)
	var quad mat.Dense
	quad.Mul(&cg, contrast.T())
	scale := quad.At(0, 0)

	var cb mat.Dense
	cb.Mul(contrast, fit.beta)
	effect := cb.RawRowView(0)

	constant := constantFeatures(data)
	values := make([]float64, len(effect))
	for j, e := range effect {
		if constant[j] {
			values[j] = math.NaN()
			continue
		}
		se2 := scale * fit.rss[j] / fit.dfe
		values[j] = ratio(e, se2)
	}

	return stats.Map{
		Kind:   stats.KindT,
		Values: values,
		DF1:    1,
		DF2:    fillDF(len(values), fit.dfe),
	}, nil
}

// ratio divides an effect by the square root of its variance; an exact fit gives ±Inf
func ratio(effect, variance float64) float64 {
	if variance > 0 {
		return effect / math.Sqrt(variance)
	}
	switch {
	case effect > 0:
		return math.Inf(1)
	case effect < 0:
		return math.Inf(-1)
	default:
		return 0
	}
}
