package statistic

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gopalm/domain/stats"
	"gopalm/internal/errors"
)

// GLMF is the extra-sum-of-squares F statistic for a contrast of one or more rows
type GLMF struct{}

// NewGLMF creates a GLM F statistic
func NewGLMF() *GLMF {
	return &GLMF{}
}

// Name returns the statistic name
func (s *GLMF) Name() string {
	return "glm_f"
}

// Description returns a human-readable description
func (s *GLMF) Description() string {
	return "General linear model F statistic for a joint contrast"
}

// Kind reports a non-negative statistic
func (s *GLMF) Kind() stats.Kind {
	return stats.KindF
}

// Compute returns F = (Cβ)ᵗ[C(XᵗX)⁻¹Cᵗ]⁻¹(Cβ) / (q σ²) for every feature
func (s *GLMF) Compute(data, design, contrast *mat.Dense) (stats.Map, error) {
	if err := checkShapes(s.Name(), data, design, contrast); err != nil {
		return stats.Map{}, err
	}

	fit, err := fitOLS(data, design)
	if err != nil {
		return stats.Map{}, err
	}
	q, _ := contrast.Dims()

	var cg mat.Dense
	cg.Mul(contrast, fit.gramInv)
	var middle mat.Dense
	middle.Mul(&cg, contrast.T())

	middleInv, rank, err := invertGram(&middle)
	if err != nil {
		return stats.Map{}, errors.Wrap(err, "contrast covariance")
	}
	if rank < q {
		return stats.Map{}, errors.DegenerateContrast("contrast: rows are not estimable independently under this design")
	}

	var cb mat.Dense
	cb.Mul(contrast, fit.beta)
	var weighted mat.Dense
	weighted.Mul(middleInv, &cb)

	_, m := cb.Dims()
	num := make([]float64, m)
	for a := 0; a < q; a++ {
		w := weighted.RawRowView(a)
		c := cb.RawRowView(a)
		for j := range num {
			num[j] += w[j] * c[j]
		}
	}

	constant := constantFeatures(data)
	values := make([]float64, m)
	for j := range values {
		if constant[j] {
			values[j] = math.NaN()
			continue
		}
		sigma2 := fit.rss[j] / fit.dfe
		explained := num[j] / float64(q)
		switch {
		case sigma2 > 0:
			values[j] = explained / sigma2
		case explained > 0:
			values[j] = math.Inf(1)
		default:
			values[j] = 0
		}
	}

	return stats.Map{
		Kind:   stats.KindF,
		Values: values,
		DF1:    float64(q),
		DF2:    fillDF(m, fit.dfe),
	}, nil
}
