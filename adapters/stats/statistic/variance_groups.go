package statistic

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"gopalm/domain/glm"
	"gopalm/domain/stats"
	"gopalm/internal/errors"
)

// AspinWelchV is the t statistic generalized to heteroscedastic variance groups.
// Each group's residual variance gets its own weight in the contrast covariance.
type AspinWelchV struct {
	groups []int
}

// NewAspinWelchV creates a v statistic for per-sample variance group labels
func NewAspinWelchV(groups []int) *AspinWelchV {
	return &AspinWelchV{groups: groups}
}

// Name returns the statistic name
func (s *AspinWelchV) Name() string {
	return "aspin_welch_v"
}

// Description returns a human-readable description
func (s *AspinWelchV) Description() string {
	return "Aspin-Welch v statistic with per-group variance weights"
}

// Kind reports a signed statistic
func (s *AspinWelchV) Kind() stats.Kind {
	return stats.KindT
}

// Compute returns v and its approximate degrees of freedom for every feature
func (s *AspinWelchV) Compute(data, design, contrast *mat.Dense) (stats.Map, error) {
	if err := checkShapes(s.Name(), data, design, contrast); err != nil {
		return stats.Map{}, err
	}
	if q, _ := contrast.Dims(); q != 1 {
		return stats.Map{}, errors.UnsupportedStatistic(s.Name(), "requires a single contrast row")
	}
	values, df, err := varianceGroupStatistic(s.Name(), data, design, contrast, s.groups)
	if err != nil {
		return stats.Map{}, err
	}
	return stats.Map{Kind: stats.KindT, Values: values, DF1: 1, DF2: df}, nil
}

// G is the F statistic generalized to heteroscedastic variance groups.
// With a single contrast row G = v².
type G struct {
	groups []int
}

// NewG creates a G statistic for per-sample variance group labels
func NewG(groups []int) *G {
	return &G{groups: groups}
}

// Name returns the statistic name
func (s *G) Name() string {
	return "g"
}

// Description returns a human-readable description
func (s *G) Description() string {
	return "G statistic for joint contrasts under per-group variances"
}

// Kind reports a non-negative statistic
func (s *G) Kind() stats.Kind {
	return stats.KindF
}

// Compute returns G and its approximate denominator degrees of freedom for every feature
func (s *G) Compute(data, design, contrast *mat.Dense) (stats.Map, error) {
	if err := checkShapes(s.Name(), data, design, contrast); err != nil {
		return stats.Map{}, err
	}
	values, df, err := varianceGroupStatistic(s.Name(), data, design, contrast, s.groups)
	if err != nil {
		return stats.Map{}, err
	}
	q, _ := contrast.Dims()
	if q == 1 {
		for j, v := range values {
			values[j] = v * v
		}
	}
	return stats.Map{Kind: stats.KindF, Values: values, DF1: float64(q), DF2: df}, nil
}

// varianceGroupStatistic evaluates
//
//	W_g = Σ_{i∈g} R_ii / Σ_{i∈g} ε_i²
//	G   = (Cβ)ᵗ[C(XᵗWX)⁻¹Cᵗ]⁻¹(Cβ) / (s Λ)
//	Λ   = 1 + 2(s-1)/(s(s+2)) · S,  S = Σ_g (1 - n_g W_g / tr W)² / Σ_{i∈g} R_ii
//
// where R = I - H is the residual-forming matrix and s the contrast rank. For one row
// the signed square root v is returned. The degrees of freedom are s(s+2)/(3S), or
// the residual degrees of freedom when S vanishes.
func varianceGroupStatistic(name string, data, design, contrast *mat.Dense, labels []int) ([]float64, []float64, error) {
	n, m := data.Dims()
	_, p := design.Dims()
	if len(labels) != n {
		return nil, nil, errors.ShapeMismatch(name+" variance groups", "has %d labels but data has %d samples", len(labels), n)
	}
	groups, count := denseGroups(labels)

	fit, err := fitOLS(data, design)
	if err != nil {
		return nil, nil, err
	}

	// per-group residual-forming traces and design cross products
	rsum := make([]float64, count)
	size := make([]float64, count)
	cross := make([]*mat.SymDense, count)
	for g := range cross {
		cross[g] = mat.NewSymDense(p, nil)
	}
	for i := 0; i < n; i++ {
		x := mat.NewVecDense(p, design.RawRowView(i))
		h := mat.Inner(x, fit.gramInv, x)
		g := groups[i]
		rsum[g] += 1 - h
		size[g]++
		cross[g].SymRankOne(cross[g], 1, x)
	}
	for g, r := range rsum {
		if r < glm.RankTolerance {
			return nil, nil, errors.DegenerateDesign(fmt.Sprintf(
				"variance groups: the design fits group %d exactly; each group needs residual degrees of freedom", g))
		}
	}

	var fitted mat.Dense
	fitted.Mul(design, fit.beta)
	ss := mat.NewDense(count, m, nil)
	for i := 0; i < n; i++ {
		y := data.RawRowView(i)
		f := fitted.RawRowView(i)
		row := ss.RawRowView(groups[i])
		for j := range row {
			r := y[j] - f[j]
			row[j] += r * r
		}
	}

	var cb mat.Dense
	cb.Mul(contrast, fit.beta)
	q, _ := contrast.Dims()
	s := float64(q)

	constant := constantFeatures(data)
	values := make([]float64, m)
	df := make([]float64, m)
	weights := make([]float64, count)
	weighted := mat.NewDense(p, p, nil)
	psi := mat.NewVecDense(q, nil)
	for j := 0; j < m; j++ {
		values[j], df[j] = math.NaN(), math.NaN()
		if constant[j] {
			continue
		}

		var trace float64
		ok := true
		for g := range weights {
			v := ss.At(g, j)
			if v <= 0 {
				ok = false
				break
			}
			weights[g] = rsum[g] / v
			trace += size[g] * weights[g]
		}
		if !ok {
			continue
		}

		weighted.Zero()
		for g, w := range weights {
			for a := 0; a < p; a++ {
				for b := 0; b < p; b++ {
					weighted.Set(a, b, weighted.At(a, b)+w*cross[g].At(a, b))
				}
			}
		}
		covInv, _, err := invertGram(weighted)
		if err != nil {
			continue
		}
		var cc mat.Dense
		cc.Mul(contrast, covInv)
		var middle mat.Dense
		middle.Mul(&cc, contrast.T())

		var spread float64
		for g, w := range weights {
			d := 1 - size[g]*w/trace
			spread += d * d / rsum[g]
		}
		lambda := 1 + 2*(s-1)/(s*(s+2))*spread
		if spread > 0 {
			df[j] = s * (s + 2) / (3 * spread)
		} else {
			df[j] = fit.dfe
		}

		if q == 1 {
			values[j] = ratio(cb.At(0, j), middle.At(0, 0))
			continue
		}
		middleInv, rank, err := invertGram(&middle)
		if err != nil || rank < q {
			return nil, nil, errors.DegenerateContrast("contrast: rows are not estimable independently under this design")
		}
		for a := 0; a < q; a++ {
			psi.SetVec(a, cb.At(a, j))
		}
		values[j] = math.Max(0, mat.Inner(psi, middleInv, psi)/(s*lambda))
	}
	return values, df, nil
}

// denseGroups relabels arbitrary group labels as 0..count-1 in ascending label order
func denseGroups(labels []int) ([]int, int) {
	distinct := make(map[int]int)
	for _, l := range labels {
		distinct[l] = 0
	}
	ordered := make([]int, 0, len(distinct))
	for l := range distinct {
		ordered = append(ordered, l)
	}
	sort.Ints(ordered)
	for k, l := range ordered {
		distinct[l] = k
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = distinct[l]
	}
	return out, len(ordered)
}

// GroupCount is the number of distinct variance groups in labels
func GroupCount(labels []int) int {
	_, count := denseGroups(labels)
	return count
}
