package statistic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gopalm/domain/glm"
	"gopalm/domain/stats"
	"gopalm/internal/errors"
)

// WelchT compares two groups without assuming equal variances.
// Group membership comes from the contrast: each sample scores Σ c_j X_ij over the
// contrast-weighted design columns, and the two distinct scores define the groups.
// The group with the larger score is the minuend, so the sign agrees with GLMT.
type WelchT struct{}

// NewWelchT creates a Welch two-group t statistic
func NewWelchT() *WelchT {
	return &WelchT{}
}

// Name returns the statistic name
func (s *WelchT) Name() string {
	return "welch_t"
}

// Description returns a human-readable description
func (s *WelchT) Description() string {
	return "Welch two-group t statistic with Welch–Satterthwaite degrees of freedom"
}

// Kind reports a signed statistic
func (s *WelchT) Kind() stats.Kind {
	return stats.KindT
}

// Compute returns the Welch t and its per-feature degrees of freedom
func (s *WelchT) Compute(data, design, contrast *mat.Dense) (stats.Map, error) {
	if err := checkShapes(s.Name(), data, design, contrast); err != nil {
		return stats.Map{}, err
	}
	if q, _ := contrast.Dims(); q != 1 {
		return stats.Map{}, errors.UnsupportedStatistic(s.Name(), "requires a single contrast row")
	}

	inA, err := welchGroups(design, contrast)
	if err != nil {
		return stats.Map{}, err
	}

	n, m := data.Dims()
	var nA, nB float64
	sumA := make([]float64, m)
	sumB := make([]float64, m)
	for i := 0; i < n; i++ {
		row := data.RawRowView(i)
		if inA[i] {
			nA++
			for j, v := range row {
				sumA[j] += v
			}
		} else {
			nB++
			for j, v := range row {
				sumB[j] += v
			}
		}
	}

	meanA := make([]float64, m)
	meanB := make([]float64, m)
	for j := 0; j < m; j++ {
		meanA[j] = sumA[j] / nA
		meanB[j] = sumB[j] / nB
	}

	// second pass for the centered sums of squares
	ssA := make([]float64, m)
	ssB := make([]float64, m)
	for i := 0; i < n; i++ {
		row := data.RawRowView(i)
		if inA[i] {
			for j, v := range row {
				d := v - meanA[j]
				ssA[j] += d * d
			}
		} else {
			for j, v := range row {
				d := v - meanB[j]
				ssB[j] += d * d
			}
		}
	}

	constant := constantFeatures(data)
	values := make([]float64, m)
	df := make([]float64, m)
	for j := 0; j < m; j++ {
		if constant[j] {
			values[j] = math.NaN()
			df[j] = math.NaN()
			continue
		}
		wA := ssA[j] / (nA - 1) / nA
		wB := ssB[j] / (nB - 1) / nB
		values[j] = ratio(meanA[j]-meanB[j], wA+wB)
		df[j] = welchSatterthwaite(wA, wB, nA, nB)
	}

	return stats.Map{
		Kind:   stats.KindT,
		Values: values,
		DF1:    1,
		DF2:    df,
	}, nil
}

// welchSatterthwaite approximates the degrees of freedom from the per-group
// variance-of-mean terms wA = sA²/nA and wB = sB²/nB
func welchSatterthwaite(wA, wB, nA, nB float64) float64 {
	den := wA*wA/(nA-1) + wB*wB/(nB-1)
	if den == 0 {
		return nA + nB - 2
	}
	return (wA + wB) * (wA + wB) / den
}

// welchGroups assigns each sample to group A (larger contrast score) or B
func welchGroups(design, contrast *mat.Dense) ([]bool, error) {
	n, _ := design.Dims()
	tested := glm.TestedColumns(contrast)
	if len(tested) == 0 {
		return nil, errors.DegenerateContrast("contrast: row is all zeros")
	}

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		for _, j := range tested {
			scores[i] += contrast.At(0, j) * design.At(i, j)
		}
	}

	distinct := make(map[float64]struct{}, 2)
	for _, v := range scores {
		distinct[v] = struct{}{}
		if len(distinct) > 2 {
			return nil, errors.UnsupportedStatistic("welch_t", "contrast implies more than two groups")
		}
	}
	if len(distinct) < 2 {
		return nil, errors.UnsupportedStatistic("welch_t", "contrast implies a single group")
	}
	hi := math.Inf(-1)
	for v := range distinct {
		hi = math.Max(hi, v)
	}

	inA := make([]bool, n)
	var countA int
	for i, v := range scores {
		if v == hi {
			inA[i] = true
			countA++
		}
	}
	if countA < 2 || n-countA < 2 {
		return nil, errors.UnsupportedStatistic("welch_t", fmt.Sprintf("each group needs at least two samples (got %d and %d)", countA, n-countA))
	}
	return inA, nil
}
