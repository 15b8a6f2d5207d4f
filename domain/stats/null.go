package stats

import (
	"gonum.org/v1/gonum/mat"
)

// Null is the empirical null distribution of one statistic over an arrangement sequence
// INVARIANTS:
// - Permutations counts every arrangement, identity included
// - Max[0] is the observed maximum
// - Exceedances[j] ≥ 1 for every testable feature (the identity always counts)
// - Full is nil unless every permuted map was retained; row k holds arrangement k
type Null struct {
	Observed     Map        `json:"observed"`
	TwoTailed    bool       `json:"two_tailed"`
	Permutations int        `json:"permutations"`
	Exceedances  []int      `json:"exceedances"`
	Max          []float64  `json:"max"`
	Full         *mat.Dense `json:"-"`
}

// HasFull reports whether per-feature null samples are available
func (n *Null) HasFull() bool {
	return n != nil && n.Full != nil
}

// FeatureNull returns the extremities of feature j across all arrangements,
// or nil when the full null was not retained
func (n *Null) FeatureNull(j int) []float64 {
	if !n.HasFull() {
		return nil
	}
	rows, _ := n.Full.Dims()
	out := make([]float64, rows)
	for k := 0; k < rows; k++ {
		out[k] = Extremity(n.Observed.Kind, n.Full.At(k, j), n.TwoTailed)
	}
	return out
}
