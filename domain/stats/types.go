package stats

import (
	"math"
)

// Kind distinguishes signed statistics from non-negative ones
type Kind int

const (
	// KindT is a signed statistic; two-tailed inference uses its magnitude
	KindT Kind = iota
	// KindF is non-negative and always upper-tailed
	KindF
)

func (k Kind) String() string {
	switch k {
	case KindT:
		return "t"
	case KindF:
		return "f"
	default:
		return "unknown"
	}
}

// Map holds one statistic value per feature
// INVARIANTS:
// - len(Values) equals the feature count of the data matrix
// - NaN marks an untestable feature (zero variance across samples)
// - DF2 is either empty or has one entry per feature
type Map struct {
	Kind   Kind      `json:"kind"`
	Values []float64 `json:"values"`
	DF1    float64   `json:"df1"`
	DF2    []float64 `json:"df2,omitempty"`
}

// Len returns the number of features
func (m Map) Len() int {
	return len(m.Values)
}

// Untestable flags every feature whose statistic is NaN
func (m Map) Untestable() []bool {
	out := make([]bool, len(m.Values))
	for i, v := range m.Values {
		out[i] = math.IsNaN(v)
	}
	return out
}

// UntestableCount counts NaN features
func (m Map) UntestableCount() int {
	n := 0
	for _, v := range m.Values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Extremity returns the value compared against the null: the magnitude for
// two-tailed signed statistics, the raw value otherwise
func Extremity(kind Kind, value float64, twoTailed bool) float64 {
	if twoTailed && kind == KindT {
		return math.Abs(value)
	}
	return value
}

// tieTolerance absorbs summation-order rounding between algebraically equal statistics
const tieTolerance = 1e-10

// AtLeast reports whether a null extremity is as extreme as the observed one.
// NaN on either side never counts.
func AtLeast(null, observed float64) bool {
	if math.IsNaN(null) || math.IsNaN(observed) {
		return false
	}
	if math.IsInf(observed, 0) {
		return null >= observed
	}
	return null >= observed-tieTolerance*math.Abs(observed)
}

// MaxExtremity is the largest extremity over the non-NaN values, or NaN when none exist
func MaxExtremity(kind Kind, values []float64, twoTailed bool) float64 {
	return MaxExtremityExcluding(kind, values, twoTailed, nil)
}

// MaxExtremityExcluding is MaxExtremity over the features not flagged in skip.
// A nil skip includes every feature.
func MaxExtremityExcluding(kind Kind, values []float64, twoTailed bool, skip []bool) float64 {
	best := math.NaN()
	for j, v := range values {
		if math.IsNaN(v) || (skip != nil && skip[j]) {
			continue
		}
		e := Extremity(kind, v, twoTailed)
		if math.IsNaN(best) || e > best {
			best = e
		}
	}
	return best
}
