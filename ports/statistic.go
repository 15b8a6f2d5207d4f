package ports

import (
	"gonum.org/v1/gonum/mat"

	"gopalm/domain/stats"
)

// Statistic computes one statistic per feature for a samples × features data matrix,
// a samples × predictors design and a rows × predictors contrast
type Statistic interface {
	// Name identifies the statistic in logs and reports
	Name() string

	// Kind reports whether values are signed (t) or non-negative (F)
	Kind() stats.Kind

	// Compute must not modify its inputs and must be safe for concurrent use
	Compute(data, design, contrast *mat.Dense) (stats.Map, error)
}
