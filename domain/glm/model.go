// Package glm holds the structural checks and column bookkeeping shared by
// every statistic fitted on a samples × predictors design.
package glm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gopalm/internal/errors"
)

// RankTolerance is the relative singular value cutoff used for rank decisions
const RankTolerance = 1e-10

// Rank returns the numerical rank of m
func Rank(m mat.Matrix) int {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return 0
	}
	return svd.Rank(RankTolerance)
}

// ValidateModel checks that data, design and contrast agree in shape and that the
// design has full column rank with at least one residual degree of freedom
func ValidateModel(data, design, contrast *mat.Dense) error {
	if data == nil || design == nil || contrast == nil {
		return errors.InvalidInput("data, design and contrast are all required")
	}

	n, m := data.Dims()
	if n == 0 || m == 0 {
		return errors.ShapeMismatch("data", "matrix is empty (%d×%d)", n, m)
	}

	dn, p := design.Dims()
	if dn != n {
		return errors.ShapeMismatch("design", "has %d rows but data has %d samples", dn, n)
	}
	if p == 0 {
		return errors.ShapeMismatch("design", "has no predictors")
	}

	q, cp := contrast.Dims()
	if cp != p {
		return errors.ShapeMismatch("contrast", "has %d columns but design has %d predictors", cp, p)
	}
	if q == 0 {
		return errors.ShapeMismatch("contrast", "has no rows")
	}

	if n <= p {
		return errors.DegenerateDesign(fmt.Sprintf("design: %d samples leave no residual degrees of freedom for %d predictors", n, p))
	}
	if r := Rank(design); r < p {
		return errors.DegenerateDesign(fmt.Sprintf("design: rank %d is below its %d columns; columns are linearly dependent", r, p))
	}

	for i := 0; i < q; i++ {
		if isZeroRow(contrast, i) {
			return errors.DegenerateContrast(fmt.Sprintf("contrast: row %d is all zeros", i+1))
		}
	}
	if q > 1 {
		if r := Rank(contrast); r < q {
			return errors.DegenerateContrast(fmt.Sprintf("contrast: rank %d is below its %d rows; rows are linearly dependent", r, q))
		}
	}
	return nil
}

// TestedColumns returns the design columns with a nonzero weight in any contrast row
func TestedColumns(contrast mat.Matrix) []int {
	q, p := contrast.Dims()
	var cols []int
	for j := 0; j < p; j++ {
		for i := 0; i < q; i++ {
			if contrast.At(i, j) != 0 {
				cols = append(cols, j)
				break
			}
		}
	}
	return cols
}

// NuisanceColumns returns the design columns that every contrast row ignores
func NuisanceColumns(contrast mat.Matrix) []int {
	_, p := contrast.Dims()
	tested := make(map[int]bool)
	for _, j := range TestedColumns(contrast) {
		tested[j] = true
	}
	var cols []int
	for j := 0; j < p; j++ {
		if !tested[j] {
			cols = append(cols, j)
		}
	}
	return cols
}

// Columns copies the selected columns of m into a new matrix, or returns nil when cols is empty
func Columns(m mat.Matrix, cols []int) *mat.Dense {
	if len(cols) == 0 {
		return nil
	}
	n, _ := m.Dims()
	out := mat.NewDense(n, len(cols), nil)
	for k, j := range cols {
		for i := 0; i < n; i++ {
			out.Set(i, k, m.At(i, j))
		}
	}
	return out
}

// ContrastRow returns row i of contrast as a 1 × p matrix
func ContrastRow(contrast *mat.Dense, i int) *mat.Dense {
	_, p := contrast.Dims()
	row := mat.NewDense(1, p, nil)
	row.Copy(contrast.Slice(i, i+1, 0, p))
	return row
}

// ContrastRows stacks the selected rows of contrast
func ContrastRows(contrast *mat.Dense, rows []int) *mat.Dense {
	_, p := contrast.Dims()
	out := mat.NewDense(len(rows), p, nil)
	for k, i := range rows {
		out.SetRow(k, contrast.RawRowView(i))
	}
	return out
}

func isZeroRow(m mat.Matrix, i int) bool {
	_, c := m.Dims()
	for j := 0; j < c; j++ {
		if m.At(i, j) != 0 {
			return false
		}
	}
	return true
}
