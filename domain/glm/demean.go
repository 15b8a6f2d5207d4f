package glm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gopalm/internal/errors"
)

// Demean centers every data feature and every non-constant design column on its mean.
// Constant columns such as the intercept are kept, so nuisance terms still absorb any
// offset, but a contrast that weights one would test a centered zero and is rejected.
// The inputs are not modified.
func Demean(data, design, contrast *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	if data == nil || design == nil || contrast == nil {
		return nil, nil, errors.InvalidInput("data, design and contrast are all required")
	}
	_, p := design.Dims()
	q, cp := contrast.Dims()
	if cp != p {
		return nil, nil, errors.ShapeMismatch("contrast", "has %d columns but design has %d predictors", cp, p)
	}

	centeredDesign := mat.DenseCopyOf(design)
	for j := 0; j < p; j++ {
		if !centerColumn(centeredDesign, j) {
			for i := 0; i < q; i++ {
				if contrast.At(i, j) != 0 {
					return nil, nil, errors.DegenerateContrast(fmt.Sprintf(
						"contrast: row %d weights constant design column %d, which demeaning reduces to zero", i+1, j+1))
				}
			}
		}
	}

	centeredData := mat.DenseCopyOf(data)
	_, m := data.Dims()
	for j := 0; j < m; j++ {
		centerColumn(centeredData, j)
	}
	return centeredData, centeredDesign, nil
}

// centerColumn subtracts the mean of column j in place; constant columns are left
// untouched and reported with false
func centerColumn(m *mat.Dense, j int) bool {
	n, _ := m.Dims()
	first := m.At(0, j)
	var sum float64
	varies := false
	for i := 0; i < n; i++ {
		v := m.At(i, j)
		sum += v
		if v != first {
			varies = true
		}
	}
	if !varies {
		return false
	}
	mean := sum / float64(n)
	for i := 0; i < n; i++ {
		m.Set(i, j, m.At(i, j)-mean)
	}
	return true
}
