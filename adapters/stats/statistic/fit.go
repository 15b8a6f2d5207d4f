package statistic

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gopalm/domain/glm"
	"gopalm/internal/errors"
)

// olsFit is an ordinary least squares fit of every feature on one design
type olsFit struct {
	beta    *mat.Dense // predictors × features
	gramInv *mat.Dense // (XᵗX)⁻¹, or its pseudo-inverse for rank-deficient permuted designs
	rss     []float64  // residual sum of squares per feature
	dfe     float64    // residual degrees of freedom
}

// fitOLS solves β = (XᵗX)⁻¹XᵗY for all features at once
func fitOLS(data, design *mat.Dense) (*olsFit, error) {
	n, m := data.Dims()
	_, p := design.Dims()

	var gram mat.Dense
	gram.Mul(design.T(), design)

	gramInv, rank, err := invertGram(&gram)
	if err != nil {
		return nil, err
	}
	if n-rank <= 0 {
		return nil, errors.DegenerateDesign(fmt.Sprintf("design: no residual degrees of freedom (n=%d, rank=%d)", n, rank))
	}

	var xty mat.Dense
	xty.Mul(design.T(), data)

	beta := mat.NewDense(p, m, nil)
	beta.Mul(gramInv, &xty)

	var fitted mat.Dense
	fitted.Mul(design, beta)

	rss := make([]float64, m)
	for i := 0; i < n; i++ {
		y := data.RawRowView(i)
		f := fitted.RawRowView(i)
		for j := range rss {
			r := y[j] - f[j]
			rss[j] += r * r
		}
	}

	return &olsFit{
		beta:    beta,
		gramInv: gramInv,
		rss:     rss,
		dfe:     float64(n - rank),
	}, nil
}

// invertGram inverts a symmetric Gram matrix, falling back to an SVD
// pseudo-inverse when the direct inverse is singular or ill-conditioned
func invertGram(gram *mat.Dense) (*mat.Dense, int, error) {
	p, _ := gram.Dims()

	var inv mat.Dense
	if err := inv.Inverse(gram); err == nil {
		return &inv, p, nil
	}

	var svd mat.SVD
	if ok := svd.Factorize(gram, mat.SVDThin); !ok {
		return nil, 0, errors.DegenerateDesign("design: SVD factorization of the Gram matrix failed")
	}
	rank := svd.Rank(glm.RankTolerance)
	if rank == 0 {
		return nil, 0, errors.DegenerateDesign("design: Gram matrix has rank zero")
	}

	eye := mat.NewDiagDense(p, nil)
	for i := 0; i < p; i++ {
		eye.SetDiag(i, 1)
	}
	var pinv mat.Dense
	svd.SolveTo(&pinv, eye, rank)
	return &pinv, rank, nil
}

// constantFeatures flags columns whose value is identical in every sample
func constantFeatures(data *mat.Dense) []bool {
	n, m := data.Dims()
	constant := make([]bool, m)
	first := data.RawRowView(0)
	for j := range constant {
		constant[j] = true
	}
	for i := 1; i < n; i++ {
		row := data.RawRowView(i)
		for j, v := range row {
			if constant[j] && v != first[j] {
				constant[j] = false
			}
		}
	}
	return constant
}

// checkShapes verifies the dimensions a statistic needs; rank checks live in glm.ValidateModel
func checkShapes(name string, data, design, contrast *mat.Dense) error {
	if data == nil || design == nil || contrast == nil {
		return errors.InvalidInput(name + ": data, design and contrast are required")
	}
	n, _ := data.Dims()
	dn, p := design.Dims()
	if dn != n {
		return errors.ShapeMismatch("design", "has %d rows but data has %d samples", dn, n)
	}
	if _, cp := contrast.Dims(); cp != p {
		return errors.ShapeMismatch("contrast", "has %d columns but design has %d predictors", cp, p)
	}
	return nil
}

func fillDF(m int, df float64) []float64 {
	out := make([]float64, m)
	for j := range out {
		out[j] = df
	}
	return out
}
