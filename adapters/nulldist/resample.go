package nulldist

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"gopalm/domain/exchange"
	"gopalm/domain/glm"
	"gopalm/internal/errors"
)

// Method selects how an arrangement is applied to the model
type Method int

const (
	// DraperStoneman permutes the rows of the contrast-tested design columns and flips data signs
	DraperStoneman Method = iota
	// FreedmanLane permutes and flips the residuals of the nuisance-only model, then adds the nuisance fit back
	FreedmanLane
)

func (m Method) String() string {
	switch m {
	case DraperStoneman:
		return "draper-stoneman"
	case FreedmanLane:
		return "freedman-lane"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod accepts "draper-stoneman"/"ds" or "freedman-lane"/"fl"
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "draper-stoneman", "ds":
		return DraperStoneman, nil
	case "freedman-lane", "fl":
		return FreedmanLane, nil
	default:
		return 0, errors.InvalidInput(fmt.Sprintf("unknown resampling method %q", s))
	}
}

// resampler turns an arrangement into permuted model inputs; it is shared read-only by all workers
type resampler struct {
	method Method
	data   *mat.Dense
	design *mat.Dense
	tested []int

	// Freedman–Lane nuisance decomposition; fitted is nil when the model has no nuisance columns
	resid  *mat.Dense
	fitted *mat.Dense
}

// buffers are the per-worker scratch matrices
type buffers struct {
	data   *mat.Dense
	design *mat.Dense
}

func newResampler(method Method, data, design, contrast *mat.Dense) (*resampler, error) {
	r := &resampler{
		method: method,
		data:   data,
		design: design,
		tested: glm.TestedColumns(contrast),
	}
	if method != FreedmanLane {
		return r, nil
	}

	z := glm.Columns(design, glm.NuisanceColumns(contrast))
	if z == nil {
		r.resid = data
		return r, nil
	}

	var qr mat.QR
	qr.Factorize(z)
	var gamma mat.Dense
	if err := qr.SolveTo(&gamma, false, data); err != nil {
		return nil, errors.Wrap(errors.DegenerateDesign(err.Error()), "nuisance model")
	}
	fitted := &mat.Dense{}
	fitted.Mul(z, &gamma)
	resid := &mat.Dense{}
	resid.Sub(data, fitted)

	r.resid = resid
	r.fitted = fitted
	return r, nil
}

func (r *resampler) newBuffers() *buffers {
	n, m := r.data.Dims()
	b := &buffers{data: mat.NewDense(n, m, nil)}
	if r.method == DraperStoneman {
		b.design = mat.DenseCopyOf(r.design)
	}
	return b
}

// apply returns the model inputs for arrangement a. The identity reuses the
// original matrices untouched.
func (r *resampler) apply(a exchange.Arrangement, b *buffers) (data, design *mat.Dense) {
	if a.IsIdentity() {
		return r.data, r.design
	}
	switch r.method {
	case FreedmanLane:
		return r.applyFreedmanLane(a, b), r.design
	default:
		return r.applyDraperStoneman(a, b)
	}
}

func (r *resampler) applyDraperStoneman(a exchange.Arrangement, b *buffers) (*mat.Dense, *mat.Dense) {
	for i, src := range a.Index {
		for _, j := range r.tested {
			b.design.Set(i, j, r.design.At(src, j))
		}
	}
	if a.Signs == nil {
		return r.data, b.design
	}

	n, _ := r.data.Dims()
	for i := 0; i < n; i++ {
		dst := b.data.RawRowView(i)
		src := r.data.RawRowView(i)
		s := a.Signs[i]
		for j, v := range src {
			dst[j] = s * v
		}
	}
	return b.data, b.design
}

func (r *resampler) applyFreedmanLane(a exchange.Arrangement, b *buffers) *mat.Dense {
	for i, src := range a.Index {
		dst := b.data.RawRowView(i)
		e := r.resid.RawRowView(src)
		s := a.Sign(i)
		if r.fitted == nil {
			for j, v := range e {
				dst[j] = s * v
			}
			continue
		}
		f := r.fitted.RawRowView(i)
		for j, v := range e {
			dst[j] = s*v + f[j]
		}
	}
	return b.data
}
