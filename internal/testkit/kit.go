package testkit

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"gopalm/adapters/rng"
	"gopalm/ports"
)

// RNGAdapter returns the production seed-stream adapter
func RNGAdapter() ports.RNGPort {
	return rng.NewStreamAdapter()
}

// NewRand returns a seeded generator for fixtures
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Contrast builds a single-row contrast
func Contrast(weights ...float64) *mat.Dense {
	return mat.NewDense(1, len(weights), weights)
}

// TwoGroupDesign is an intercept plus a 0/1 indicator; the first nPerGroup samples are group 0
func TwoGroupDesign(nPerGroup int) *mat.Dense {
	n := 2 * nPerGroup
	d := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		d.Set(i, 0, 1)
		if i >= nPerGroup {
			d.Set(i, 1, 1)
		}
	}
	return d
}

// OneSampleDesign is a single intercept column
func OneSampleDesign(n int) *mat.Dense {
	d := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		d.Set(i, 0, 1)
	}
	return d
}

// NormalData draws an n × m matrix of independent standard normals
func NormalData(r *rand.Rand, n, m int) *mat.Dense {
	data := mat.NewDense(n, m, nil)
	raw := data.RawMatrix().Data
	for i := range raw {
		raw[i] = r.NormFloat64()
	}
	return data
}

// ExponentialSample draws k unit-rate exponentials
func ExponentialSample(r *rand.Rand, k int) []float64 {
	out := make([]float64, k)
	for i := range out {
		out[i] = -math.Log(1 - r.Float64())
	}
	return out
}

// Column copies column j of m
func Column(m mat.Matrix, j int) []float64 {
	n, _ := m.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = m.At(i, j)
	}
	return out
}
