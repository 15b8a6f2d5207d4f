package exchange

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// Arrangement is one relabeling of the samples: position i takes source row Index[i],
// multiplied by Signs[i] when sign flipping is enabled
type Arrangement struct {
	Index []int     `json:"index"`
	Signs []float64 `json:"signs,omitempty"`
}

// Identity returns the unpermuted, unflipped arrangement for n samples
func Identity(n int) Arrangement {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return Arrangement{Index: idx}
}

// IsIdentity reports whether the arrangement leaves every sample in place with a positive sign
func (a Arrangement) IsIdentity() bool {
	for i, src := range a.Index {
		if src != i {
			return false
		}
	}
	for _, s := range a.Signs {
		if s != 1 {
			return false
		}
	}
	return true
}

// Sign returns the multiplier applied at position i
func (a Arrangement) Sign(i int) float64 {
	if a.Signs == nil {
		return 1
	}
	return a.Signs[i]
}

// Fingerprint hashes the index and the sign pattern
func (a Arrangement) Fingerprint() uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, src := range a.Index {
		binary.LittleEndian.PutUint64(buf[:], uint64(src))
		_, _ = h.Write(buf[:])
	}
	for i := range a.Index {
		// an absent sign vector hashes like all +1
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(a.Sign(i)))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
