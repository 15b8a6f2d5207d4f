package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zeebo/xxh3"
	"gonum.org/v1/gonum/mat"
)

// Fingerprint is a 64-bit content hash used to tie results to their inputs
type Fingerprint uint64

// String renders the fingerprint as fixed-width hex
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// MatrixFingerprint hashes the shape and IEEE-754 bits of every element of the given matrices
func MatrixFingerprint(ms ...mat.Matrix) Fingerprint {
	h := xxh3.New()
	var buf [8]byte
	for _, m := range ms {
		if m == nil {
			binary.LittleEndian.PutUint64(buf[:], 0)
			_, _ = h.Write(buf[:])
			continue
		}
		r, c := m.Dims()
		binary.LittleEndian.PutUint64(buf[:], uint64(r)<<32|uint64(c))
		_, _ = h.Write(buf[:])
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				binary.LittleEndian.PutUint64(buf[:], math.Float64bits(m.At(i, j)))
				_, _ = h.Write(buf[:])
			}
		}
	}
	return Fingerprint(h.Sum64())
}
