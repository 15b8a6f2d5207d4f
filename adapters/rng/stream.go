package rng

import (
	"context"
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"gopalm/ports"
)

// StreamAdapter implements ports.RNGPort with xxh3-derived seeds
type StreamAdapter struct{}

var _ ports.RNGPort = (*StreamAdapter)(nil)

// NewStreamAdapter creates a stream adapter
func NewStreamAdapter() *StreamAdapter {
	return &StreamAdapter{}
}

// DeriveSeed hashes the base seed with the stage and key.
// An empty stage and key return the base seed unchanged.
func (a *StreamAdapter) DeriveSeed(ctx context.Context, stageName, key string, baseSeed int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if stageName == "" && key == "" {
		return baseSeed, nil
	}

	h := xxh3.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(baseSeed))
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(stageName)
	// separator keeps ("ab","c") and ("a","bc") apart
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(key)
	return int64(h.Sum64()), nil
}
