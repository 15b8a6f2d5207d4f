// Package exchange describes which sample relabelings are admissible under the
// null hypothesis and enumerates or samples them.
package exchange

import (
	"fmt"
	"math/big"
	"sort"

	"gopalm/internal/errors"
)

// Structure is the exchangeability structure of the samples.
// When neither Permute nor FlipSigns is set, permutation is assumed.
type Structure struct {
	// Labels assigns each sample to an exchangeability block; nil means one free block
	Labels []int `json:"labels,omitempty"`
	// Within shuffles samples only inside their own block
	Within bool `json:"within"`
	// Whole shuffles entire blocks, keeping each block's internal order
	Whole bool `json:"whole"`
	// Permute enables row permutation (exchangeable errors)
	Permute bool `json:"permute"`
	// FlipSigns enables sign flipping (independent and symmetric errors)
	FlipSigns bool `json:"flip_signs"`
}

// Free is permutation of all samples without blocks
func Free() Structure {
	return Structure{Permute: true}
}

// flipUnit says what a single sign bit flips
type flipUnit int

const (
	flipNone flipUnit = iota
	flipSample
	flipBlock
)

// layout is a Structure resolved against a sample count
type layout struct {
	n          int
	blocks     [][]int // sample indices of each block, blocks ordered by label
	blockOf    []int
	wholeSwap  bool
	withinSwap bool
	flip       flipUnit
}

func (s Structure) permutes() bool {
	return s.Permute || !s.FlipSigns
}

// Validate checks the structure against n samples
func (s Structure) Validate(n int) error {
	_, err := s.layout(n)
	return err
}

func (s Structure) layout(n int) (*layout, error) {
	if n < 1 {
		return nil, errors.InvalidInput("exchangeability: at least one sample is required")
	}

	l := &layout{n: n, blockOf: make([]int, n)}

	if s.Labels == nil {
		if s.Within || s.Whole {
			return nil, errors.Exchangeability("exchangeability: within/whole block exchange requires block labels")
		}
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		l.blocks = [][]int{all}
		l.withinSwap = s.permutes()
		if s.FlipSigns {
			l.flip = flipSample
		}
		return l, nil
	}

	if len(s.Labels) != n {
		return nil, errors.Exchangeability(fmt.Sprintf("exchangeability: %d block labels do not cover %d samples", len(s.Labels), n))
	}
	if !s.Within && !s.Whole {
		return nil, errors.Exchangeability("exchangeability: block labels need within-block or whole-block exchange (or both)")
	}

	byLabel := make(map[int][]int)
	for i, label := range s.Labels {
		byLabel[label] = append(byLabel[label], i)
	}
	labels := make([]int, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	l.blocks = make([][]int, len(labels))
	for b, label := range labels {
		l.blocks[b] = byLabel[label]
		for _, i := range byLabel[label] {
			l.blockOf[i] = b
		}
	}

	l.withinSwap = s.permutes() && s.Within
	l.wholeSwap = s.permutes() && s.Whole
	if l.wholeSwap {
		size := len(l.blocks[0])
		for b, members := range l.blocks {
			if len(members) != size {
				return nil, errors.Exchangeability(fmt.Sprintf(
					"exchangeability: whole-block exchange requires equal block sizes; block %d has %d samples, block %d has %d",
					labels[0], size, labels[b], len(members)))
			}
		}
	}

	switch {
	case !s.FlipSigns:
		l.flip = flipNone
	case s.Whole && !s.Within:
		l.flip = flipBlock
	default:
		l.flip = flipSample
	}
	return l, nil
}

// Ceiling is the number of distinct arrangements the structure admits for n samples,
// identity included
func (s Structure) Ceiling(n int) (*big.Int, error) {
	l, err := s.layout(n)
	if err != nil {
		return nil, err
	}
	return l.ceiling(), nil
}

func (l *layout) ceiling() *big.Int {
	c := big.NewInt(1)
	if l.wholeSwap {
		c.Mul(c, factorial(len(l.blocks)))
	}
	if l.withinSwap {
		for _, members := range l.blocks {
			c.Mul(c, factorial(len(members)))
		}
	}
	if units := l.flipUnits(); units > 0 {
		c.Lsh(c, uint(units))
	}
	return c
}

func (l *layout) flipUnits() int {
	switch l.flip {
	case flipSample:
		return l.n
	case flipBlock:
		return len(l.blocks)
	default:
		return 0
	}
}

func factorial(k int) *big.Int {
	f := big.NewInt(1)
	if k > 1 {
		f.MulRange(1, int64(k))
	}
	return f
}
