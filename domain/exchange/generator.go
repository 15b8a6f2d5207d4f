package exchange

import (
	"fmt"
	"math/big"
	"math/rand"

	"gopalm/internal/errors"
)

// Generator is a lazy, restartable sequence of arrangements. The first arrangement is
// always the identity and no arrangement repeats. A Generator is not safe for
// concurrent use.
type Generator struct {
	layout     *layout
	ceiling    *big.Int
	requested  int
	total      int
	exhaustive bool
	seed       int64

	rng      *rand.Rand
	position int

	// sparse Fisher–Yates state over ranks [1, ceiling) when the ceiling fits in int64
	space int64
	swaps map[int64]int64

	// duplicate rejection for spaces beyond int64
	seen map[uint64]struct{}
}

// NewGenerator prepares a sequence of the identity plus `requested` distinct
// non-identity arrangements of n samples. When the structure admits no more than
// requested+1 arrangements, the whole space is enumerated instead and Len reports
// the smaller count.
func NewGenerator(n, requested int, s Structure, seed int64) (*Generator, error) {
	if requested < 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("permutations: requested count %d is negative", requested))
	}
	l, err := s.layout(n)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		layout:    l,
		ceiling:   l.ceiling(),
		requested: requested,
		seed:      seed,
	}

	want := big.NewInt(int64(requested) + 1)
	if g.ceiling.Cmp(want) <= 0 {
		g.exhaustive = true
		g.total = int(g.ceiling.Int64())
	} else {
		g.total = requested + 1
	}
	if g.ceiling.IsInt64() {
		g.space = g.ceiling.Int64()
	}

	g.Reset()
	return g, nil
}

// Reset rewinds the sequence; the replay is identical to the first pass
func (g *Generator) Reset() {
	g.rng = rand.New(rand.NewSource(g.seed))
	g.position = 0
	g.swaps = make(map[int64]int64)
	g.seen = make(map[uint64]struct{})
}

// Len is the total number of arrangements the sequence yields, identity included
func (g *Generator) Len() int {
	return g.total
}

// Exhaustive reports whether the sequence enumerates every admissible arrangement
func (g *Generator) Exhaustive() bool {
	return g.exhaustive
}

// Capped reports whether fewer arrangements exist than were requested
func (g *Generator) Capped() bool {
	return g.total < g.requested+1
}

// Ceiling returns the size of the arrangement space
func (g *Generator) Ceiling() *big.Int {
	return new(big.Int).Set(g.ceiling)
}

// Samples returns the number of samples each arrangement relabels
func (g *Generator) Samples() int {
	return g.layout.n
}

// Next returns the next arrangement, or false once Len arrangements were produced
func (g *Generator) Next() (Arrangement, bool) {
	if g.position >= g.total {
		return Arrangement{}, false
	}
	k := g.position
	g.position++

	if k == 0 {
		a := g.layout.identity()
		if g.space == 0 {
			g.seen[a.Fingerprint()] = struct{}{}
		}
		return a, true
	}
	if g.exhaustive {
		return g.layout.unrank(int64(k)), true
	}
	if g.space > 0 {
		return g.layout.unrank(g.drawRank(int64(k - 1))), true
	}
	return g.drawDistinct(), true
}

// All rewinds and drains the sequence
func (g *Generator) All() []Arrangement {
	g.Reset()
	out := make([]Arrangement, 0, g.total)
	for {
		a, ok := g.Next()
		if !ok {
			break
		}
		out = append(out, a)
	}
	g.Reset()
	return out
}

// drawRank is step t of a Fisher–Yates shuffle over the virtual array of ranks
// 1..space-1, storing only displaced entries
func (g *Generator) drawRank(t int64) int64 {
	size := g.space - 1
	j := t + g.rng.Int63n(size-t)
	picked := g.rankAt(j)
	g.swaps[j] = g.rankAt(t)
	delete(g.swaps, t)
	return picked
}

func (g *Generator) rankAt(i int64) int64 {
	if v, ok := g.swaps[i]; ok {
		return v
	}
	return i + 1
}

// drawDistinct shuffles directly and rejects repeats by fingerprint
func (g *Generator) drawDistinct() Arrangement {
	l := g.layout
	for {
		var order []int
		if l.wholeSwap && len(l.blocks) > 1 {
			order = g.rng.Perm(len(l.blocks))
		}
		within := make([][]int, len(l.blocks))
		if l.withinSwap {
			for b, members := range l.blocks {
				if len(members) > 1 {
					within[b] = g.rng.Perm(len(members))
				}
			}
		}
		bits := make([]bool, l.flipUnits())
		for i := range bits {
			bits[i] = g.rng.Intn(2) == 1
		}

		a := l.compose(order, within, func(unit int) bool { return bits[unit] })
		fp := a.Fingerprint()
		if _, dup := g.seen[fp]; dup {
			continue
		}
		g.seen[fp] = struct{}{}
		return a
	}
}

func (l *layout) identity() Arrangement {
	return l.compose(nil, make([][]int, len(l.blocks)), func(int) bool { return false })
}
