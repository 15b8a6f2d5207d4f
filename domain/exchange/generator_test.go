package exchange

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopalm/internal/errors"
)

func isPermutation(idx []int) bool {
	seen := make([]bool, len(idx))
	for _, v := range idx {
		if v < 0 || v >= len(idx) || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

func assertDistinct(t *testing.T, arrangements []Arrangement) {
	t.Helper()
	seen := make(map[uint64]int)
	for k, a := range arrangements {
		fp := a.Fingerprint()
		if prev, ok := seen[fp]; ok {
			t.Fatalf("arrangement %d repeats arrangement %d: %v", k, prev, a.Index)
		}
		seen[fp] = k
	}
}

func TestWithinBlocksTwoByTwoIsExhaustive(t *testing.T) {
	s := Structure{Labels: []int{1, 1, 2, 2}, Within: true, Permute: true}

	g, err := NewGenerator(4, 100, s, 42)
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.True(t, g.Exhaustive())
	assert.True(t, g.Capped())
	assert.Equal(t, big.NewInt(4), g.Ceiling())

	all := g.All()
	require.Len(t, all, 4)
	assert.True(t, all[0].IsIdentity())
	assertDistinct(t, all)
	for _, a := range all {
		// rows never leave their block
		assert.ElementsMatch(t, []int{0, 1}, a.Index[:2])
		assert.ElementsMatch(t, []int{2, 3}, a.Index[2:])
	}
}

func TestFreeExchangeCeilingCap(t *testing.T) {
	g, err := NewGenerator(5, 1000, Free(), 1)
	require.NoError(t, err)

	assert.Equal(t, 120, g.Len())
	all := g.All()
	require.Len(t, all, 120)
	assertDistinct(t, all)
	for _, a := range all {
		assert.True(t, isPermutation(a.Index))
		assert.Nil(t, a.Signs)
	}
}

func TestExactCeilingIsExhaustiveNotCapped(t *testing.T) {
	g, err := NewGenerator(4, 23, Free(), 1)
	require.NoError(t, err)
	assert.Equal(t, 24, g.Len())
	assert.True(t, g.Exhaustive())
	assert.False(t, g.Capped())
}

func TestRandomDrawsAreDistinctAndSeeded(t *testing.T) {
	s := Free()

	g1, err := NewGenerator(10, 500, s, 7)
	require.NoError(t, err)
	g2, err := NewGenerator(10, 500, s, 7)
	require.NoError(t, err)
	g3, err := NewGenerator(10, 500, s, 8)
	require.NoError(t, err)

	assert.False(t, g1.Exhaustive())
	assert.False(t, g1.Capped())
	assert.Equal(t, 501, g1.Len())

	a1, a2, a3 := g1.All(), g2.All(), g3.All()
	require.Len(t, a1, 501)
	assert.True(t, a1[0].IsIdentity())
	assertDistinct(t, a1)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1[1:], a3[1:])
	for _, a := range a1[1:] {
		assert.True(t, isPermutation(a.Index))
		assert.False(t, a.IsIdentity())
	}
}

func TestResetReplaysSequence(t *testing.T) {
	g, err := NewGenerator(8, 50, Structure{FlipSigns: true, Permute: true}, 3)
	require.NoError(t, err)

	var first []Arrangement
	for {
		a, ok := g.Next()
		if !ok {
			break
		}
		first = append(first, a)
	}
	g.Reset()
	for k := range first {
		a, ok := g.Next()
		require.True(t, ok)
		assert.Equal(t, first[k], a)
	}
	_, ok := g.Next()
	assert.False(t, ok)
}

func TestBeyondInt64SpaceRejectsDuplicates(t *testing.T) {
	g, err := NewGenerator(30, 200, Free(), 11)
	require.NoError(t, err)
	assert.False(t, g.Ceiling().IsInt64())

	all := g.All()
	require.Len(t, all, 201)
	assertDistinct(t, all)
	for _, a := range all {
		assert.True(t, isPermutation(a.Index))
	}
}

func TestWholeBlocksKeepInternalOrder(t *testing.T) {
	s := Structure{Labels: []int{0, 0, 1, 1, 2, 2}, Whole: true, Permute: true}
	g, err := NewGenerator(6, 100, s, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, g.Len())

	all := g.All()
	assertDistinct(t, all)
	for _, a := range all {
		for b := 0; b < 3; b++ {
			first, second := a.Index[2*b], a.Index[2*b+1]
			assert.Equal(t, 0, first%2, "block start moved inside block")
			assert.Equal(t, first+1, second)
		}
	}
}

func TestWithinAndWholeCombined(t *testing.T) {
	s := Structure{Labels: []int{0, 0, 1, 1}, Within: true, Whole: true, Permute: true}
	c, err := s.Ceiling(4)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(8), c)

	g, err := NewGenerator(4, 100, s, 5)
	require.NoError(t, err)
	all := g.All()
	require.Len(t, all, 8)
	assertDistinct(t, all)
}

func TestSignFlipOnly(t *testing.T) {
	g, err := NewGenerator(3, 10, Structure{FlipSigns: true}, 2)
	require.NoError(t, err)
	assert.Equal(t, 8, g.Len())

	all := g.All()
	assertDistinct(t, all)
	for _, a := range all {
		assert.Equal(t, []int{0, 1, 2}, a.Index)
		require.Len(t, a.Signs, 3)
	}
}

func TestWholeBlockSignFlips(t *testing.T) {
	s := Structure{Labels: []int{0, 0, 1, 1}, Whole: true, Permute: true, FlipSigns: true}
	g, err := NewGenerator(4, 100, s, 2)
	require.NoError(t, err)
	assert.Equal(t, 8, g.Len())

	for _, a := range g.All() {
		assert.Equal(t, a.Signs[0], a.Signs[1])
		assert.Equal(t, a.Signs[2], a.Signs[3])
	}
}

func TestStructureErrors(t *testing.T) {
	tests := []struct {
		name string
		s    Structure
		n    int
	}{
		{"labels length", Structure{Labels: []int{0, 1}, Within: true}, 3},
		{"labels without mode", Structure{Labels: []int{0, 0, 1}}, 3},
		{"within without labels", Structure{Within: true}, 3},
		{"unequal whole blocks", Structure{Labels: []int{0, 0, 1}, Whole: true}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.n, 10, tt.s, 1)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeExchangeability), "got %v", err)
		})
	}

	_, err := NewGenerator(3, -1, Free(), 1)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestLehmerEnumeratesAllPermutations(t *testing.T) {
	seen := make(map[[4]int]bool)
	for d := int64(0); d < 24; d++ {
		p := lehmer(d, 4)
		require.True(t, isPermutation(p))
		var key [4]int
		copy(key[:], p)
		seen[key] = true
	}
	assert.Len(t, seen, 24)
	assert.Equal(t, []int{0, 1, 2, 3}, lehmer(0, 4))
}

func TestSparseShuffleCoversSpace(t *testing.T) {
	// 7! = 5040 fits in int64, so ranks come from the sparse shuffle
	g, err := NewGenerator(7, 3000, Free(), 9)
	require.NoError(t, err)
	assert.False(t, g.Exhaustive())

	all := g.All()
	require.Len(t, all, 3001)
	assertDistinct(t, all)
	assert.True(t, all[0].IsIdentity())
	for _, a := range all[1:] {
		assert.False(t, a.IsIdentity())
	}
}
