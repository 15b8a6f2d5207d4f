package exchange

// factorials64 holds k! for k ≤ 20, the largest that fit in int64
var factorials64 = func() [21]int64 {
	var f [21]int64
	f[0] = 1
	for k := 1; k < len(f); k++ {
		f[k] = f[k-1] * int64(k)
	}
	return f
}()

// lehmer decodes rank d ∈ [0, k!) into a permutation of 0..k-1; rank 0 is the identity
func lehmer(d int64, k int) []int {
	pool := make([]int, k)
	for i := range pool {
		pool[i] = i
	}
	perm := make([]int, k)
	for i := 0; i < k; i++ {
		f := factorials64[k-1-i]
		idx := int(d / f)
		d %= f
		perm[i] = pool[idx]
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return perm
}

// unrank decodes a mixed-radix rank into an arrangement. The least significant digits
// hold the sign bits, then each block's internal order, then the block order.
// Callers guarantee rank < ceiling and that the ceiling fits in int64.
func (l *layout) unrank(rank int64) Arrangement {
	r := rank

	var signBits uint64
	if units := l.flipUnits(); units > 0 {
		radix := int64(1) << uint(units)
		signBits = uint64(r % radix)
		r /= radix
	}

	within := make([][]int, len(l.blocks))
	for b, members := range l.blocks {
		k := len(members)
		if !l.withinSwap || k < 2 {
			within[b] = nil
			continue
		}
		radix := factorials64[k]
		within[b] = lehmer(r%radix, k)
		r /= radix
	}

	var order []int
	if l.wholeSwap && len(l.blocks) > 1 {
		order = lehmer(r%factorials64[len(l.blocks)], len(l.blocks))
	}

	return l.compose(order, within, func(unit int) bool {
		return signBits&(1<<uint(unit)) != 0
	})
}

// compose builds an arrangement from a block order, per-block orders and a sign predicate.
// nil orders mean identity.
func (l *layout) compose(order []int, within [][]int, flipped func(unit int) bool) Arrangement {
	idx := make([]int, l.n)
	for s, dest := range l.blocks {
		src := s
		if order != nil {
			src = order[s]
		}
		members := l.blocks[src]
		sigma := within[src]
		for j, pos := range dest {
			k := j
			if sigma != nil {
				k = sigma[j]
			}
			idx[pos] = members[k]
		}
	}

	a := Arrangement{Index: idx}
	if l.flip == flipNone {
		return a
	}
	a.Signs = make([]float64, l.n)
	for i := range a.Signs {
		unit := i
		if l.flip == flipBlock {
			unit = l.blockOf[i]
		}
		a.Signs[i] = 1
		if flipped(unit) {
			a.Signs[i] = -1
		}
	}
	return a
}
