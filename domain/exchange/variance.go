package exchange

// VarianceGroups derives one variance group per sample from the block structure.
// Within-block exchange puts each block in its own group. Whole-block exchange groups
// samples by their position inside the block. Unblocked samples, or blocks exchanged
// both ways, form a single group.
func (s Structure) VarianceGroups(n int) ([]int, error) {
	l, err := s.layout(n)
	if err != nil {
		return nil, err
	}
	groups := make([]int, n)
	if len(l.blocks) <= 1 || (s.Within && s.Whole) {
		return groups, nil
	}

	if s.Whole {
		for _, members := range l.blocks {
			for pos, i := range members {
				groups[i] = pos
			}
		}
		return groups, nil
	}
	copy(groups, l.blockOf)
	return groups, nil
}
