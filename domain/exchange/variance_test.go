package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopalm/internal/errors"
)

func TestVarianceGroups(t *testing.T) {
	labels := []int{7, 7, 7, 3, 3, 3}
	tests := []struct {
		name string
		s    Structure
		want []int
	}{
		{"free", Free(), []int{0, 0, 0, 0, 0, 0}},
		{"within", Structure{Labels: labels, Within: true}, []int{1, 1, 1, 0, 0, 0}},
		{"whole", Structure{Labels: labels, Whole: true}, []int{0, 1, 2, 0, 1, 2}},
		{"within and whole", Structure{Labels: labels, Within: true, Whole: true}, []int{0, 0, 0, 0, 0, 0}},
		{"single block", Structure{Labels: []int{1, 1, 1, 1, 1, 1}, Within: true}, []int{0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.s.VarianceGroups(6)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Structure{Labels: []int{0, 0, 1}, Whole: true}.VarianceGroups(3)
	assert.True(t, errors.HasCode(err, errors.CodeExchangeability))
}
