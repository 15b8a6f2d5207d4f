package profiling

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeNull(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, math.NaN(), math.Inf(1)}
	s, err := NewDistributionAnalyzer().SummarizeNull(values)
	require.NoError(t, err)

	assert.Equal(t, 10, s.N)
	assert.InDelta(t, 5.5, s.Mean, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 5.5, s.Median, 1e-12)
	assert.InDelta(t, 0, s.Skewness, 1e-12)
	assert.GreaterOrEqual(t, s.Percentile99, s.Percentile95)
}

func TestSummarizeNullEmpty(t *testing.T) {
	_, err := NewDistributionAnalyzer().SummarizeNull([]float64{math.NaN()})
	assert.Error(t, err)
}

func TestSkewnessSign(t *testing.T) {
	right := []float64{0, 0, 0, 0, 1, 1, 2, 10}
	s, err := NewDistributionAnalyzer().SummarizeNull(right)
	require.NoError(t, err)
	assert.Greater(t, s.Skewness, 0.0)
}
