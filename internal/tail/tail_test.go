package tail

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopalm/internal/errors"
	"gopalm/internal/testkit"
)

func TestFitMomentsExponential(t *testing.T) {
	g, ok := FitMoments(2, 4)
	require.True(t, ok)
	assert.InDelta(t, 0, g.Shape, 1e-12)
	assert.InDelta(t, 2, g.Scale, 1e-12)

	_, ok = FitMoments(0, 1)
	assert.False(t, ok)
	_, ok = FitMoments(1, 0)
	assert.False(t, ok)
	_, ok = FitMoments(math.NaN(), 1)
	assert.False(t, ok)
}

func TestGPDSurvival(t *testing.T) {
	exp := GPD{Shape: 0, Scale: 1}
	assert.InDelta(t, math.Exp(-3), exp.Survival(3), 1e-12)
	assert.Equal(t, 1.0, exp.Survival(0))
	assert.Equal(t, 0.0, exp.CDF(-1))

	heavy := GPD{Shape: 0.5, Scale: 1}
	assert.InDelta(t, math.Pow(1+0.5*2, -2), heavy.Survival(2), 1e-12)
	assert.True(t, math.IsInf(heavy.Endpoint(), 1))

	bounded := GPD{Shape: -0.25, Scale: 1}
	assert.InDelta(t, 4, bounded.Endpoint(), 1e-12)
	assert.InDelta(t, math.Pow(1-0.25*2, 4), bounded.Survival(2), 1e-12)
	// beyond the endpoint the exponential limit keeps the estimate positive
	beyond := bounded.Survival(10)
	assert.Greater(t, beyond, 0.0)
	assert.InDelta(t, math.Exp(-10), beyond, 1e-15)
}

func TestKSPValue(t *testing.T) {
	assert.Equal(t, 1.0, ksPValue(0, 50))
	assert.Equal(t, 1.0, ksPValue(0.01, 50))
	assert.Less(t, ksPValue(0.5, 50), 1e-8)

	// D = 0.2 with n = 50 sits near the 3.5% critical region
	p := ksPValue(0.2, 50)
	assert.Greater(t, p, 0.01)
	assert.Less(t, p, 0.06)
}

func TestKSStatisticUniform(t *testing.T) {
	sample := []float64{0.1, 0.3, 0.5, 0.7, 0.9}
	d := ksStatistic(sample, func(x float64) float64 { return x })
	assert.InDelta(t, 0.1, d, 1e-12)
}

func TestApproximateBulkAndExtreme(t *testing.T) {
	null := testkit.ExponentialSample(testkit.NewRand(17), 2000)

	bulk, err := Approximate(null, math.Log(2), DefaultTailFraction)
	require.NoError(t, err)
	assert.False(t, bulk.Accelerated)
	assert.False(t, bulk.Fallback)
	assert.InDelta(t, empirical(null, math.Log(2)), bulk.P, 1e-15)
	assert.InDelta(t, 0.5, bulk.P, 0.05)

	extreme, err := Approximate(null, 40, DefaultTailFraction)
	require.NoError(t, err)
	require.True(t, extreme.Accelerated, "tail fit was not accepted")
	assert.False(t, extreme.Fallback)
	assert.Greater(t, extreme.P, 0.0)
	assert.Less(t, extreme.P, 1.0/2000)
	assert.False(t, math.IsInf(extreme.P, 0))
	assert.False(t, math.IsNaN(extreme.P))
}

func TestAcceleratedNearThresholdTracksEmpirical(t *testing.T) {
	null := testkit.ExponentialSample(testkit.NewRand(23), 5000)
	a := DefaultApproximator()

	fit, ok := a.Fit(null)
	require.True(t, ok)

	x := fit.Threshold + 0.5
	ps, summary := a.PValues(null, []float64{x})
	assert.Equal(t, 1, summary.Accelerated)
	assert.InDelta(t, empirical(null, x), ps[0], 0.02)
}

func TestFallbackWhenTailTooSmall(t *testing.T) {
	null := []float64{0.1, 0.4, 0.2, 0.3, 0.5, 0.6}
	res, err := Approximate(null, 5, DefaultTailFraction)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.False(t, res.Accelerated)
	assert.Equal(t, 0.0, res.P)
}

func TestPValuesHandlesNaN(t *testing.T) {
	null := testkit.ExponentialSample(testkit.NewRand(3), 500)
	ps, _ := DefaultApproximator().PValues(null, []float64{math.NaN(), 0.1})
	assert.True(t, math.IsNaN(ps[0]))
	assert.Greater(t, ps[1], 0.5)
}

func TestTailFractionIsConfigurable(t *testing.T) {
	null := testkit.ExponentialSample(testkit.NewRand(29), 4000)

	wide, err := NewApproximator(0.4)
	require.NoError(t, err)
	narrow, err := NewApproximator(0.1)
	require.NoError(t, err)

	wf, ok := wide.Fit(null)
	require.True(t, ok)
	nf, ok := narrow.Fit(null)
	require.True(t, ok)
	assert.Less(t, wf.Threshold, nf.Threshold)

	for _, bad := range []float64{0, 1, -0.1, math.NaN()} {
		_, err := NewApproximator(bad)
		assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
	}
}
