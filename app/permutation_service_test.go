package app

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gopalm/adapters/stats/statistic"
	"gopalm/domain/exchange"
	"gopalm/domain/stats"
	"gopalm/internal/errors"
	"gopalm/internal/testkit"
)

func nullCohort(t *testing.T, seed int64) *testkit.Cohort {
	t.Helper()
	cfg := testkit.DefaultCohortConfig()
	cfg.Seed = seed
	c, err := testkit.NewCohortGenerator(cfg).Generate()
	require.NoError(t, err)
	return c
}

func baseRequest(c *testkit.Cohort, permutations int) PermutationRequest {
	opts := DefaultOptions()
	opts.Permutations = permutations
	return PermutationRequest{Data: c.Data, Design: c.Design, Contrast: c.Contrast, Options: opts}
}

func countLess(p []float64, alpha float64) int {
	n := 0
	for _, v := range p {
		if v < alpha {
			n++
		}
	}
	return n
}

func TestNullDataIsCalibrated(t *testing.T) {
	opts := DefaultOptions()
	opts.Permutations = 500

	// five cohorts of 100 null features
	var rejected, familywise int
	var sum float64
	for _, seed := range []int64{42, 43, 44, 45, 46} {
		c := nullCohort(t, seed)
		unc, fdr, fwe, err := PermutationAnalysis(context.Background(), c.Data, c.Design, c.Contrast, nil, opts)
		require.NoError(t, err)
		require.Len(t, unc, 100)

		rejected += countLess(unc, 0.05)
		familywise += countLess(fwe, 0.05)
		for j := range unc {
			sum += unc[j]
			assert.GreaterOrEqual(t, unc[j], 1.0/501)
			assert.LessOrEqual(t, unc[j], 1.0)
			assert.GreaterOrEqual(t, fdr[j], unc[j])
			assert.GreaterOrEqual(t, fwe[j], unc[j])
		}
	}

	// 25 expected rejections with a standard deviation near 5
	assert.GreaterOrEqual(t, rejected, 8, "too few uncorrected rejections")
	assert.LessOrEqual(t, rejected, 45, "too many uncorrected rejections")
	// uniform p-values average one half
	assert.InDelta(t, 0.5, sum/500, 0.08)
	assert.LessOrEqual(t, familywise, 4)
}

func TestStrongEffectsSurviveFWE(t *testing.T) {
	cfg := testkit.DefaultCohortConfig()
	cfg.Features = 30
	cfg.EffectFeatures = 3
	cfg.EffectSize = 4
	c, err := testkit.NewCohortGenerator(cfg).Generate()
	require.NoError(t, err)

	result, err := NewPermutationService(testkit.RNGAdapter(), nil).Run(context.Background(), baseRequest(c, 300))
	require.NoError(t, err)
	require.Len(t, result.Tests, 1)

	test := result.Tests[0]
	assert.Equal(t, "c1", test.Label)
	assert.Equal(t, "welch_t", test.Statistic)
	for j := 0; j < 3; j++ {
		assert.Less(t, test.FWE[j], 0.05, "feature %d", j)
	}
}

func TestSameSeedReproducesResults(t *testing.T) {
	c := nullCohort(t, 7)
	svc := NewPermutationService(testkit.RNGAdapter(), nil)

	req := baseRequest(c, 200)
	req.Options.Workers = 4
	first, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	req.Options.Workers = 1
	second, err := svc.Run(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Tests[0].Uncorrected, second.Tests[0].Uncorrected)
	assert.Equal(t, first.Tests[0].FWE, second.Tests[0].FWE)
	assert.Equal(t, first.Tests[0].MaxNull, second.Tests[0].MaxNull)

	req.Options.Seed = 8
	third, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Tests[0].MaxNull, third.Tests[0].MaxNull)
}

func TestObservedMatchesDirectStatistic(t *testing.T) {
	c := nullCohort(t, 3)
	result, err := NewPermutationService(nil, nil).Run(context.Background(), baseRequest(c, 50))
	require.NoError(t, err)

	direct, err := statistic.NewWelchT().Compute(c.Data, c.Design, c.Contrast)
	require.NoError(t, err)
	assert.Equal(t, direct.Values, result.Tests[0].Observed.Values)
	assert.Equal(t, 51, result.Arrangements)
}

func TestStructuralErrorsAbortBeforePermuting(t *testing.T) {
	c := nullCohort(t, 1)
	calls := 0
	hook := func(string, int, exchange.Arrangement, []float64) { calls++ }

	tests := []struct {
		name   string
		mutate func(*PermutationRequest)
		code   string
	}{
		{"design rows", func(r *PermutationRequest) { r.Design = testkit.TwoGroupDesign(9) }, errors.CodeShapeMismatch},
		{"contrast width", func(r *PermutationRequest) { r.Contrast = testkit.Contrast(0, 1, 0) }, errors.CodeShapeMismatch},
		{"zero contrast", func(r *PermutationRequest) { r.Contrast = testkit.Contrast(0, 0) }, errors.CodeDegenerateContrast},
		{"labels without flags", func(r *PermutationRequest) {
			r.Options.Exchange = exchange.Structure{Labels: make([]int, 20), Permute: true}
		}, errors.CodeExchangeability},
		{"f groups length", func(r *PermutationRequest) { r.FGroups = []int{1, 1} }, errors.CodeShapeMismatch},
		{"f only without groups", func(r *PermutationRequest) { r.FOnly = true }, errors.CodeInvalidInput},
		{"mask length", func(r *PermutationRequest) { r.Mask = []bool{true} }, errors.CodeShapeMismatch},
		{"unknown statistic", func(r *PermutationRequest) { r.StatisticName = "tfce" }, errors.CodeUnsupportedStatistic},
		{"tail fraction", func(r *PermutationRequest) { r.Options.TailFraction = 2 }, errors.CodeInvalidInput},
		{"variance groups length", func(r *PermutationRequest) { r.VarianceGroups = []int{0, 1} }, errors.CodeShapeMismatch},
		{"demeaned intercept", func(r *PermutationRequest) {
			r.Contrast = testkit.Contrast(1, 0)
			r.Options.Demean = true
		}, errors.CodeDegenerateContrast},
		{"t statistic for F-test", func(r *PermutationRequest) {
			r.FGroups = []int{1}
			r.FStatistic = statistic.NewGLMT()
		}, errors.CodeUnsupportedStatistic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(c, 20)
			req.Options.OnPermutation = hook
			tt.mutate(&req)
			_, err := NewPermutationService(nil, nil).Run(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
	assert.Zero(t, calls)
}

func TestSmallSpaceIsEnumeratedExhaustively(t *testing.T) {
	r := testkit.NewRand(5)
	data := testkit.NormalData(r, 6, 4)
	design := testkit.TwoGroupDesign(3)

	req := PermutationRequest{Data: data, Design: design, Contrast: testkit.Contrast(0, 1), StatisticName: "t", Options: DefaultOptions()}
	result, err := NewPermutationService(nil, nil).Run(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Capped)
	assert.True(t, result.Exhaustive)
	assert.Equal(t, 720, result.Arrangements)
	assert.Equal(t, "720", result.Ceiling)
	assert.Len(t, result.Tests[0].MaxNull, 720)
}

func covariateStudy(t *testing.T) (*mat.Dense, *mat.Dense) {
	t.Helper()
	r := testkit.NewRand(11)
	n := 24
	design := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		design.Set(i, 0, 1)
		design.Set(i, 1, r.NormFloat64())
		design.Set(i, 2, r.NormFloat64())
	}
	return testkit.NormalData(r, n, 15), design
}

func TestMultipleContrastsAndFTests(t *testing.T) {
	data, design := covariateStudy(t)
	contrast := mat.NewDense(2, 3, []float64{0, 1, 0, 0, 0, 1})

	var mu sync.Mutex
	seen := map[string]int{}
	req := PermutationRequest{
		Data:     data,
		Design:   design,
		Contrast: contrast,
		FGroups:  []int{1, 1},
		Options:  DefaultOptions(),
	}
	req.Options.Permutations = 100
	req.Options.TwoTailed = true
	req.Options.CorrectAcrossContrasts = true
	req.Options.ZStat = true
	req.Options.OnPermutation = func(test string, _ int, _ exchange.Arrangement, values []float64) {
		mu.Lock()
		seen[test]++
		mu.Unlock()
	}

	result, err := NewPermutationService(nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Tests, 3)
	assert.Equal(t, map[string]int{"c1": 101, "c2": 101, "f1": 101}, seen)

	c1, ok := result.Test("c1")
	require.True(t, ok)
	assert.Equal(t, "glm_t", c1.Statistic)
	require.Len(t, c1.CrossFWE, 15)
	for j := range c1.FWE {
		assert.GreaterOrEqual(t, c1.CrossFWE[j], c1.FWE[j])
	}
	assert.Len(t, c1.Z, 15)

	f1, ok := result.Test("f1")
	require.True(t, ok)
	assert.Equal(t, "glm_f", f1.Statistic)
	assert.Equal(t, []int{0, 1}, f1.Rows)
	assert.Nil(t, f1.CrossFWE)
	assert.Equal(t, 2.0, f1.Observed.DF1)
	for _, z := range f1.Z {
		assert.False(t, math.IsNaN(z))
	}

	req.FOnly = true
	req.Options.OnPermutation = nil
	fonly, err := NewPermutationService(nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, fonly.Tests, 1)
	assert.Equal(t, "f1", fonly.Tests[0].Label)
	assert.Equal(t, f1.Uncorrected, fonly.Tests[0].Uncorrected)
}

func TestMaskedFeaturesReportNoEvidence(t *testing.T) {
	c := nullCohort(t, 9)
	mask := make([]bool, 100)
	for j := range mask {
		mask[j] = j%2 == 0
	}
	req := baseRequest(c, 50)
	req.Mask = mask

	result, err := NewPermutationService(nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 50, result.Features)

	test := result.Tests[0]
	require.Len(t, test.Uncorrected, 100)
	for j := range mask {
		if mask[j] {
			assert.False(t, test.Untestable[j])
			assert.False(t, math.IsNaN(test.Observed.Values[j]))
			continue
		}
		assert.True(t, test.Untestable[j])
		assert.True(t, math.IsNaN(test.Observed.Values[j]))
		assert.Equal(t, 1.0, test.Uncorrected[j])
		assert.Equal(t, 1.0, test.FDR[j])
		assert.Equal(t, 1.0, test.FWE[j])
	}
}

func TestConstantFeatureIsUntestable(t *testing.T) {
	c := nullCohort(t, 4)
	n, _ := c.Data.Dims()
	for i := 0; i < n; i++ {
		c.Data.Set(i, 0, 3)
	}
	unc, fdr, fwe, err := PermutationAnalysis(context.Background(), c.Data, c.Design, c.Contrast, statistic.NewGLMT(),
		func() Options { o := DefaultOptions(); o.Permutations = 50; return o }())
	require.NoError(t, err)
	assert.Equal(t, 1.0, unc[0])
	assert.Equal(t, 1.0, fdr[0])
	assert.Equal(t, 1.0, fwe[0])
}

func TestTailAccelerationStaysInRange(t *testing.T) {
	cfg := testkit.DefaultCohortConfig()
	cfg.Features = 20
	cfg.EffectFeatures = 1
	cfg.EffectSize = 5
	c, err := testkit.NewCohortGenerator(cfg).Generate()
	require.NoError(t, err)

	req := baseRequest(c, 400)
	req.Options.AccelTail = true
	req.Options.KeepFullNull = true
	req.Options.TwoTailed = true
	result, err := NewPermutationService(nil, nil).Run(context.Background(), req)
	require.NoError(t, err)

	test := result.Tests[0]
	for j := range test.FWE {
		assert.Greater(t, test.Uncorrected[j], 0.0)
		assert.LessOrEqual(t, test.Uncorrected[j], 1.0)
		assert.Greater(t, test.FWE[j], 0.0)
		assert.LessOrEqual(t, test.FWE[j], 1.0)
	}
	assert.Less(t, test.FWE[0], 0.05)
}

func TestCancelledContextStopsRun(t *testing.T) {
	c := nullCohort(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPermutationService(nil, nil).Run(ctx, baseRequest(c, 100))
	require.Error(t, err)
}

// countingF is the GLM F with a call counter
type countingF struct {
	*statistic.GLMF
	calls atomic.Int64
}

func (c *countingF) Compute(data, design, contrast *mat.Dense) (stats.Map, error) {
	c.calls.Add(1)
	return c.GLMF.Compute(data, design, contrast)
}

func TestPermutationAnalysisUsesGivenFStatistic(t *testing.T) {
	data, design := covariateStudy(t)
	contrast := mat.NewDense(2, 3, []float64{0, 1, 0, 0, 0, 1})
	opts := DefaultOptions()
	opts.Permutations = 60

	stat := &countingF{GLMF: statistic.NewGLMF()}
	unc, _, _, err := PermutationAnalysis(context.Background(), data, design, contrast, stat, opts)
	require.NoError(t, err)
	require.Len(t, unc, 15)
	// observed map plus one map per permutation
	assert.Equal(t, int64(61), stat.calls.Load())

	_, _, _, err = PermutationAnalysis(context.Background(), data, design, contrast, statistic.NewGLMT(), opts)
	assert.True(t, errors.HasCode(err, errors.CodeUnsupportedStatistic))
}

func TestVarianceGroupsSelectHeteroscedasticStatistics(t *testing.T) {
	cfg := testkit.DefaultCohortConfig()
	cfg.Features = 10
	cfg.Blocks = 2
	c, err := testkit.NewCohortGenerator(cfg).Generate()
	require.NoError(t, err)

	req := baseRequest(c, 80)
	req.FGroups = []int{1}
	req.Options.Exchange = exchange.Structure{Labels: c.Labels, Within: true, Permute: true}
	req.Options.VarianceGroupsAuto = true

	result, err := NewPermutationService(nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, result.VarianceGroups)
	require.Len(t, result.Tests, 2)
	assert.Equal(t, "aspin_welch_v", result.Tests[0].Statistic)
	assert.Equal(t, "g", result.Tests[1].Statistic)
	for j, v := range result.Tests[0].Observed.Values {
		assert.InDelta(t, v*v, result.Tests[1].Observed.Values[j], 1e-9)
	}

	// one explicit group keeps pooled variances
	req.VarianceGroups = make([]int, 20)
	pooled, err := NewPermutationService(nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, pooled.VarianceGroups)
	assert.Equal(t, "welch_t", pooled.Tests[0].Statistic)
	assert.Equal(t, "glm_f", pooled.Tests[1].Statistic)
}

func TestDemeanKeepsTwoGroupStatistic(t *testing.T) {
	c := nullCohort(t, 12)
	plain, err := NewPermutationService(nil, nil).Run(context.Background(), baseRequest(c, 30))
	require.NoError(t, err)

	req := baseRequest(c, 30)
	req.Options.Demean = true
	centered, err := NewPermutationService(nil, nil).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, plain.Tests[0].Statistic, centered.Tests[0].Statistic)
	assert.InDeltaSlice(t, plain.Tests[0].Observed.Values, centered.Tests[0].Observed.Values, 1e-9)
	assert.Equal(t, plain.Fingerprint, centered.Fingerprint)
}
