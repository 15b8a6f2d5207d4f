package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"gopalm/adapters/nulldist"
	"gopalm/adapters/rng"
	"gopalm/adapters/stats/statistic"
	"gopalm/domain/core"
	"gopalm/domain/exchange"
	"gopalm/domain/glm"
	"gopalm/domain/stats"
	"gopalm/internal/correction"
	"gopalm/internal/errors"
	"gopalm/internal/parametric"
	"gopalm/internal/profiling"
	"gopalm/internal/tail"
	"gopalm/ports"
)

// TestHook observes every permuted statistic map of every test in a run
type TestHook func(test string, index int, arrangement exchange.Arrangement, values []float64)

// Options controls one permutation run
type Options struct {
	Permutations int // non-identity arrangements requested
	Seed         int64
	TwoTailed    bool
	Exchange     exchange.Structure
	Method       nulldist.Method

	AccelTail    bool
	TailFraction float64 // 0 selects tail.DefaultTailFraction

	// Demean centers the data and the non-constant design columns before fitting
	Demean bool
	// VarianceGroupsAuto derives variance groups from the exchangeability blocks when the
	// request carries none
	VarianceGroupsAuto bool

	// KeepFullNull retains every permuted map; required for per-feature tail acceleration
	KeepFullNull           bool
	CorrectAcrossContrasts bool
	ZStat                  bool
	Workers                int
	OnPermutation          TestHook
}

// DefaultOptions mirrors the CLI defaults
func DefaultOptions() Options {
	return Options{
		Permutations: 1000,
		Seed:         42,
		Exchange:     exchange.Free(),
		Method:       nulldist.DraperStoneman,
		TailFraction: tail.DefaultTailFraction,
	}
}

// PermutationRequest describes the inputs of one run
type PermutationRequest struct {
	Data     *mat.Dense // samples × features
	Design   *mat.Dense // samples × predictors
	Contrast *mat.Dense // q × predictors

	// FGroups has one entry per contrast row; rows sharing a positive label form one F-test
	FGroups []int
	// FOnly skips the per-row t-tests
	FOnly bool
	// Mask selects the features to analyse; nil keeps all. Masked-out features report p = 1.
	Mask []bool

	// VarianceGroups labels each sample's variance group. Two or more groups switch the
	// automatic statistics to Aspin-Welch v and G.
	VarianceGroups []int

	// StatisticName is resolved per t-test (auto, t, welch, v). F-tests use the GLM F,
	// or G when variance groups are in effect.
	StatisticName string
	// Statistic overrides StatisticName for t-tests
	Statistic ports.Statistic
	// FStatistic overrides the statistic of every F-test; it must be of F kind
	FStatistic ports.Statistic

	Options Options
}

// TestResult holds the inference for one contrast or F-test
type TestResult struct {
	Label     string     `json:"label"` // c1, c2, … for t-tests, f1, … for F-tests
	Statistic string     `json:"statistic"`
	Kind      stats.Kind `json:"kind"`
	Rows      []int      `json:"rows"` // contrast rows tested

	Observed    stats.Map `json:"observed"`
	Z           []float64 `json:"z,omitempty"`
	Uncorrected []float64 `json:"uncorrected"`
	FDR         []float64 `json:"fdr"`
	FWE         []float64 `json:"fwe"`
	CrossFWE    []float64 `json:"cross_fwe,omitempty"`
	Untestable  []bool    `json:"untestable"`

	MaxNull       []float64             `json:"max_null"`
	NullSummary   profiling.NullSummary `json:"null_summary"`
	Accelerated   int                   `json:"accelerated"`
	TailFallbacks int                   `json:"tail_fallbacks"`

	Null *stats.Null `json:"-"`
}

// PermutationResult is the outcome of PermutationService.Run
type PermutationResult struct {
	RunID        core.RunID       `json:"run_id"`
	StartedAt    core.Timestamp   `json:"started_at"`
	RuntimeMs    int64            `json:"runtime_ms"`
	Fingerprint  core.Fingerprint `json:"fingerprint"` // data, design and contrast
	Seed         int64            `json:"seed"`
	Method       string           `json:"method"`
	Arrangements int              `json:"arrangements"` // identity included
	Exhaustive   bool             `json:"exhaustive"`
	Capped       bool             `json:"capped"`
	Ceiling      string           `json:"ceiling"`
	Features     int              `json:"features"`
	Tests        []TestResult     `json:"tests"`

	// VarianceGroups counts the variance groups in effect; 0 when variances are pooled
	VarianceGroups int `json:"variance_groups"`
}

// Test returns the result with the given label
func (r *PermutationResult) Test(label string) (*TestResult, bool) {
	for i := range r.Tests {
		if r.Tests[i].Label == label {
			return &r.Tests[i], true
		}
	}
	return nil, false
}

// PermutationService runs permutation inference for every test of a request
type PermutationService struct {
	rngPort  ports.RNGPort
	logger   *slog.Logger
	analyzer *profiling.DistributionAnalyzer
	dists    *parametric.Distributions
}

// NewPermutationService creates a permutation service. A nil logger uses slog.Default.
func NewPermutationService(rngPort ports.RNGPort, logger *slog.Logger) *PermutationService {
	if rngPort == nil {
		rngPort = rng.NewStreamAdapter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PermutationService{
		rngPort:  rngPort,
		logger:   logger.With("component", "permutation_service"),
		analyzer: profiling.NewDistributionAnalyzer(),
		dists:    parametric.NewDistributions(),
	}
}

// plannedTest pairs a test label with its contrast rows and statistic
type plannedTest struct {
	label     string
	rows      []int
	contrast  *mat.Dense
	statistic ports.Statistic
}

// Run validates the request, then builds one null per test over a shared arrangement sequence
func (s *PermutationService) Run(ctx context.Context, req PermutationRequest) (*PermutationResult, error) {
	startTime := time.Now()
	opts := req.Options
	if opts.Permutations < 1 {
		return nil, errors.InvalidInput(fmt.Sprintf("permutations must be at least 1, got %d", opts.Permutations))
	}
	if opts.TailFraction == 0 {
		opts.TailFraction = tail.DefaultTailFraction
	}
	approx, err := tail.NewApproximator(opts.TailFraction)
	if err != nil {
		return nil, err
	}

	data, kept, err := applyMask(req.Data, req.Mask)
	if err != nil {
		return nil, err
	}
	design := req.Design
	if opts.Demean {
		if data, design, err = glm.Demean(data, req.Design, req.Contrast); err != nil {
			return nil, err
		}
	}
	n, _ := data.Dims()
	groups, err := s.varianceGroups(req, n)
	if err != nil {
		return nil, err
	}
	tests, err := s.planTests(req, data, design, groups)
	if err != nil {
		return nil, err
	}

	seed, err := s.rngPort.DeriveSeed(ctx, "permutations", "", opts.Seed)
	if err != nil {
		return nil, err
	}
	gen, err := exchange.NewGenerator(n, opts.Permutations, opts.Exchange, seed)
	if err != nil {
		return nil, errors.Wrap(err, "permutation scheme")
	}

	result := &PermutationResult{
		RunID:        core.NewRunID(),
		StartedAt:    core.Now(),
		Fingerprint:  core.MatrixFingerprint(req.Data, req.Design, req.Contrast),
		Seed:         opts.Seed,
		Method:       opts.Method.String(),
		Arrangements: gen.Len(),
		Exhaustive:   gen.Exhaustive(),
		Capped:       gen.Capped(),
		Ceiling:      gen.Ceiling().String(),
		Features:     len(kept),
	}
	if groups != nil {
		result.VarianceGroups = statistic.GroupCount(groups)
	}
	logger := s.logger.With("run_id", result.RunID.String())
	if gen.Capped() {
		logger.Warn("permutation space smaller than requested; using exhaustive enumeration",
			"requested", opts.Permutations, "ceiling", result.Ceiling, "arrangements", gen.Len())
	}
	logger.Info("permutation run started",
		"tests", len(tests), "samples", n, "features", len(kept), "arrangements", gen.Len(),
		"method", result.Method, "two_tailed", opts.TwoTailed, "accel_tail", opts.AccelTail,
		"variance_groups", result.VarianceGroups, "demean", opts.Demean)

	mode := nulldist.ModeMaxOnly
	if opts.KeepFullNull {
		mode = nulldist.ModeFull
	}
	corrOpts := correction.Options{AccelTail: opts.AccelTail, Tail: approx, Logger: logger}

	nulls := make([]*stats.Null, len(tests))
	for i, t := range tests {
		cfg := nulldist.Config{
			Method:    opts.Method,
			Mode:      mode,
			TwoTailed: opts.TwoTailed,
			Workers:   opts.Workers,
			Logger:    logger,
		}
		if opts.OnPermutation != nil {
			label := t.label
			cfg.OnPermutation = func(index int, arr exchange.Arrangement, values []float64) {
				opts.OnPermutation(label, index, arr, values)
			}
		}

		null, err := nulldist.NewAccumulator(t.statistic, cfg).Run(ctx, data, design, t.contrast, gen)
		if err != nil {
			return nil, errors.Wrapf(err, "test %s", t.label)
		}
		nulls[i] = null

		out, err := correction.Correct(null, corrOpts)
		if err != nil {
			return nil, errors.Wrapf(err, "test %s", t.label)
		}
		tr := TestResult{
			Label:         t.label,
			Statistic:     t.statistic.Name(),
			Kind:          t.statistic.Kind(),
			Rows:          t.rows,
			Observed:      null.Observed,
			Uncorrected:   out.Uncorrected,
			FDR:           out.FDR,
			FWE:           out.FWE,
			Untestable:    out.Untestable,
			MaxNull:       null.Max,
			Accelerated:   out.Accelerated,
			TailFallbacks: out.TailFallbacks,
			Null:          null,
		}
		if opts.ZStat {
			tr.Z = s.dists.ZMap(null.Observed)
		}
		if summary, err := s.analyzer.SummarizeNull(null.Max); err == nil {
			tr.NullSummary = summary
		} else {
			logger.Debug("max-statistic null has no finite values", "test", t.label)
		}
		result.Tests = append(result.Tests, tr)

		logger.Debug("test complete", "test", t.label, "statistic", tr.Statistic,
			"untestable", null.Observed.UntestableCount(), "significant_fwe", countBelow(tr.FWE, 0.05))
	}

	if opts.CorrectAcrossContrasts && len(tests) > 1 {
		if err := s.correctAcross(result, nulls, corrOpts); err != nil {
			return nil, err
		}
	}

	if req.Mask != nil {
		for i := range result.Tests {
			result.Tests[i].expand(kept, len(req.Mask))
		}
	}

	result.RuntimeMs = time.Since(startTime).Milliseconds()
	logger.Info("permutation run complete", "tests", len(result.Tests), "runtime_ms", result.RuntimeMs)
	return result, nil
}

// correctAcross applies FWE over the family of tests sharing a statistic kind; t and F
// maxima live on different scales and are never pooled
func (s *PermutationService) correctAcross(result *PermutationResult, nulls []*stats.Null, opts correction.Options) error {
	families := map[stats.Kind][]int{}
	for i, t := range result.Tests {
		families[t.Kind] = append(families[t.Kind], i)
	}
	for kind, members := range families {
		if len(members) < 2 {
			continue
		}
		family := make([]*stats.Null, len(members))
		for k, i := range members {
			family[k] = nulls[i]
		}
		combined, err := correction.CombineMax(family)
		if err != nil {
			return errors.Wrapf(err, "cross-contrast correction for %s tests", kind)
		}
		for _, i := range members {
			result.Tests[i].CrossFWE = correction.CrossContrastFWE(nulls[i], combined, opts)
			for j, u := range result.Tests[i].Untestable {
				if u {
					result.Tests[i].CrossFWE[j] = 1
				}
			}
		}
	}
	return nil
}

// varianceGroups returns the per-sample variance groups in effect, or nil when all
// samples share one variance
func (s *PermutationService) varianceGroups(req PermutationRequest, n int) ([]int, error) {
	groups := req.VarianceGroups
	switch {
	case groups != nil:
		if len(groups) != n {
			return nil, errors.ShapeMismatch("variance groups", "has %d labels but data has %d samples", len(groups), n)
		}
	case req.Options.VarianceGroupsAuto:
		derived, err := req.Options.Exchange.VarianceGroups(n)
		if err != nil {
			return nil, errors.Wrap(err, "variance groups")
		}
		groups = derived
	default:
		return nil, nil
	}
	if statistic.GroupCount(groups) < 2 {
		s.logger.Warn("variance groups requested but only one group found; variances stay pooled")
		return nil, nil
	}
	return groups, nil
}

// planTests validates every test before any permutation work starts
func (s *PermutationService) planTests(req PermutationRequest, data, design *mat.Dense, groups []int) ([]plannedTest, error) {
	if design == nil || req.Contrast == nil {
		return nil, errors.InvalidInput("data, design and contrast are all required")
	}
	if req.FStatistic != nil && req.FStatistic.Kind() != stats.KindF {
		return nil, errors.UnsupportedStatistic(req.FStatistic.Name(), "F-tests need a statistic of F kind")
	}
	q, _ := req.Contrast.Dims()
	if req.FGroups != nil && len(req.FGroups) != q {
		return nil, errors.ShapeMismatch("f-contrast groups", "has %d entries but the contrast has %d rows", len(req.FGroups), q)
	}
	if req.FOnly && !hasFGroup(req.FGroups) {
		return nil, errors.InvalidInput("F-only requested but no F-test rows were given")
	}

	var tests []plannedTest
	if !req.FOnly {
		for i := 0; i < q; i++ {
			tests = append(tests, plannedTest{label: fmt.Sprintf("c%d", i+1), rows: []int{i}, contrast: glm.ContrastRow(req.Contrast, i)})
		}
	}
	for k, rows := range fGroups(req.FGroups) {
		fstat := req.FStatistic
		switch {
		case fstat != nil:
		case groups != nil:
			fstat = statistic.NewG(groups)
		default:
			fstat = statistic.NewGLMF()
		}
		tests = append(tests, plannedTest{
			label:     fmt.Sprintf("f%d", k+1),
			rows:      rows,
			contrast:  glm.ContrastRows(req.Contrast, rows),
			statistic: fstat,
		})
	}

	for i := range tests {
		t := &tests[i]
		if err := glm.ValidateModel(data, design, t.contrast); err != nil {
			return nil, errors.Wrapf(err, "test %s", t.label)
		}
		if t.statistic == nil {
			t.statistic = req.Statistic
		}
		if t.statistic == nil {
			stat, err := statistic.ResolveGrouped(req.StatisticName, design, t.contrast, groups)
			if err != nil {
				return nil, err
			}
			t.statistic = stat
		}
		if t.statistic.Kind() == stats.KindT {
			if r, _ := t.contrast.Dims(); r != 1 {
				return nil, errors.UnsupportedStatistic(t.statistic.Name(), fmt.Sprintf("test %s has %d contrast rows", t.label, r))
			}
		}
	}
	return tests, nil
}

func hasFGroup(groups []int) bool {
	for _, g := range groups {
		if g > 0 {
			return true
		}
	}
	return false
}

// fGroups lists the contrast rows of each F-test, ordered by label
func fGroups(groups []int) [][]int {
	byLabel := map[int][]int{}
	for i, g := range groups {
		if g > 0 {
			byLabel[g] = append(byLabel[g], i)
		}
	}
	labels := make([]int, 0, len(byLabel))
	for g := range byLabel {
		labels = append(labels, g)
	}
	sort.Ints(labels)
	out := make([][]int, len(labels))
	for k, g := range labels {
		out[k] = byLabel[g]
	}
	return out
}

// applyMask keeps the masked-in feature columns; kept maps reduced columns to original ones
func applyMask(data *mat.Dense, mask []bool) (*mat.Dense, []int, error) {
	if data == nil {
		return nil, nil, errors.InvalidInput("data, design and contrast are all required")
	}
	n, m := data.Dims()
	if mask == nil {
		kept := make([]int, m)
		for j := range kept {
			kept[j] = j
		}
		return data, kept, nil
	}
	if len(mask) != m {
		return nil, nil, errors.ShapeMismatch("mask", "has %d entries but data has %d features", len(mask), m)
	}
	var kept []int
	for j, in := range mask {
		if in {
			kept = append(kept, j)
		}
	}
	if len(kept) == 0 {
		return nil, nil, errors.InvalidInput("mask excludes every feature")
	}
	reduced := mat.NewDense(n, len(kept), nil)
	for k, j := range kept {
		for i := 0; i < n; i++ {
			reduced.Set(i, k, data.At(i, j))
		}
	}
	return reduced, kept, nil
}

// expand scatters per-feature outputs back to the unmasked feature space
func (t *TestResult) expand(kept []int, m int) {
	scatter := func(values []float64, fill float64) []float64 {
		if values == nil {
			return nil
		}
		out := make([]float64, m)
		for j := range out {
			out[j] = fill
		}
		for k, j := range kept {
			out[j] = values[k]
		}
		return out
	}
	nan := math.NaN()
	t.Observed.Values = scatter(t.Observed.Values, nan)
	t.Observed.DF2 = scatter(t.Observed.DF2, nan)
	t.Z = scatter(t.Z, nan)
	t.Uncorrected = scatter(t.Uncorrected, 1)
	t.FDR = scatter(t.FDR, 1)
	t.FWE = scatter(t.FWE, 1)
	t.CrossFWE = scatter(t.CrossFWE, 1)

	untestable := make([]bool, m)
	for j := range untestable {
		untestable[j] = true
	}
	for k, j := range kept {
		untestable[j] = t.Untestable[k]
	}
	t.Untestable = untestable
}

func countBelow(p []float64, alpha float64) int {
	n := 0
	for _, v := range p {
		if v < alpha {
			n++
		}
	}
	return n
}

// PermutationAnalysis runs a single test and returns its uncorrected, FDR and FWE maps.
// A multi-row contrast is tested as one F-test, with stat used for it when given; a
// multi-row contrast cannot take a t-kind statistic. A nil statistic selects one
// automatically.
func PermutationAnalysis(ctx context.Context, data, design, contrast *mat.Dense, stat ports.Statistic, opts Options) (unc, fdr, fwe []float64, err error) {
	if contrast == nil {
		return nil, nil, nil, errors.InvalidInput("data, design and contrast are all required")
	}
	req := PermutationRequest{
		Data:      data,
		Design:    design,
		Contrast:  contrast,
		Statistic: stat,
		Options:   opts,
	}
	if q, _ := contrast.Dims(); q > 1 {
		if stat != nil {
			if stat.Kind() != stats.KindF {
				return nil, nil, nil, errors.UnsupportedStatistic(stat.Name(),
					fmt.Sprintf("a %d-row contrast is tested jointly and needs an F-kind statistic", q))
			}
			req.Statistic, req.FStatistic = nil, stat
		}
		req.FOnly = true
		req.FGroups = make([]int, q)
		for i := range req.FGroups {
			req.FGroups[i] = 1
		}
	}

	result, err := NewPermutationService(nil, nil).Run(ctx, req)
	if err != nil {
		return nil, nil, nil, err
	}
	t := result.Tests[0]
	return t.Uncorrected, t.FDR, t.FWE, nil
}
