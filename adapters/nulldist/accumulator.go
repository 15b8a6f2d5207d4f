// Package nulldist builds empirical null distributions by recomputing a statistic under
// every arrangement of a permutation scheme.
package nulldist

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"gopalm/domain/exchange"
	"gopalm/domain/glm"
	"gopalm/domain/stats"
	"gopalm/internal"
	"gopalm/internal/errors"
	"gopalm/ports"
)

// Mode selects how much of the null distribution is retained
type Mode int

const (
	// ModeMaxOnly keeps per-feature exceedance counts and the per-arrangement maximum
	ModeMaxOnly Mode = iota
	// ModeFull additionally keeps every permuted statistic map
	ModeFull
)

// PermutationHook observes each arrangement's statistic map. Calls are serialized but
// arrive in completion order, not index order.
type PermutationHook func(index int, arrangement exchange.Arrangement, values []float64)

// Config controls an Accumulator
type Config struct {
	Method        Method
	Mode          Mode
	TwoTailed     bool
	Workers       int // defaults to GOMAXPROCS
	OnPermutation PermutationHook
	Logger        *slog.Logger
}

// Accumulator drives a statistic over an arrangement sequence
type Accumulator struct {
	statistic ports.Statistic
	cfg       Config
	logger    *slog.Logger
}

// NewAccumulator creates an accumulator for one statistic
func NewAccumulator(statistic ports.Statistic, cfg Config) *Accumulator {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		statistic: statistic,
		cfg:       cfg,
		logger:    logger.With("component", "nulldist", "statistic", statistic.Name()),
	}
}

type job struct {
	index       int
	arrangement exchange.Arrangement
}

// Run computes the observed map and its null over every arrangement produced by gen.
// The generator is rewound first; its identity supplies index 0.
func (a *Accumulator) Run(ctx context.Context, data, design, contrast *mat.Dense, gen *exchange.Generator) (*stats.Null, error) {
	if err := glm.ValidateModel(data, design, contrast); err != nil {
		return nil, err
	}
	n, m := data.Dims()
	if gen.Samples() != n {
		return nil, errors.ShapeMismatch("permutation scheme", "relabels %d samples but data has %d", gen.Samples(), n)
	}

	res, err := newResampler(a.cfg.Method, data, design, contrast)
	if err != nil {
		return nil, err
	}

	observed, err := a.statistic.Compute(data, design, contrast)
	if err != nil {
		return nil, errors.Wrap(err, "observed statistic")
	}
	if observed.Len() != m {
		return nil, errors.Newf(errors.CodeInternalError, "%s returned %d values for %d features", a.statistic.Name(), observed.Len(), m)
	}

	total := gen.Len()
	null := &stats.Null{
		Observed:     observed,
		TwoTailed:    a.cfg.TwoTailed,
		Permutations: total,
		Exceedances:  make([]int, m),
		Max:          make([]float64, total),
	}
	if a.cfg.Mode == ModeFull {
		null.Full = mat.NewDense(total, m, nil)
	}

	// features untestable in the observed data stay out of the max and the counts, even
	// when a relabelling makes them vary
	untestable := observed.Untestable()
	threshold := make([]float64, m)
	for j, v := range observed.Values {
		threshold[j] = stats.Extremity(observed.Kind, v, a.cfg.TwoTailed)
	}

	gen.Reset()
	identity, ok := gen.Next()
	if !ok || !identity.IsIdentity() {
		return nil, errors.InternalError("permutation scheme must start with the identity")
	}

	var hookMu sync.Mutex
	record := func(k int, arr exchange.Arrangement, values []float64, counts []int) {
		null.Max[k] = stats.MaxExtremityExcluding(observed.Kind, values, a.cfg.TwoTailed, untestable)
		if null.Full != nil {
			null.Full.SetRow(k, values)
		}
		for j, v := range values {
			if untestable[j] {
				continue
			}
			if stats.AtLeast(stats.Extremity(observed.Kind, v, a.cfg.TwoTailed), threshold[j]) {
				counts[j]++
			}
		}
		if a.cfg.OnPermutation != nil {
			hookMu.Lock()
			a.cfg.OnPermutation(k, arr, values)
			hookMu.Unlock()
		}
	}
	record(0, identity, observed.Values, null.Exceedances)

	start := time.Now()
	a.logger.Debug("accumulating null distribution",
		"arrangements", total, "features", m, "workers", a.cfg.Workers, "method", a.cfg.Method.String())

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, a.cfg.Workers*2)

	// the generator is not concurrency safe, so a single producer feeds the workers
	g.Go(func() error {
		defer close(jobs)
		for k := 1; k < total; k++ {
			arr, ok := gen.Next()
			if !ok {
				return errors.Newf(errors.CodeInternalError, "permutation scheme ended at %d of %d", k, total)
			}
			select {
			case jobs <- job{index: k, arrangement: arr}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var mergeMu sync.Mutex
	for w := 0; w < a.cfg.Workers; w++ {
		g.Go(func() error {
			counts := make([]int, m)
			buf := res.newBuffers()
			for jb := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				pd, px := res.apply(jb.arrangement, buf)
				permuted, err := a.statistic.Compute(pd, px, contrast)
				if err != nil {
					return errors.Wrapf(err, "arrangement %d", jb.index)
				}
				record(jb.index, jb.arrangement, permuted.Values, counts)
				a.logger.Log(gctx, internal.LevelTrace, "arrangement evaluated",
					"index", jb.index, "max", null.Max[jb.index])
			}

			mergeMu.Lock()
			for j, c := range counts {
				null.Exceedances[j] += c
			}
			mergeMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.logger.Debug("null distribution complete",
		"arrangements", total, "elapsed", time.Since(start).String())
	return null, nil
}
