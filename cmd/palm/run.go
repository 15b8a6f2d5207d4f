package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"gopalm/adapters/matrixio"
	"gopalm/adapters/nulldist"
	"gopalm/app"
	"gopalm/domain/exchange"
	"gopalm/internal/config"
	"gopalm/internal/container"
	"gopalm/internal/errors"
)

// runFlags holds the command line of palm run
type runFlags struct {
	input     string
	design    string
	contrast  string
	fcontrast string
	mask      string
	output    string
	format    string
	statistic string
	report    string
	logLevel  string

	permutations int
	seed         int64
	workers      int
	method       string

	eb     string
	within bool
	whole  bool
	ise    bool
	ee     bool

	vg     string
	vgAuto bool
	demean bool

	accel        string
	tailFraction float64

	twoTailed bool
	fOnly     bool
	corrCon   bool
	zStat     bool
	savePerms bool
	save1MinP bool
	logP      bool
}

func newRunCmd(cfg *config.Config) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run permutation inference on a data matrix",
		Long: `Run permutation inference for every contrast of a design on a samples × features matrix.

Example: palm run -i data.csv -d design.csv -t contrast.csv -n 5000 --eb blocks.csv --within -o out/palm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPermutation(cmd, cfg, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "Data matrix (samples × features): .csv, .txt, .xlsx or .npy")
	fl.StringVarP(&f.design, "design", "d", "", "Design matrix (samples × predictors)")
	fl.StringVarP(&f.contrast, "contrast", "t", "", "Contrast matrix (contrasts × predictors)")
	fl.StringVar(&f.fcontrast, "fcontrast", "", "F-test groups: one label per contrast row, 0 for none")
	fl.StringVarP(&f.mask, "mask", "m", "", "Feature mask vector (0/1)")
	fl.StringVarP(&f.output, "output", "o", "palm", "Output prefix")
	fl.StringVar(&f.format, "format", cfg.Output.Format, "Output format: csv, xlsx or npy")
	fl.StringVar(&f.statistic, "stat", "auto", "Statistic for t contrasts: auto, t, welch or v")
	fl.StringVar(&f.report, "report", "", "Write a run report (.md or .html)")
	fl.StringVar(&f.logLevel, "log-level", cfg.Logging.Level, "Log level: ERROR, WARN, INFO, DEBUG or TRACE")

	fl.IntVarP(&f.permutations, "permutations", "n", cfg.Permutation.Count, "Number of permutations")
	fl.Int64Var(&f.seed, "seed", cfg.Permutation.Seed, "Random seed")
	fl.IntVar(&f.workers, "workers", cfg.Permutation.Workers, "Concurrent permutation workers")
	fl.StringVar(&f.method, "method", cfg.Permutation.Method, "Resampling method: draper-stoneman or freedman-lane")

	fl.StringVar(&f.eb, "eb", "", "Exchangeability block labels, one per sample")
	fl.BoolVar(&f.within, "within", false, "Permute within blocks")
	fl.BoolVar(&f.whole, "whole", false, "Permute blocks as a whole")
	fl.BoolVar(&f.ise, "ise", false, "Assume independent and symmetric errors (sign flipping)")
	fl.BoolVar(&f.ee, "ee", false, "Assume exchangeable errors (permutations); default unless --ise alone")

	fl.StringVar(&f.vg, "vg", "", "Variance group labels, one per sample")
	fl.BoolVar(&f.vgAuto, "vg-auto", false, "Derive variance groups from the exchangeability blocks")
	fl.BoolVar(&f.demean, "demean", false, "Center the data and the non-constant design columns")

	fl.StringVar(&f.accel, "accel", accelDefault(cfg), "Acceleration: tail, or empty for none")
	fl.Float64Var(&f.tailFraction, "tail-fraction", cfg.Tail.Fraction, "Upper share of the null used for tail fitting")

	fl.BoolVar(&f.twoTailed, "two-tailed", cfg.Permutation.TwoTailed, "Two-tailed t tests")
	fl.BoolVar(&f.fOnly, "fonly", false, "Run only the F-tests")
	fl.BoolVar(&f.corrCon, "corrcon", false, "Also correct FWE across contrasts")
	fl.BoolVar(&f.zStat, "zstat", false, "Also save z statistics")
	fl.BoolVar(&f.savePerms, "saveperms", false, "Save every permuted statistic map")
	fl.BoolVar(&f.save1MinP, "save1-p", cfg.Output.PTransform == config.TransformOneMinus, "Save 1-p instead of p")
	fl.BoolVar(&f.logP, "logp", cfg.Output.PTransform == config.TransformLog, "Save -log10(p) instead of p")

	for _, name := range []string{"input", "design", "contrast"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func accelDefault(cfg *config.Config) string {
	if cfg.Tail.Accel {
		return "tail"
	}
	return ""
}

func runPermutation(cmd *cobra.Command, cfg *config.Config, f *runFlags) error {
	c, err := container.New(cfg, cmd.ErrOrStderr(), f.logLevel)
	if err != nil {
		return err
	}
	logger := c.Logger

	req, err := f.request(logger)
	if err != nil {
		return err
	}

	transform := matrixio.TransformP
	switch {
	case f.save1MinP && f.logP:
		return errors.ConfigInvalid("--save1-p and --logp are mutually exclusive")
	case f.save1MinP:
		transform = matrixio.TransformOneMinus
	case f.logP:
		transform = matrixio.TransformLog
	}
	writer, err := matrixio.NewMatrixWriter(f.output, strings.ToLower(f.format), transform, logger)
	if err != nil {
		return err
	}

	result, err := c.PermutationService.Run(cmd.Context(), req)
	if err != nil {
		return err
	}

	written, err := writeResults(writer, result, f.savePerms)
	if err != nil {
		return err
	}
	if f.report != "" {
		if err := c.Reports.Write(f.report, result); err != nil {
			return err
		}
		written = append(written, f.report)
	}

	logger.Info("results written", "run_id", result.RunID.String(), "files", len(written), "prefix", f.output)
	return nil
}

// request loads the input files and maps flags onto a permutation request
func (f *runFlags) request(logger *slog.Logger) (app.PermutationRequest, error) {
	var req app.PermutationRequest

	method, err := nulldist.ParseMethod(f.method)
	if err != nil {
		return req, err
	}
	accel := false
	switch strings.ToLower(strings.TrimSpace(f.accel)) {
	case "", "none":
	case "tail":
		accel = true
	default:
		return req, errors.ConfigInvalid(fmt.Sprintf("--accel %q: only tail is supported", f.accel))
	}

	load := func(path string) (*mat.Dense, error) {
		r, err := matrixio.NewMatrixReader(path, logger)
		if err != nil {
			return nil, err
		}
		return r.ReadMatrix()
	}
	if req.Data, err = load(f.input); err != nil {
		return req, err
	}
	if req.Design, err = load(f.design); err != nil {
		return req, err
	}
	if req.Contrast, err = load(f.contrast); err != nil {
		return req, err
	}

	if f.fcontrast != "" {
		r, err := matrixio.NewMatrixReader(f.fcontrast, logger)
		if err != nil {
			return req, err
		}
		if req.FGroups, err = r.ReadLabels(); err != nil {
			return req, err
		}
	}
	if f.mask != "" {
		r, err := matrixio.NewMatrixReader(f.mask, logger)
		if err != nil {
			return req, err
		}
		if req.Mask, err = r.ReadMask(); err != nil {
			return req, err
		}
	}

	structure := exchange.Structure{
		Within:    f.within,
		Whole:     f.whole,
		Permute:   f.ee || !f.ise,
		FlipSigns: f.ise,
	}
	if f.eb != "" {
		r, err := matrixio.NewMatrixReader(f.eb, logger)
		if err != nil {
			return req, err
		}
		if structure.Labels, err = r.ReadLabels(); err != nil {
			return req, err
		}
	}

	if f.vg != "" {
		if f.vgAuto {
			return req, errors.ConfigInvalid("--vg and --vg-auto are mutually exclusive")
		}
		r, err := matrixio.NewMatrixReader(f.vg, logger)
		if err != nil {
			return req, err
		}
		if req.VarianceGroups, err = r.ReadLabels(); err != nil {
			return req, err
		}
	}

	req.FOnly = f.fOnly
	req.StatisticName = f.statistic
	req.Options = app.Options{
		Permutations:           f.permutations,
		Seed:                   f.seed,
		TwoTailed:              f.twoTailed,
		Exchange:               structure,
		Method:                 method,
		AccelTail:              accel,
		TailFraction:           f.tailFraction,
		KeepFullNull:           f.savePerms || accel,
		CorrectAcrossContrasts: f.corrCon,
		ZStat:                  f.zStat,
		Workers:                f.workers,
		Demean:                 f.demean,
		VarianceGroupsAuto:     f.vgAuto,
	}
	return req, nil
}

// writeResults saves every map of every test and returns the paths written
func writeResults(w *matrixio.MatrixWriter, result *app.PermutationResult, savePerms bool) ([]string, error) {
	var written []string
	save := func(path string, err error) error {
		if err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	for _, t := range result.Tests {
		base := fmt.Sprintf("%s_%s", t.Statistic, t.Label)
		if err := save(w.WriteMap(base, t.Observed.Values)); err != nil {
			return written, err
		}
		if err := save(w.WritePMap(base+"_uncp", t.Uncorrected)); err != nil {
			return written, err
		}
		if err := save(w.WritePMap(base+"_fdrp", t.FDR)); err != nil {
			return written, err
		}
		if err := save(w.WritePMap(base+"_fwep", t.FWE)); err != nil {
			return written, err
		}
		if t.CrossFWE != nil {
			if err := save(w.WritePMap(base+"_cfwep", t.CrossFWE)); err != nil {
				return written, err
			}
		}
		if t.Z != nil {
			if err := save(w.WriteMap("z_"+t.Label, t.Z)); err != nil {
				return written, err
			}
		}
		if savePerms && t.Null.HasFull() {
			if err := save(w.WriteMatrix(base+"_perms", t.Null.Full)); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}
