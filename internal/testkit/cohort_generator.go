package testkit

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// CohortConfig configures the synthetic group-study generator
type CohortConfig struct {
	SubjectsPerGroup int     `json:"subjects_per_group"`
	Features         int     `json:"features"`
	EffectFeatures   int     `json:"effect_features"` // the first EffectFeatures features carry the group effect
	EffectSize       float64 `json:"effect_size"`     // in noise standard deviations
	Blocks           int     `json:"blocks"`          // exchangeability blocks; 0 for none
	BlockShift       float64 `json:"block_shift"`     // additive offset per block index
	Seed             int64   `json:"seed"`
}

// DefaultCohortConfig returns a 20-subject, 100-feature study with no true effects
func DefaultCohortConfig() CohortConfig {
	return CohortConfig{
		SubjectsPerGroup: 10,
		Features:         100,
		EffectFeatures:   0,
		EffectSize:       0,
		Seed:             42,
	}
}

// Cohort is one generated study
type Cohort struct {
	Data     *mat.Dense
	Design   *mat.Dense
	Contrast *mat.Dense
	Labels   []int // nil unless Blocks > 0
}

// CohortGenerator draws two-group studies with controllable effects
type CohortGenerator struct {
	config CohortConfig
	rng    *rand.Rand
}

// NewCohortGenerator creates a new cohort generator
func NewCohortGenerator(config CohortConfig) *CohortGenerator {
	return &CohortGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate draws a cohort. With blocks, subjects are dealt round-robin so every
// block holds members of both groups.
func (g *CohortGenerator) Generate() (*Cohort, error) {
	c := g.config
	if c.SubjectsPerGroup < 2 || c.Features < 1 {
		return nil, fmt.Errorf("cohort needs at least 2 subjects per group and 1 feature")
	}
	if c.EffectFeatures > c.Features {
		return nil, fmt.Errorf("effect features %d exceed features %d", c.EffectFeatures, c.Features)
	}

	n := 2 * c.SubjectsPerGroup
	design := TwoGroupDesign(c.SubjectsPerGroup)
	data := NormalData(g.rng, n, c.Features)

	for i := 0; i < n; i++ {
		row := data.RawRowView(i)
		if design.At(i, 1) == 1 {
			for j := 0; j < c.EffectFeatures; j++ {
				row[j] += c.EffectSize
			}
		}
	}

	var labels []int
	if c.Blocks > 0 {
		labels = make([]int, n)
		for i := range labels {
			labels[i] = i % c.Blocks
			row := data.RawRowView(i)
			for j := range row {
				row[j] += c.BlockShift * float64(labels[i])
			}
		}
	}

	return &Cohort{
		Data:     data,
		Design:   design,
		Contrast: Contrast(0, 1),
		Labels:   labels,
	}, nil
}
