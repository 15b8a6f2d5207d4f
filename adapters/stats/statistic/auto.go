package statistic

import (
	"strings"

	"gonum.org/v1/gonum/mat"

	"gopalm/domain/glm"
	"gopalm/internal/errors"
	"gopalm/ports"
)

// Auto picks the statistic for a contrast: F for multi-row contrasts, Welch when the
// contrast splits the samples into two groups with no covariates beyond an intercept,
// and the GLM t otherwise
func Auto(design, contrast *mat.Dense) ports.Statistic {
	if q, _ := contrast.Dims(); q > 1 {
		return NewGLMF()
	}
	if _, err := welchGroups(design, contrast); err != nil {
		return NewGLMT()
	}
	for _, j := range glm.NuisanceColumns(contrast) {
		if !constantColumn(design, j) {
			return NewGLMT()
		}
	}
	return NewWelchT()
}

// Resolve maps a statistic name to an implementation. "auto" or an empty name defers to Auto.
func Resolve(name string, design, contrast *mat.Dense) (ports.Statistic, error) {
	return ResolveGrouped(name, design, contrast, nil)
}

// ResolveGrouped is Resolve with per-sample variance groups. With two or more groups,
// "auto" selects Aspin-Welch v for a single contrast row and G otherwise.
func ResolveGrouped(name string, design, contrast *mat.Dense, groups []int) (ports.Statistic, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	grouped := GroupCount(groups) > 1
	switch key {
	case "", "auto":
		if !grouped {
			return Auto(design, contrast), nil
		}
		if q, _ := contrast.Dims(); q > 1 {
			return NewG(groups), nil
		}
		return NewAspinWelchV(groups), nil
	case "t", "glm_t":
		return NewGLMT(), nil
	case "f", "glm_f":
		return NewGLMF(), nil
	case "welch", "welch_t":
		return NewWelchT(), nil
	case "v", "aspin_welch_v", "g":
		if !grouped {
			return nil, errors.UnsupportedStatistic(name, "requires at least two variance groups")
		}
		if key == "g" {
			return NewG(groups), nil
		}
		return NewAspinWelchV(groups), nil
	default:
		return nil, errors.UnsupportedStatistic(name, "unknown statistic; expected auto, t, f, welch, v or g")
	}
}

func constantColumn(m *mat.Dense, j int) bool {
	n, _ := m.Dims()
	first := m.At(0, j)
	for i := 1; i < n; i++ {
		if m.At(i, j) != first {
			return false
		}
	}
	return true
}
