package container

import (
	"fmt"
	"io"
	"log/slog"

	"gopalm/adapters/rng"
	"gopalm/app"
	"gopalm/internal"
	"gopalm/internal/config"
	"gopalm/internal/report"
	"gopalm/ports"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	RNG                ports.RNGPort
	PermutationService *app.PermutationService
	Reports            *report.Builder
}

// New creates a new dependency injection container. Logs go to logs at level when
// level is non-empty, otherwise at the configured level.
func New(cfg *config.Config, logs io.Writer, level string) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if level == "" {
		level = cfg.Logging.Level
	}

	c := &Container{
		Config: cfg,
		Logger: internal.NewLogger(logs, level, cfg.Logging.NoColor),
		RNG:    rng.NewStreamAdapter(),
	}
	c.PermutationService = app.NewPermutationService(c.RNG, c.Logger)
	c.Reports = report.NewBuilder(report.DefaultAlpha)

	c.Logger.Debug("container initialized",
		"permutations", cfg.Permutation.Count, "workers", cfg.Permutation.Workers, "output_format", cfg.Output.Format)
	return c, nil
}
