package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopalm/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Permutation PermutationConfig
	Tail        TailConfig
	Output      OutputConfig
	Logging     LoggingConfig
}

// PermutationConfig holds the resampling settings
type PermutationConfig struct {
	Count     int    // non-identity arrangements to draw
	Seed      int64  // base seed; identical seeds reproduce identical runs
	Workers   int    // concurrent arrangement workers
	Method    string // draper-stoneman or freedman-lane
	TwoTailed bool
}

// TailConfig holds the tail-approximation settings
type TailConfig struct {
	Accel    bool
	Fraction float64
}

// OutputConfig holds result file settings
type OutputConfig struct {
	Format     string // csv, xlsx or npy
	PTransform string // p, 1-p or logp
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level   string
	NoColor bool
}

// Output formats and p-value transforms
const (
	FormatCSV  = "csv"
	FormatNPY  = "npy"
	FormatXLSX = "xlsx"

	TransformP        = "p"
	TransformOneMinus = "1-p"
	TransformLog      = "logp"
)

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Permutation: PermutationConfig{
			Count:     getEnvIntOrDefault("PALM_PERMUTATIONS", 1000),
			Seed:      getEnvInt64OrDefault("PALM_SEED", 42),
			Workers:   getEnvIntOrDefault("PALM_WORKERS", runtime.NumCPU()),
			Method:    getEnvOrDefault("PALM_METHOD", "draper-stoneman"),
			TwoTailed: getEnvBoolOrDefault("PALM_TWO_TAILED", false),
		},
		Tail: TailConfig{
			Accel:    getEnvBoolOrDefault("PALM_ACCEL_TAIL", false),
			Fraction: getEnvFloatOrDefault("PALM_TAIL_FRACTION", 0.25),
		},
		Output: OutputConfig{
			Format:     strings.ToLower(getEnvOrDefault("PALM_OUTPUT_FORMAT", FormatCSV)),
			PTransform: strings.ToLower(getEnvOrDefault("PALM_P_TRANSFORM", TransformP)),
		},
		Logging: LoggingConfig{
			Level:   getEnvOrDefault("PALM_LOG_LEVEL", "INFO"),
			NoColor: getEnvBoolOrDefault("NO_COLOR", false),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Permutation.Count < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("permutation count must be at least 1, got %d", c.Permutation.Count))
	}
	if c.Permutation.Workers < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("workers must be at least 1, got %d", c.Permutation.Workers))
	}
	if !(c.Tail.Fraction > 0 && c.Tail.Fraction < 1) {
		return errors.ConfigInvalid(fmt.Sprintf("tail fraction must lie strictly between 0 and 1, got %v", c.Tail.Fraction))
	}
	switch c.Output.Format {
	case FormatCSV, FormatNPY, FormatXLSX:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("output format must be csv, xlsx or npy, got %q", c.Output.Format))
	}
	switch c.Output.PTransform {
	case TransformP, TransformOneMinus, TransformLog:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("p transform must be p, 1-p or logp, got %q", c.Output.PTransform))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
