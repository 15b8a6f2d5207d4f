package ports

import "context"

// RNGPort derives the seeds that make permutation runs reproducible
type RNGPort interface {
	// DeriveSeed maps a base seed plus a stage/key pair to an independent seed.
	// Identical inputs always return identical seeds
	DeriveSeed(ctx context.Context, stageName, key string, baseSeed int64) (int64, error)
}
