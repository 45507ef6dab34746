// Package model holds the configuration and the building blocks shared by the
// attention layers: linear projections and weight initialisation.
package model

import "github.com/pkg/errors"

// ErrInvalidConfig is wrapped by every error returned from Config.Validate.
var ErrInvalidConfig = errors.New("invalid attention config")

// Config holds the hyperparameters of a multi-head self-attention layer.
type Config struct {
	// EmbeddingDim is the model dimension d_model of the input embeddings (512 in the walkthrough).
	EmbeddingDim int

	// NumHeads is the number of attention heads (8 in the walkthrough).
	NumHeads int

	// Causal applies the lower-triangular mask when the caller passes no mask.
	Causal bool

	// QKVBias determines if the fused Q/K/V projection uses a bias.
	QKVBias bool

	// Parallelism bounds the number of (batch, head) slices computed concurrently.
	// 0 or 1 computes them sequentially.
	Parallelism int
}

// DefaultConfig returns the configuration used by the multi-head walkthrough:
// d_model=512 split across 8 heads of 64 dimensions.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim: 512,
		NumHeads:     8,
		Causal:       true,
		QKVBias:      true,
	}
}

// Validate checks if the configuration is valid and consistent.
func (c Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.NumHeads <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "num_heads must be positive, got %d", c.NumHeads)
	}
	if c.EmbeddingDim%c.NumHeads != 0 {
		return errors.Wrapf(ErrInvalidConfig, "embedding_dim (%d) must be divisible by num_heads (%d)",
			c.EmbeddingDim, c.NumHeads)
	}
	if c.Parallelism < 0 {
		return errors.Wrapf(ErrInvalidConfig, "parallelism must not be negative, got %d", c.Parallelism)
	}
	return nil
}

// HeadDimension returns the dimension per attention head.
func (c Config) HeadDimension() int {
	return c.EmbeddingDim / c.NumHeads
}
