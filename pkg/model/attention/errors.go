package attention

import "github.com/pkg/errors"

// Sentinel errors returned (wrapped) by the attention kernel and layers.
// Match them with errors.Is.
var (
	// ErrInvalidArgument reports a missing or unusable argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrShapeMismatch reports query, key and value shapes that do not agree.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrEmptySequence reports a zero-length sequence or feature axis. The kernel
	// requires sequence_length >= 1.
	ErrEmptySequence = errors.New("empty sequence")

	// ErrMaskShape reports a mask that does not broadcast to the score shape.
	ErrMaskShape = errors.New("mask shape not broadcast-compatible with scores")

	// ErrInvalidMask reports a mask holding NaN or +Inf.
	ErrInvalidMask = errors.New("invalid mask value")

	// ErrFullyMaskedRow reports a query position with no attendable key.
	ErrFullyMaskedRow = errors.New("fully masked attention row")

	// ErrNonFiniteScores reports a row of scaled scores holding NaN or +Inf,
	// from non-finite inputs or from Q·Kᵀ overflowing float32. Softmax of such
	// a row is undefined, so no weights are returned.
	ErrNonFiniteScores = errors.New("non-finite attention scores")
)
