package types

import (
	"errors"
	"fmt"
)

// MaxBlockHeight is the maximum allowed block height.
const MaxBlockHeight = 1<<62 - 1

// Validation errors.
var (
	// ErrInvalidHeight is returned when a block height is invalid.
	ErrInvalidHeight = errors.New("invalid block height")

	// ErrInvalidHeader is returned when a header is structurally invalid.
	ErrInvalidHeader = errors.New("invalid block header")
)

// ValidateHeight validates a block height.
// Returns an error if the height is negative or exceeds MaxBlockHeight.
func ValidateHeight(height int64) error {
	if height < 0 {
		return fmt.Errorf("%w: height cannot be negative: %d", ErrInvalidHeight, height)
	}
	if height > MaxBlockHeight {
		return fmt.Errorf("%w: height exceeds maximum: %d > %d", ErrInvalidHeight, height, MaxBlockHeight)
	}
	return nil
}

// ValidateHeader checks the structural rules a stored header must satisfy:
// a valid height, a non-zero hash, and a predecessor on every block but the
// one at height zero.
func ValidateHeader(h *BlockHeader) error {
	if h == nil {
		return fmt.Errorf("%w: nil header", ErrInvalidHeader)
	}
	if err := ValidateHeight(h.Index); err != nil {
		return err
	}
	if h.Hash.IsZero() {
		return fmt.Errorf("%w: zero hash", ErrInvalidHeader)
	}
	if h.Index == 0 && h.PreviousHash != nil {
		return fmt.Errorf("%w: genesis must not reference a predecessor", ErrInvalidHeader)
	}
	if h.Index > 0 && h.PreviousHash == nil {
		return fmt.Errorf("%w: block %d has no predecessor", ErrInvalidHeader, h.Index)
	}
	if h.PreviousHash != nil && *h.PreviousHash == h.Hash {
		return fmt.Errorf("%w: block references itself", ErrInvalidHeader)
	}
	return nil
}

// ValidateLimit validates a caller-supplied walk limit against an optional maximum.
// A maximum of zero disables the upper bound.
func ValidateLimit(limit, max int) error {
	if limit < 0 {
		return InvalidArgument("limit must be non-negative, got %d", limit)
	}
	if max > 0 && limit > max {
		return InvalidArgument("limit %d exceeds maximum %d", limit, max)
	}
	return nil
}
