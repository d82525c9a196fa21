package types

import (
	"errors"
	"fmt"
)

// Access errors.
var (
	// ErrUnauthenticated is returned when a request lacks the shared-secret credential
	// or presents a wrong one. The whole request is rejected.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized is returned when a credential lacks the role claim
	// required by a privileged field.
	ErrUnauthorized = errors.New("unauthorized")
)

// Query errors.
var (
	// ErrInvalidArgument is returned when a caller-supplied argument violates a constraint.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrChainUnavailable is returned when the chain store has no tip or genesis yet.
	ErrChainUnavailable = errors.New("chain unavailable")
)

// Store errors.
var (
	// ErrBlockNotFound is returned when a block cannot be found.
	ErrBlockNotFound = errors.New("block not found")

	// ErrBlockAlreadyExists is returned when attempting to store a block that already exists.
	ErrBlockAlreadyExists = errors.New("block already exists")

	// ErrGenesisExists is returned when a second block without predecessor is stored.
	ErrGenesisExists = errors.New("genesis block already exists")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// InvalidArgument wraps ErrInvalidArgument with a description of the violated constraint.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ChainIntegrityError signals that a block references a predecessor the store
// cannot resolve, or one whose height does not precede it. It indicates store
// corruption and is never retried.
type ChainIntegrityError struct {
	// Block is the hash of the block whose link is broken.
	Block Hash

	// Height is the height of that block.
	Height int64

	// Missing is the predecessor hash that failed to resolve.
	Missing Hash

	// Cause is the underlying store error, if any.
	Cause error
}

func (e *ChainIntegrityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chain integrity: block %s at height %d: predecessor %s: %v",
			e.Block, e.Height, e.Missing, e.Cause)
	}
	return fmt.Sprintf("chain integrity: block %s at height %d: predecessor %s is not at height %d",
		e.Block, e.Height, e.Missing, e.Height-1)
}

func (e *ChainIntegrityError) Unwrap() error {
	return e.Cause
}

// IsChainIntegrity checks whether an error is a ChainIntegrityError and returns it.
func IsChainIntegrity(err error) (*ChainIntegrityError, bool) {
	var ce *ChainIntegrityError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
