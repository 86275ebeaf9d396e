package cursor

import (
	"errors"
	"fmt"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
)

// ErrAncestorNotFound is returned when no tracked block matches the canonical chain.
// The fork is deeper than the reorg window and the indexer cannot recover on its own.
var ErrAncestorNotFound = errors.New("common ancestor not found within reorg window")

// ErrNotLoaded is returned when the tracker is used before Load.
var ErrNotLoaded = errors.New("cursor tracker not loaded")

// ContinuityError describes a block that does not extend the committed chain.
type ContinuityError struct {
	Block    uint64
	Expected starknet.Felt
	Got      starknet.Felt
	Details  string
}

func (e *ContinuityError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("chain discontinuity at block %d: %s", e.Block, e.Details)
	}
	return fmt.Sprintf("chain discontinuity at block %d: expected parent %s, got %s",
		e.Block, e.Expected.Hex(), e.Got.Hex())
}

// NewContinuityError creates a new ContinuityError with free-form details.
func NewContinuityError(block uint64, details string) error {
	return &ContinuityError{Block: block, Details: details}
}
