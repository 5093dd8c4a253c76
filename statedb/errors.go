package statedb

import (
	"errors"
	"fmt"

	"github.com/quarrylabs/quarry/felt"
)

// ErrOutOfOrder is returned when a block diff does not extend the current
// head. The caller decides whether to buffer, re-fetch, or fail.
var ErrOutOfOrder = errors.New("statedb: block out of order")

// DivergenceError reports a computed global root that contradicts the root
// the block producer declared. Nothing is persisted when this happens; the
// node must stop following rather than commit state it cannot prove.
type DivergenceError struct {
	Height   uint64
	Computed felt.Felt
	Expected felt.Felt
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("state divergence at height %d: computed root %s, expected %s",
		e.Height, e.Computed, e.Expected)
}
