package crypto

import (
	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	pedersenhash "github.com/consensys/gnark-crypto/ecc/stark-curve/pedersen-hash"

	"github.com/quarrylabs/quarry/felt"
)

// Pedersen computes the two-element Pedersen hash H(a, b) over the stark
// curve. Every commitment in the trie flows through here; it must match the
// external commitment scheme bit for bit, since roots are checked against
// values posted on the anchoring chain.
func Pedersen(a, b *felt.Felt) felt.Felt {
	return felt.FromElement(pedersenhash.Pedersen(a.Impl(), b.Impl()))
}

// PedersenArray computes the chained Pedersen hash of a sequence with the
// element count folded in as the final step.
func PedersenArray(elems ...*felt.Felt) felt.Felt {
	impls := make([]*fp.Element, len(elems))
	for i, e := range elems {
		impls[i] = e.Impl()
	}
	return felt.FromElement(pedersenhash.PedersenArray(impls...))
}
