package crypto

import "github.com/quarrylabs/quarry/felt"

// contractStateHashVersion is folded into every contract state hash. Zero in
// the current commitment scheme.
var contractStateHashVersion = felt.Zero

// ContractStateHash folds a contract's class hash, storage root and nonce
// into the leaf value committed under the contract's address in the global
// trie:
//
//	H(H(H(class_hash, storage_root), nonce), version)
func ContractStateHash(classHash, storageRoot, nonce *felt.Felt) felt.Felt {
	h := Pedersen(classHash, storageRoot)
	h = Pedersen(&h, nonce)
	return Pedersen(&h, &contractStateHashVersion)
}
