package statedb

import (
	"fmt"

	"github.com/quarrylabs/quarry/crypto"
	"github.com/quarrylabs/quarry/felt"
	"github.com/quarrylabs/quarry/storage"
	"github.com/quarrylabs/quarry/trie"
)

// StorageProof proves the value of one contract storage slot against a
// committed global root. The global chain proves the contract's state hash
// under its address; the disclosed state fields re-derive that hash and
// bind the storage chain's root; the storage chain proves the slot value.
type StorageProof struct {
	GlobalRoot      felt.Felt        `json:"global_root"`
	ContractAddress felt.Felt        `json:"contract_address"`
	Key             felt.Felt        `json:"key"`
	ClassHash       felt.Felt        `json:"class_hash"`
	StorageRoot     felt.Felt        `json:"storage_root"`
	Nonce           felt.Felt        `json:"nonce"`
	GlobalProof     []trie.ProofNode `json:"global_proof"`
	StorageProof    []trie.ProofNode `json:"storage_proof"`
}

// ProofAt builds a storage proof for one slot as of height. For a contract
// absent at that height the global chain alone proves absence and the
// storage chain is empty.
func (s *StateDB) ProofAt(height uint64, addr, key *felt.Felt) (*StorageProof, error) {
	root, err := s.versions.RootAt(height)
	if err != nil {
		return nil, err
	}
	proof := &StorageProof{
		GlobalRoot:      root,
		ContractAddress: *addr,
		Key:             *key,
	}

	globalReader := s.nodes.Reader(storage.GlobalTrie)
	proof.GlobalProof, err = trie.Prove(globalReader, root, addr)
	if err != nil {
		return nil, err
	}
	stateHash, ok, err := trie.VerifyProof(root, addr, proof.GlobalProof)
	if err != nil {
		return nil, err
	}
	if !ok {
		return proof, nil
	}

	state, err := s.contracts.Get(&stateHash)
	if err != nil {
		return nil, err
	}
	proof.ClassHash = state.ClassHash
	proof.StorageRoot = state.StorageRoot
	proof.Nonce = state.Nonce

	proof.StorageProof, err = trie.Prove(s.nodes.Reader(storage.StorageTrie), state.StorageRoot, key)
	if err != nil {
		return nil, err
	}
	return proof, nil
}

// VerifyStorageProof checks a proof against a trusted global root and
// returns the proven slot value. Absent contracts and unset slots both
// prove the zero value. The function is pure: it needs no store access.
func VerifyStorageProof(root felt.Felt, proof *StorageProof) (felt.Felt, error) {
	if !root.Equal(&proof.GlobalRoot) {
		return felt.Zero, fmt.Errorf("proof bound to root %s, want %s", proof.GlobalRoot, root)
	}
	stateHash, ok, err := trie.VerifyProof(root, &proof.ContractAddress, proof.GlobalProof)
	if err != nil {
		return felt.Zero, fmt.Errorf("global chain: %w", err)
	}
	if !ok {
		if len(proof.StorageProof) != 0 {
			return felt.Zero, fmt.Errorf("storage chain present for absent contract")
		}
		return felt.Zero, nil
	}

	derived := crypto.ContractStateHash(&proof.ClassHash, &proof.StorageRoot, &proof.Nonce)
	if !derived.Equal(&stateHash) {
		return felt.Zero, fmt.Errorf("contract state fields do not hash to proven leaf %s", stateHash)
	}

	value, ok, err := trie.VerifyProof(proof.StorageRoot, &proof.Key, proof.StorageProof)
	if err != nil {
		return felt.Zero, fmt.Errorf("storage chain: %w", err)
	}
	if !ok {
		return felt.Zero, nil
	}
	return value, nil
}
