package storage

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/quarrylabs/quarry/felt"
)

// ContractState is the per-contract record behind a global trie leaf. Rows
// are keyed by the contract state hash, so like trie nodes they are content
// addressed and shared across versions.
type ContractState struct {
	ClassHash   felt.Felt `json:"class_hash"`
	StorageRoot felt.Felt `json:"storage_root"`
	Nonce       felt.Felt `json:"nonce"`
}

// ContractStateTable maps contract state hashes to their component fields,
// letting readers recover a contract's storage root and nonce from its
// global trie leaf.
type ContractStateTable struct {
	store *PersistenceStore
}

func NewContractStateTable(store *PersistenceStore) *ContractStateTable {
	return &ContractStateTable{store: store}
}

func contractStateKey(stateHash *felt.Felt) []byte {
	hb := stateHash.Bytes()
	return prefixed(prefixContractState, hb[:])
}

func (ct *ContractStateTable) Stage(batch *leveldb.Batch, stateHash *felt.Felt, state *ContractState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal contract state %s: %w", stateHash, err)
	}
	batch.Put(contractStateKey(stateHash), blob)
	return nil
}

// Get returns the contract state behind stateHash, or ErrNotFound.
func (ct *ContractStateTable) Get(stateHash *felt.Felt) (*ContractState, error) {
	blob, ok, err := ct.store.Get(contractStateKey(stateHash))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("contract state %s: %w", stateHash, ErrNotFound)
	}
	var state ContractState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("unmarshal contract state %s: %w", stateHash, err)
	}
	return &state, nil
}

// DeclaredClassTable records class hashes declared on chain. The payload is
// the height of the declaring block.
type DeclaredClassTable struct {
	store *PersistenceStore
}

func NewDeclaredClassTable(store *PersistenceStore) *DeclaredClassTable {
	return &DeclaredClassTable{store: store}
}

func declaredClassKey(classHash *felt.Felt) []byte {
	hb := classHash.Bytes()
	return prefixed(prefixDeclaredClass, hb[:])
}

func (dt *DeclaredClassTable) Stage(batch *leveldb.Batch, classHash *felt.Felt, height uint64) error {
	blob, err := json.Marshal(height)
	if err != nil {
		return fmt.Errorf("marshal declared class %s: %w", classHash, err)
	}
	batch.Put(declaredClassKey(classHash), blob)
	return nil
}

// DeclaredAt returns the height at which classHash was declared, or
// ErrNotFound.
func (dt *DeclaredClassTable) DeclaredAt(classHash *felt.Felt) (uint64, error) {
	blob, ok, err := dt.store.Get(declaredClassKey(classHash))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("declared class %s: %w", classHash, ErrNotFound)
	}
	var height uint64
	if err := json.Unmarshal(blob, &height); err != nil {
		return 0, fmt.Errorf("unmarshal declared class %s: %w", classHash, err)
	}
	return height, nil
}
