package types

import "github.com/quarrylabs/quarry/felt"

// StorageEntry is one storage slot write. A zero Value clears the slot.
type StorageEntry struct {
	Key   felt.Felt `json:"key"`
	Value felt.Felt `json:"value"`
}

// DeployedContract records a contract instantiated in a block.
type DeployedContract struct {
	Address   felt.Felt `json:"address"`
	ClassHash felt.Felt `json:"class_hash"`
}

// StateDiff is the full set of state changes a block makes: storage writes
// per contract, contract deployments, class declarations and nonce bumps.
type StateDiff struct {
	StorageDiffs      map[felt.Felt][]StorageEntry `json:"storage_diffs"`
	DeployedContracts []DeployedContract           `json:"deployed_contracts"`
	DeclaredClasses   []felt.Felt                  `json:"declared_classes"`
	Nonces            map[felt.Felt]felt.Felt      `json:"nonces"`
}

// BlockDiff is a StateDiff bound to a block: its height, metadata, and the
// global root the block producer claims the diff leads to. A nil
// ExpectedRoot skips the check, which local tooling uses.
type BlockDiff struct {
	Height           uint64     `json:"height"`
	Timestamp        uint64     `json:"timestamp"`
	SequencerAddress felt.Felt  `json:"sequencer_address"`
	ExpectedRoot     *felt.Felt `json:"expected_root,omitempty"`
	Diff             StateDiff  `json:"diff"`
}
