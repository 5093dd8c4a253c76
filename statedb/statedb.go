package statedb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/quarrylabs/quarry/crypto"
	"github.com/quarrylabs/quarry/felt"
	"github.com/quarrylabs/quarry/log"
	"github.com/quarrylabs/quarry/storage"
	"github.com/quarrylabs/quarry/trie"
	"github.com/quarrylabs/quarry/types"
)

// StateDB is the state reconciler: it folds block diffs into the versioned
// global trie and answers reads against any committed height. One writer at
// a time; reads work off committed roots and may run concurrently with the
// writer because committed nodes are immutable.
type StateDB struct {
	mu sync.Mutex

	store     *storage.PersistenceStore
	nodes     *storage.NodeStore
	versions  *storage.VersionTable
	contracts *storage.ContractStateTable
	classes   *storage.DeclaredClassTable

	head *storage.VersionRecord
}

func New(store *storage.PersistenceStore) (*StateDB, error) {
	nodes, err := storage.NewNodeStore(store)
	if err != nil {
		return nil, err
	}
	s := &StateDB{
		store:     store,
		nodes:     nodes,
		versions:  storage.NewVersionTable(store),
		contracts: storage.NewContractStateTable(store),
		classes:   storage.NewDeclaredClassTable(store),
	}
	head, err := s.versions.Head()
	if err != nil && !storage.IsNotFound(err) {
		return nil, err
	}
	s.head = head
	return s, nil
}

// Head returns the latest committed version, or nil when the store is
// empty.
func (s *StateDB) Head() *storage.VersionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// ApplyBlock folds one block diff into state and commits the resulting
// version atomically. The first block on an empty store may carry any
// height; after that each block must extend the head by exactly one. When
// the block declares an expected root and the computed root disagrees,
// nothing is persisted and a DivergenceError is returned.
func (s *StateDB) ApplyBlock(block *types.BlockDiff) (felt.Felt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentRoot := felt.Zero
	if s.head != nil {
		if block.Height != s.head.Height+1 {
			return felt.Zero, fmt.Errorf("height %d does not extend head %d: %w",
				block.Height, s.head.Height, ErrOutOfOrder)
		}
		parentRoot = s.head.Root
	}

	batch := new(leveldb.Batch)
	globalTrie := trie.New(s.nodes.Reader(storage.GlobalTrie), parentRoot)

	globalChanges := make(map[felt.Felt]felt.Felt)
	for _, addr := range touchedContracts(&block.Diff) {
		stateHash, err := s.updateContract(batch, globalTrie, addr, &block.Diff)
		if err != nil {
			return felt.Zero, fmt.Errorf("contract %s: %w", addr, err)
		}
		globalChanges[addr] = stateHash
	}

	root, globalNodes, err := applyChanges(globalTrie, globalChanges)
	if err != nil {
		return felt.Zero, err
	}

	if block.ExpectedRoot != nil && !root.Equal(block.ExpectedRoot) {
		return felt.Zero, &DivergenceError{
			Height:   block.Height,
			Computed: root,
			Expected: *block.ExpectedRoot,
		}
	}

	s.nodes.Stage(batch, storage.GlobalTrie, globalNodes)
	for _, classHash := range block.Diff.DeclaredClasses {
		if err := s.classes.Stage(batch, &classHash, block.Height); err != nil {
			return felt.Zero, err
		}
	}
	rec := &storage.VersionRecord{
		Height:           block.Height,
		Root:             root,
		Timestamp:        block.Timestamp,
		SequencerAddress: block.SequencerAddress,
	}
	if err := s.versions.Stage(batch, rec); err != nil {
		return felt.Zero, err
	}
	if err := s.store.Write(batch); err != nil {
		return felt.Zero, err
	}
	s.head = rec

	log.Info(log.StateDBMonitoring, "applied block",
		"height", block.Height, "root", root.String(),
		"contracts", len(globalChanges))
	return root, nil
}

// updateContract folds one contract's changes: replay its storage writes on
// its storage trie, then recompute the state hash that becomes its global
// trie leaf. All fresh rows are staged into batch.
func (s *StateDB) updateContract(batch *leveldb.Batch, globalTrie *trie.Trie, addr felt.Felt, diff *types.StateDiff) (felt.Felt, error) {
	prev := storage.ContractState{}
	prevHash, err := globalTrie.Get(&addr)
	if err != nil {
		return felt.Zero, err
	}
	if !prevHash.IsZero() {
		state, err := s.contracts.Get(&prevHash)
		if err != nil {
			return felt.Zero, err
		}
		prev = *state
	}

	next := prev
	for _, deployed := range diff.DeployedContracts {
		if deployed.Address == addr {
			next.ClassHash = deployed.ClassHash
		}
	}
	if nonce, ok := diff.Nonces[addr]; ok {
		next.Nonce = nonce
	}

	if entries := diff.StorageDiffs[addr]; len(entries) > 0 {
		changes := make(map[felt.Felt]felt.Felt, len(entries))
		for _, e := range entries {
			changes[e.Key] = e.Value
		}
		root, nodes, err := trie.Apply(s.nodes.Reader(storage.StorageTrie), prev.StorageRoot, changes)
		if err != nil {
			return felt.Zero, err
		}
		s.nodes.Stage(batch, storage.StorageTrie, nodes)
		next.StorageRoot = root
	}

	stateHash := crypto.ContractStateHash(&next.ClassHash, &next.StorageRoot, &next.Nonce)
	if err := s.contracts.Stage(batch, &stateHash, &next); err != nil {
		return felt.Zero, err
	}
	return stateHash, nil
}

// RollbackTo discards every version above height. Content-addressed nodes
// stay in place, so surviving versions keep resolving.
func (s *StateDB) RollbackTo(height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.head == nil || height >= s.head.Height {
		return nil
	}
	batch := new(leveldb.Batch)
	if err := s.versions.StageRollback(batch, height); err != nil {
		return err
	}
	if err := s.store.Write(batch); err != nil {
		return err
	}
	head, err := s.versions.Head()
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	s.head = head
	log.Info(log.StateDBMonitoring, "rolled back", "height", height)
	return nil
}

// RootAt returns the global root committed at height.
func (s *StateDB) RootAt(height uint64) (felt.Felt, error) {
	return s.versions.RootAt(height)
}

// ContractStateAt returns the contract's state record as of height. The
// second return reports whether the contract existed at that height.
func (s *StateDB) ContractStateAt(height uint64, addr *felt.Felt) (*storage.ContractState, bool, error) {
	root, err := s.versions.RootAt(height)
	if err != nil {
		return nil, false, err
	}
	stateHash, err := trie.New(s.nodes.Reader(storage.GlobalTrie), root).Get(addr)
	if err != nil {
		return nil, false, err
	}
	if stateHash.IsZero() {
		return nil, false, nil
	}
	state, err := s.contracts.Get(&stateHash)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// StorageAt returns the value of one contract storage slot as of height.
// Absent contracts and unset slots both read as zero.
func (s *StateDB) StorageAt(height uint64, addr, key *felt.Felt) (felt.Felt, error) {
	state, ok, err := s.ContractStateAt(height, addr)
	if err != nil || !ok {
		return felt.Zero, err
	}
	return trie.New(s.nodes.Reader(storage.StorageTrie), state.StorageRoot).Get(key)
}

// NonceAt returns the contract's nonce as of height; zero for absent
// contracts.
func (s *StateDB) NonceAt(height uint64, addr *felt.Felt) (felt.Felt, error) {
	state, ok, err := s.ContractStateAt(height, addr)
	if err != nil || !ok {
		return felt.Zero, err
	}
	return state.Nonce, nil
}

// ClassHashAt returns the contract's class hash as of height; zero for
// absent contracts.
func (s *StateDB) ClassHashAt(height uint64, addr *felt.Felt) (felt.Felt, error) {
	state, ok, err := s.ContractStateAt(height, addr)
	if err != nil || !ok {
		return felt.Zero, err
	}
	return state.ClassHash, nil
}

// ClassDeclaredAt returns the height that declared classHash.
func (s *StateDB) ClassDeclaredAt(classHash *felt.Felt) (uint64, error) {
	return s.classes.DeclaredAt(classHash)
}

// DumpGlobalTrie renders the global trie at height for inspection.
func (s *StateDB) DumpGlobalTrie(height uint64) (string, error) {
	root, err := s.versions.RootAt(height)
	if err != nil {
		return "", err
	}
	return trie.Dump(s.nodes.Reader(storage.GlobalTrie), root)
}

func touchedContracts(diff *types.StateDiff) []felt.Felt {
	seen := make(map[felt.Felt]struct{})
	for addr := range diff.StorageDiffs {
		seen[addr] = struct{}{}
	}
	for _, d := range diff.DeployedContracts {
		seen[d.Address] = struct{}{}
	}
	for addr := range diff.Nonces {
		seen[addr] = struct{}{}
	}
	addrs := make([]felt.Felt, 0, len(seen))
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(&addrs[j]) < 0 })
	return addrs
}

// applyChanges commits sorted key updates on an already-open trie.
func applyChanges(t *trie.Trie, changes map[felt.Felt]felt.Felt) (felt.Felt, []trie.NodeEntry, error) {
	keys := make([]felt.Felt, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(&keys[j]) < 0 })
	for _, k := range keys {
		v := changes[k]
		if err := t.Put(&k, &v); err != nil {
			return felt.Zero, nil, err
		}
	}
	return t.Commit()
}
