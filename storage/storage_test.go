package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/quarrylabs/quarry/felt"
	"github.com/quarrylabs/quarry/trie"
)

func newTestStore(t *testing.T) *PersistenceStore {
	t.Helper()
	store, err := NewMemoryPersistenceStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPersistenceStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put([]byte("k"), []byte("v")))
	val, ok, err := store.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), val)
}

func TestPersistenceStoreBatchAtomic(t *testing.T) {
	store := newTestStore(t)

	batch := new(leveldb.Batch)
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	require.NoError(t, store.Write(batch))

	_, ok, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = store.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNodeStoreClassesAreDisjoint(t *testing.T) {
	store := newTestStore(t)
	ns, err := NewNodeStore(store)
	require.NoError(t, err)

	hash := felt.New(42)
	entries := []trie.NodeEntry{{Hash: hash, Blob: []byte{0x01, 0x02}}}

	batch := new(leveldb.Batch)
	ns.Stage(batch, GlobalTrie, entries)
	require.NoError(t, store.Write(batch))

	blob, err := ns.Node(GlobalTrie, &hash)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, blob)

	_, err = ns.Node(StorageTrie, &hash)
	require.ErrorIs(t, err, trie.ErrNodeNotFound)
}

func TestNodeStoreIdempotentStage(t *testing.T) {
	store := newTestStore(t)
	ns, err := NewNodeStore(store)
	require.NoError(t, err)

	hash := felt.New(7)
	entries := []trie.NodeEntry{{Hash: hash, Blob: []byte{0xaa}}}

	for i := 0; i < 2; i++ {
		batch := new(leveldb.Batch)
		ns.Stage(batch, StorageTrie, entries)
		require.NoError(t, store.Write(batch))
	}

	blob, err := ns.Node(StorageTrie, &hash)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa}, blob)
}

func TestVersionTableHeadAndRollback(t *testing.T) {
	store := newTestStore(t)
	vt := NewVersionTable(store)

	_, err := vt.Head()
	require.ErrorIs(t, err, ErrNotFound)

	for h := uint64(1); h <= 5; h++ {
		batch := new(leveldb.Batch)
		rec := &VersionRecord{Height: h, Root: felt.New(h * 100), Timestamp: 1700000000 + h}
		require.NoError(t, vt.Stage(batch, rec))
		require.NoError(t, store.Write(batch))
	}

	head, err := vt.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(5), head.Height)

	root, err := vt.RootAt(3)
	require.NoError(t, err)
	want := felt.New(300)
	require.True(t, root.Equal(&want))

	batch := new(leveldb.Batch)
	require.NoError(t, vt.StageRollback(batch, 2))
	require.NoError(t, store.Write(batch))

	head, err = vt.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(2), head.Height)

	_, err = vt.At(3)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = vt.At(2)
	require.NoError(t, err)
}

func TestContractStateTableRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ct := NewContractStateTable(store)

	stateHash := felt.New(999)
	state := &ContractState{
		ClassHash:   felt.New(1),
		StorageRoot: felt.New(2),
		Nonce:       felt.New(3),
	}

	batch := new(leveldb.Batch)
	require.NoError(t, ct.Stage(batch, &stateHash, state))
	require.NoError(t, store.Write(batch))

	got, err := ct.Get(&stateHash)
	require.NoError(t, err)
	require.Equal(t, state, got)

	absent := felt.New(1000)
	_, err = ct.Get(&absent)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeclaredClassTable(t *testing.T) {
	store := newTestStore(t)
	dt := NewDeclaredClassTable(store)

	classHash := felt.New(77)
	batch := new(leveldb.Batch)
	require.NoError(t, dt.Stage(batch, &classHash, 12))
	require.NoError(t, store.Write(batch))

	height, err := dt.DeclaredAt(&classHash)
	require.NoError(t, err)
	require.Equal(t, uint64(12), height)

	absent := felt.New(78)
	_, err = dt.DeclaredAt(&absent)
	require.ErrorIs(t, err, ErrNotFound)
}
