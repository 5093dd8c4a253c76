package trie

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/quarrylabs/quarry/felt"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	nodes map[felt.Felt][]byte
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[felt.Felt][]byte)}
}

func (m *memStore) Node(hash *felt.Felt) ([]byte, error) {
	blob, ok := m.nodes[*hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", hash, ErrNodeNotFound)
	}
	return blob, nil
}

func (m *memStore) add(entries []NodeEntry) {
	for _, e := range entries {
		m.nodes[e.Hash] = e.Blob
	}
}

func TestEmptyTrieRootIsZero(t *testing.T) {
	tr := New(nil, felt.Zero)
	root, entries, err := tr.Commit()
	require.NoError(t, err)
	require.True(t, root.IsZero())
	require.Empty(t, entries)
}

func TestSingleEntry(t *testing.T) {
	store := newMemStore()
	tr := New(store, felt.Zero)
	key, value := felt.New(5), felt.New(7)
	require.NoError(t, tr.Put(&key, &value))

	root, entries, err := tr.Commit()
	require.NoError(t, err)
	require.False(t, root.IsZero())
	store.add(entries)

	got, err := New(store, root).Get(&key)
	require.NoError(t, err)
	require.True(t, got.Equal(&value))

	absent := felt.New(6)
	got, err = New(store, root).Get(&absent)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func randomChanges(rng *rand.Rand, n int) map[felt.Felt]felt.Felt {
	changes := make(map[felt.Felt]felt.Felt, n)
	for len(changes) < n {
		var buf [felt.Bytes]byte
		rng.Read(buf[4:]) // keep well inside the key range
		key := felt.FromBytes(buf[:])
		changes[key] = felt.New(rng.Uint64() | 1)
	}
	return changes
}

func TestInsertionOrderIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	changes := randomChanges(rng, 64)

	storeA := newMemStore()
	rootA, entriesA, err := Apply(storeA, felt.Zero, changes)
	require.NoError(t, err)
	storeA.add(entriesA)

	// Same mapping inserted in descending key order by hand.
	storeB := newMemStore()
	trB := New(storeB, felt.Zero)
	keys := make([]felt.Felt, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[i].Cmp(&keys[j]) < 0 {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		v := changes[k]
		require.NoError(t, trB.Put(&k, &v))
	}
	rootB, _, err := trB.Commit()
	require.NoError(t, err)

	require.True(t, rootA.Equal(&rootB))
}

func TestIdempotentReinsertion(t *testing.T) {
	store := newMemStore()
	rng := rand.New(rand.NewSource(1))
	changes := randomChanges(rng, 16)

	root1, entries, err := Apply(store, felt.Zero, changes)
	require.NoError(t, err)
	store.add(entries)

	root2, entries, err := Apply(store, root1, changes)
	require.NoError(t, err)
	store.add(entries)
	require.True(t, root1.Equal(&root2))
}

func TestDeleteInsertInverse(t *testing.T) {
	store := newMemStore()
	rng := rand.New(rand.NewSource(2))
	base := randomChanges(rng, 32)

	root0, entries, err := Apply(store, felt.Zero, base)
	require.NoError(t, err)
	store.add(entries)

	extraKey, extraVal := felt.New(99), felt.New(1234)
	root1, entries, err := Apply(store, root0, map[felt.Felt]felt.Felt{extraKey: extraVal})
	require.NoError(t, err)
	store.add(entries)
	require.False(t, root0.Equal(&root1))

	root2, entries, err := Apply(store, root1, map[felt.Felt]felt.Felt{extraKey: felt.Zero})
	require.NoError(t, err)
	store.add(entries)
	require.True(t, root0.Equal(&root2))
}

func TestRemoveAbsentKeyIsNoOp(t *testing.T) {
	store := newMemStore()
	key, value := felt.New(5), felt.New(7)
	root0, entries, err := Apply(store, felt.Zero, map[felt.Felt]felt.Felt{key: value})
	require.NoError(t, err)
	store.add(entries)

	absent := felt.New(1000)
	root1, _, err := Apply(store, root0, map[felt.Felt]felt.Felt{absent: felt.Zero})
	require.NoError(t, err)
	require.True(t, root0.Equal(&root1))
}

func TestDeleteLastEntryEmptiesTrie(t *testing.T) {
	store := newMemStore()
	key, value := felt.New(5), felt.New(7)
	root0, entries, err := Apply(store, felt.Zero, map[felt.Felt]felt.Felt{key: value})
	require.NoError(t, err)
	store.add(entries)

	root1, _, err := Apply(store, root0, map[felt.Felt]felt.Felt{key: felt.Zero})
	require.NoError(t, err)
	require.True(t, root1.IsZero())
}

func TestAdjacentKeysSplitAtBottom(t *testing.T) {
	// Keys 0 and 1 share the top 250 bits, forcing the deepest possible
	// split.
	store := newMemStore()
	k0, k1 := felt.New(0), felt.New(1)
	v0, v1 := felt.New(10), felt.New(11)
	root, entries, err := Apply(store, felt.Zero, map[felt.Felt]felt.Felt{k0: v0, k1: v1})
	require.NoError(t, err)
	store.add(entries)

	tr := New(store, root)
	got, err := tr.Get(&k0)
	require.NoError(t, err)
	require.True(t, got.Equal(&v0))
	got, err = tr.Get(&k1)
	require.NoError(t, err)
	require.True(t, got.Equal(&v1))

	assertCanonical(t, store, root)
}

func TestOverwriteValue(t *testing.T) {
	store := newMemStore()
	key := felt.New(5)
	v1, v2 := felt.New(7), felt.New(9)

	root1, entries, err := Apply(store, felt.Zero, map[felt.Felt]felt.Felt{key: v1})
	require.NoError(t, err)
	store.add(entries)

	root2, entries, err := Apply(store, root1, map[felt.Felt]felt.Felt{key: v2})
	require.NoError(t, err)
	store.add(entries)
	require.False(t, root1.Equal(&root2))

	// Both versions stay readable by root.
	got, err := New(store, root1).Get(&key)
	require.NoError(t, err)
	require.True(t, got.Equal(&v1))
	got, err = New(store, root2).Get(&key)
	require.NoError(t, err)
	require.True(t, got.Equal(&v2))
}

func TestRandomChurnStaysCanonical(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	store := newMemStore()
	state := make(map[felt.Felt]felt.Felt)
	root := felt.Zero

	var keys []felt.Felt
	for round := 0; round < 10; round++ {
		changes := make(map[felt.Felt]felt.Felt)
		for i := 0; i < 20; i++ {
			if len(keys) > 0 && rng.Intn(3) == 0 {
				// delete or overwrite an existing key
				k := keys[rng.Intn(len(keys))]
				if rng.Intn(2) == 0 {
					changes[k] = felt.Zero
				} else {
					changes[k] = felt.New(rng.Uint64() | 1)
				}
				continue
			}
			k := felt.New(rng.Uint64())
			changes[k] = felt.New(rng.Uint64() | 1)
		}

		var err error
		var entries []NodeEntry
		root, entries, err = Apply(store, root, changes)
		require.NoError(t, err)
		store.add(entries)

		for k, v := range changes {
			if v.IsZero() {
				delete(state, k)
			} else {
				state[k] = v
				keys = append(keys, k)
			}
		}

		// Rebuilding the same mapping from scratch must land on the same
		// root.
		fresh := newMemStore()
		freshRoot, _, err := Apply(fresh, felt.Zero, state)
		require.NoError(t, err)
		require.True(t, root.Equal(&freshRoot), "round %d", round)

		if !root.IsZero() {
			assertCanonical(t, store, root)
		}

		for k, v := range state {
			got, err := New(store, root).Get(&k)
			require.NoError(t, err)
			require.True(t, got.Equal(&v))
		}
	}
}

func TestMissingNodeSurfacesNodeNotFound(t *testing.T) {
	store := newMemStore()
	rng := rand.New(rand.NewSource(3))
	changes := randomChanges(rng, 8)
	root, entries, err := Apply(store, felt.Zero, changes)
	require.NoError(t, err)
	store.add(entries)

	// Drop the root node from the store.
	delete(store.nodes, root)

	var anyKey felt.Felt
	for k := range changes {
		anyKey = k
		break
	}
	_, err = New(store, root).Get(&anyKey)
	require.ErrorIs(t, err, ErrNodeNotFound)
}

// assertCanonical checks the stored structural invariants: no edge node
// whose child is an edge node, and no binary node with a zero child.
func assertCanonical(t *testing.T, store *memStore, root felt.Felt) {
	t.Helper()
	walkCanonical(t, store, root, felt.KeyBits, false)
}

func walkCanonical(t *testing.T, store *memStore, hash felt.Felt, remaining int, parentIsEdge bool) {
	t.Helper()
	if remaining == 0 {
		return // leaf
	}
	blob, err := store.Node(&hash)
	require.NoError(t, err)
	decoded, err := decodeNode(blob)
	require.NoError(t, err)
	switch n := decoded.(type) {
	case *binaryNode:
		left := n.left.(hashNode).hash
		right := n.right.(hashNode).hash
		walkCanonical(t, store, left, remaining-1, false)
		walkCanonical(t, store, right, remaining-1, false)
	case *edgeNode:
		require.False(t, parentIsEdge, "edge node %s has an edge parent", hash)
		child := n.child.(hashNode).hash
		walkCanonical(t, store, child, remaining-n.path.Len(), true)
	}
}
