package storage

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/quarrylabs/quarry/felt"
	"github.com/quarrylabs/quarry/trie"
)

// TrieClass selects which trie's node table a read or write targets. The
// global trie and the per-contract storage tries live in separate tables so
// a hash collision across classes (however unlikely) cannot alias.
type TrieClass uint8

const (
	GlobalTrie TrieClass = iota
	StorageTrie
)

func (c TrieClass) prefix() []byte {
	if c == GlobalTrie {
		return prefixGlobalNode
	}
	return prefixStorageNode
}

const nodeCacheSize = 100_000

// NodeStore is the content-addressed node table: hash -> encoded node.
// Writes are staged into a batch and land atomically with the rest of a
// block commit; putting an existing hash again is a no-op by construction
// since identical content hashes to the identical key.
type NodeStore struct {
	store *PersistenceStore
	cache *lru.Cache[string, []byte]
}

func NewNodeStore(store *PersistenceStore) (*NodeStore, error) {
	cache, err := lru.New[string, []byte](nodeCacheSize)
	if err != nil {
		return nil, err
	}
	return &NodeStore{store: store, cache: cache}, nil
}

// Node returns the encoded node for hash, or trie.ErrNodeNotFound wrapped
// with the hash when no such node exists.
func (ns *NodeStore) Node(class TrieClass, hash *felt.Felt) ([]byte, error) {
	hb := hash.Bytes()
	key := prefixed(class.prefix(), hb[:])
	if blob, ok := ns.cache.Get(string(key)); ok {
		return blob, nil
	}
	blob, ok, err := ns.store.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", hash, trie.ErrNodeNotFound)
	}
	ns.cache.Add(string(key), blob)
	return blob, nil
}

func (ns *NodeStore) HasNode(class TrieClass, hash *felt.Felt) (bool, error) {
	hb := hash.Bytes()
	key := prefixed(class.prefix(), hb[:])
	if _, ok := ns.cache.Get(string(key)); ok {
		return true, nil
	}
	return ns.store.Has(key)
}

// Stage adds freshly committed nodes to batch and primes the cache so the
// nodes are readable as soon as the batch lands.
func (ns *NodeStore) Stage(batch *leveldb.Batch, class TrieClass, entries []trie.NodeEntry) {
	for _, e := range entries {
		hb := e.Hash.Bytes()
		key := prefixed(class.prefix(), hb[:])
		batch.Put(key, e.Blob)
		ns.cache.Add(string(key), e.Blob)
	}
}

// Reader adapts one class of the node table to the trie's read interface.
func (ns *NodeStore) Reader(class TrieClass) trie.NodeReader {
	return nodeReader{ns: ns, class: class}
}

type nodeReader struct {
	ns    *NodeStore
	class TrieClass
}

func (r nodeReader) Node(hash *felt.Felt) ([]byte, error) {
	return r.ns.Node(r.class, hash)
}
