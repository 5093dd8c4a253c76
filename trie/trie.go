package trie

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quarrylabs/quarry/felt"
)

// ErrNodeNotFound signals that a node referenced by a committed root is
// missing from the node store. This means storage corruption or a pruned
// version that is still being referenced; it is fatal for the operation and
// never retried here.
var ErrNodeNotFound = errors.New("trie node not found")

// NodeReader resolves committed node hashes to their stored encodings.
// Implementations return ErrNodeNotFound (possibly wrapped) for unknown
// hashes.
type NodeReader interface {
	Node(hash *felt.Felt) ([]byte, error)
}

// NodeEntry is a freshly committed node ready for content-addressed storage.
type NodeEntry struct {
	Hash felt.Felt
	Blob []byte
}

// Trie is a binary Merkle-Patricia trie over 251-bit keys, loaded from a
// committed root. Mutations are copy-on-write: only nodes along touched
// paths are resolved and rebuilt, untouched subtrees remain hash
// references. A Trie is not safe for concurrent use; committed state in the
// node store is.
type Trie struct {
	reader NodeReader
	root   node
}

// New opens the trie committed at root. A zero root is the empty trie, for
// which reader may be nil.
func New(reader NodeReader, root felt.Felt) *Trie {
	t := &Trie{reader: reader}
	if !root.IsZero() {
		t.root = hashNode{hash: root}
	}
	return t
}

// Get returns the value stored under key. Keys that were never set (or were
// removed) read as zero.
func (t *Trie) Get(key *felt.Felt) (felt.Felt, error) {
	if !key.IsKey() {
		return felt.Zero, fmt.Errorf("key %s exceeds %d bits", key, felt.KeyBits)
	}
	return t.get(&t.root, KeyPath(key))
}

func (t *Trie) get(ref *node, path Path) (felt.Felt, error) {
	if *ref == nil {
		return felt.Zero, nil
	}
	resolved, err := t.resolve(*ref, path.Len())
	if err != nil {
		return felt.Zero, err
	}
	*ref = resolved

	switch n := resolved.(type) {
	case leafNode:
		return n.value, nil
	case *binaryNode:
		if path.Bit(0) == 0 {
			return t.get(&n.left, path.Suffix(1))
		}
		return t.get(&n.right, path.Suffix(1))
	case *edgeNode:
		common := CommonPrefixLen(path, n.path)
		if common < n.path.Len() {
			return felt.Zero, nil
		}
		return t.get(&n.child, path.Suffix(common))
	}
	return felt.Zero, fmt.Errorf("unexpected node type %T", resolved)
}

// Put sets key to value. A zero value removes the key; removing the last
// key of a subtree prunes it and re-merges edges so the canonical form is
// preserved.
func (t *Trie) Put(key, value *felt.Felt) error {
	if !key.IsKey() {
		return fmt.Errorf("key %s exceeds %d bits", key, felt.KeyBits)
	}
	path := KeyPath(key)
	if value.IsZero() {
		return t.remove(&t.root, path)
	}
	return t.insert(&t.root, path, *value)
}

func (t *Trie) insert(ref *node, path Path, value felt.Felt) error {
	if *ref == nil {
		*ref = newSubtree(path, value)
		return nil
	}
	resolved, err := t.resolve(*ref, path.Len())
	if err != nil {
		return err
	}
	*ref = resolved

	switch n := resolved.(type) {
	case leafNode:
		*ref = leafNode{value: value}
		return nil

	case *binaryNode:
		if path.Bit(0) == 0 {
			return t.insert(&n.left, path.Suffix(1), value)
		}
		return t.insert(&n.right, path.Suffix(1), value)

	case *edgeNode:
		common := CommonPrefixLen(path, n.path)
		if common == n.path.Len() {
			return t.insert(&n.child, path.Suffix(common), value)
		}

		// The key leaves the edge at bit `common`: split the edge into a
		// binary node holding the old subtree on one side and the new leaf
		// on the other, with the shared prefix (if any) as an edge above.
		oldBranch := n.child
		if n.path.Len() > common+1 {
			oldBranch = &edgeNode{path: n.path.Suffix(common + 1), child: n.child}
		}
		newBranch := newSubtree(path.Suffix(common+1), value)

		branch := &binaryNode{}
		if n.path.Bit(common) == 0 {
			branch.left, branch.right = oldBranch, newBranch
		} else {
			branch.left, branch.right = newBranch, oldBranch
		}

		if common > 0 {
			*ref = &edgeNode{path: path.Prefix(common), child: branch}
		} else {
			*ref = branch
		}
		return nil
	}
	return fmt.Errorf("unexpected node type %T", resolved)
}

func (t *Trie) remove(ref *node, path Path) error {
	if *ref == nil {
		return nil
	}
	resolved, err := t.resolve(*ref, path.Len())
	if err != nil {
		return err
	}
	*ref = resolved

	switch n := resolved.(type) {
	case leafNode:
		*ref = nil
		return nil

	case *edgeNode:
		common := CommonPrefixLen(path, n.path)
		if common < n.path.Len() {
			// Key diverges from the edge: nothing stored under it.
			return nil
		}
		if err := t.remove(&n.child, path.Suffix(common)); err != nil {
			return err
		}
		if n.child == nil {
			*ref = nil
			return nil
		}
		if child, ok := n.child.(*edgeNode); ok {
			// Keep path compression maximal.
			*ref = &edgeNode{path: n.path.Join(child.path), child: child.child}
		}
		return nil

	case *binaryNode:
		bit := path.Bit(0)
		childRef, siblingRef := &n.left, &n.right
		if bit == 1 {
			childRef, siblingRef = &n.right, &n.left
		}
		if err := t.remove(childRef, path.Suffix(1)); err != nil {
			return err
		}
		if *childRef != nil {
			return nil
		}

		// One child left: a binary node must not survive with a single
		// child, collapse it into an edge toward the sibling.
		sibling, err := t.resolve(*siblingRef, path.Len()-1)
		if err != nil {
			return err
		}
		siblingPath := PathFromBits(1 - bit)
		if se, ok := sibling.(*edgeNode); ok {
			*ref = &edgeNode{path: siblingPath.Join(se.path), child: se.child}
		} else {
			*ref = &edgeNode{path: siblingPath, child: sibling}
		}
		return nil
	}
	return fmt.Errorf("unexpected node type %T", resolved)
}

// Commit hashes every rebuilt node bottom-up and returns the new root with
// the set of nodes to persist. Identical inputs always produce the identical
// root and node set; re-committing unchanged subtrees re-derives their
// existing hashes, which the content-addressed store absorbs as no-ops.
func (t *Trie) Commit() (felt.Felt, []NodeEntry, error) {
	var batch []NodeEntry
	root, err := commitNode(t.root, &batch)
	if err != nil {
		return felt.Zero, nil, err
	}
	return root, batch, nil
}

func commitNode(n node, out *[]NodeEntry) (felt.Felt, error) {
	switch n := n.(type) {
	case nil:
		return felt.Zero, nil
	case hashNode:
		return n.hash, nil
	case leafNode:
		return n.value, nil
	case *binaryNode:
		left, err := commitNode(n.left, out)
		if err != nil {
			return felt.Zero, err
		}
		right, err := commitNode(n.right, out)
		if err != nil {
			return felt.Zero, err
		}
		h := binaryHash(&left, &right)
		*out = append(*out, NodeEntry{Hash: h, Blob: encodeBinary(&left, &right)})
		return h, nil
	case *edgeNode:
		child, err := commitNode(n.child, out)
		if err != nil {
			return felt.Zero, err
		}
		h := edgeHash(&child, n.path)
		*out = append(*out, NodeEntry{Hash: h, Blob: encodeEdge(&child, n.path)})
		return h, nil
	}
	return felt.Zero, fmt.Errorf("unexpected node type %T", n)
}

func newSubtree(path Path, value felt.Felt) node {
	leaf := leafNode{value: value}
	if path.Len() == 0 {
		return leaf
	}
	return &edgeNode{path: path, child: leaf}
}

// resolve loads a hash reference from the store. A reference with no key
// bits left below it is a leaf, whose hash is the value itself.
func (t *Trie) resolve(n node, remaining int) (node, error) {
	hn, ok := n.(hashNode)
	if !ok {
		return n, nil
	}
	if remaining == 0 {
		return leafNode{value: hn.hash}, nil
	}
	blob, err := t.reader.Node(&hn.hash)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeNode(blob)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", hn.hash, err)
	}
	return decoded, nil
}

// Apply commits a batch of key changes against a parent root as one pure
// operation: the result depends only on the parent root and the final
// key/value mapping, never on iteration order. A zero value removes the
// key.
func Apply(reader NodeReader, parentRoot felt.Felt, changes map[felt.Felt]felt.Felt) (felt.Felt, []NodeEntry, error) {
	t := New(reader, parentRoot)
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
