package trie

import (
	"fmt"

	"github.com/quarrylabs/quarry/crypto"
	"github.com/quarrylabs/quarry/felt"
)

// In-memory node variants. A loaded trie starts as a single hashNode and is
// resolved lazily along the paths a mutation or lookup touches; everything
// else stays a hash reference and is neither re-read nor re-written.
type node interface {
	isNode()
}

// binaryNode has two children, left for bit 0 and right for bit 1. Both are
// always present: a binary node with a single child is collapsed into an
// edge on every mutation, so the canonical form never stores one.
type binaryNode struct {
	left, right node
}

// edgeNode compresses a run of single-child descent into one node.
type edgeNode struct {
	path  Path
	child node
}

// leafNode terminates a 251-bit path. Its hash is the value itself, so
// leaves are never written to the node store.
type leafNode struct {
	value felt.Felt
}

// hashNode is an unresolved reference to a committed node.
type hashNode struct {
	hash felt.Felt
}

func (*binaryNode) isNode() {}
func (*edgeNode) isNode()   {}
func (leafNode) isNode()    {}
func (hashNode) isNode()    {}

// Persisted node encoding tags.
const (
	tagBinary byte = 0x00
	tagEdge   byte = 0x01
)

const (
	binaryBlobSize = 1 + 2*felt.Bytes
	edgeBlobSize   = 1 + 2*felt.Bytes + 1
)

func encodeBinary(left, right *felt.Felt) []byte {
	blob := make([]byte, 0, binaryBlobSize)
	l, r := left.Bytes(), right.Bytes()
	blob = append(blob, tagBinary)
	blob = append(blob, l[:]...)
	blob = append(blob, r[:]...)
	return blob
}

func encodeEdge(child *felt.Felt, path Path) []byte {
	blob := make([]byte, 0, edgeBlobSize)
	c := child.Bytes()
	blob = append(blob, tagEdge)
	blob = append(blob, c[:]...)
	blob = append(blob, path.bits[:]...)
	blob = append(blob, path.length)
	return blob
}

// decodeNode decodes a stored binary or edge node. Children come back as
// hash references.
func decodeNode(blob []byte) (node, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty node blob")
	}
	switch blob[0] {
	case tagBinary:
		if len(blob) != binaryBlobSize {
			return nil, fmt.Errorf("binary node blob has %d bytes, want %d", len(blob), binaryBlobSize)
		}
		return &binaryNode{
			left:  hashNode{hash: felt.FromBytes(blob[1 : 1+felt.Bytes])},
			right: hashNode{hash: felt.FromBytes(blob[1+felt.Bytes:])},
		}, nil
	case tagEdge:
		if len(blob) != edgeBlobSize {
			return nil, fmt.Errorf("edge node blob has %d bytes, want %d", len(blob), edgeBlobSize)
		}
		var p Path
		copy(p.bits[:], blob[1+felt.Bytes:1+2*felt.Bytes])
		p.length = blob[edgeBlobSize-1]
		if p.length == 0 || p.length > felt.KeyBits {
			return nil, fmt.Errorf("edge node has invalid path length %d", p.length)
		}
		return &edgeNode{
			path:  p,
			child: hashNode{hash: felt.FromBytes(blob[1 : 1+felt.Bytes])},
		}, nil
	default:
		return nil, fmt.Errorf("unknown node tag 0x%02x", blob[0])
	}
}

func binaryHash(left, right *felt.Felt) felt.Felt {
	return crypto.Pedersen(left, right)
}

// edgeHash commits to the child and the compressed path:
// H(child, path) + length, with the addition in the field.
func edgeHash(child *felt.Felt, path Path) felt.Felt {
	pf := path.Felt()
	h := crypto.Pedersen(child, &pf)
	length := felt.New(uint64(path.Len()))
	var out felt.Felt
	out.Add(&h, &length)
	return out
}
