package trie

import (
	"fmt"

	"github.com/quarrylabs/quarry/crypto"
	"github.com/quarrylabs/quarry/felt"
)

// BinaryProofNode carries both child commitments of a binary node on the
// proof path.
type BinaryProofNode struct {
	Left  felt.Felt `json:"left"`
	Right felt.Felt `json:"right"`
}

// EdgeProofNode carries an edge node's child commitment and its compressed
// path.
type EdgeProofNode struct {
	Child felt.Felt `json:"child"`
	Path  felt.Felt `json:"path"`
	Len   int       `json:"len"`
}

// ProofNode is one step of a membership proof. Exactly one variant is set.
type ProofNode struct {
	Binary *BinaryProofNode `json:"binary,omitempty"`
	Edge   *EdgeProofNode   `json:"edge,omitempty"`
}

// Hash re-derives the node's commitment from the disclosed fields.
func (p *ProofNode) Hash() felt.Felt {
	if p.Binary != nil {
		return crypto.Pedersen(&p.Binary.Left, &p.Binary.Right)
	}
	path := Path{length: uint8(p.Edge.Len), bits: p.Edge.Path.Bytes()}
	pathFelt := path.Felt()
	h := crypto.Pedersen(&p.Edge.Child, &pathFelt)
	length := felt.New(uint64(p.Edge.Len))
	var out felt.Felt
	out.Add(&h, &length)
	return out
}

// Prove builds the chain of nodes from root toward key. For a key that is
// absent the chain stops at the edge it diverges from, which still lets a
// verifier conclude absence. A zero root yields an empty proof.
func Prove(reader NodeReader, root felt.Felt, key *felt.Felt) ([]ProofNode, error) {
	if !key.IsKey() {
		return nil, fmt.Errorf("key %s exceeds %d bits", key, felt.KeyBits)
	}
	if root.IsZero() {
		return nil, nil
	}

	var proof []ProofNode
	path := KeyPath(key)
	current := root
	depth := 0
	for depth < felt.KeyBits {
		blob, err := reader.Node(&current)
		if err != nil {
			return nil, err
		}
		decoded, err := decodeNode(blob)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", current, err)
		}
		switch n := decoded.(type) {
		case *binaryNode:
			left := n.left.(hashNode).hash
			right := n.right.(hashNode).hash
			proof = append(proof, ProofNode{Binary: &BinaryProofNode{Left: left, Right: right}})
			if path.Bit(depth) == 0 {
				current = left
			} else {
				current = right
			}
			depth++
		case *edgeNode:
			child := n.child.(hashNode).hash
			proof = append(proof, ProofNode{Edge: &EdgeProofNode{
				Child: child,
				Path:  n.path.Felt(),
				Len:   n.path.Len(),
			}})
			common := CommonPrefixLen(path.Suffix(depth), n.path)
			if common < n.path.Len() {
				// Divergence: the proof is complete, the key is absent.
				return proof, nil
			}
			current = child
			depth += n.path.Len()
		default:
			return nil, fmt.Errorf("unexpected node type %T in store", decoded)
		}
	}
	return proof, nil
}

// VerifyProof checks a proof chain against a trusted root. It returns the
// proven value and whether the key is present; an absence proof yields
// (zero, false, nil). A malformed or non-binding proof is an error.
func VerifyProof(root felt.Felt, key *felt.Felt, proof []ProofNode) (felt.Felt, bool, error) {
	if !key.IsKey() {
		return felt.Zero, false, fmt.Errorf("key %s exceeds %d bits", key, felt.KeyBits)
	}
	if root.IsZero() {
		if len(proof) != 0 {
			return felt.Zero, false, fmt.Errorf("non-empty proof against empty root")
		}
		return felt.Zero, false, nil
	}
	if len(proof) == 0 {
		return felt.Zero, false, fmt.Errorf("empty proof against non-empty root")
	}

	path := KeyPath(key)
	expected := root
	depth := 0
	for i := range proof {
		p := &proof[i]
		if (p.Binary == nil) == (p.Edge == nil) {
			return felt.Zero, false, fmt.Errorf("proof node %d: exactly one variant must be set", i)
		}
		h := p.Hash()
		if !h.Equal(&expected) {
			return felt.Zero, false, fmt.Errorf("proof node %d: hash %s, want %s", i, h, expected)
		}
		if p.Binary != nil {
			if depth >= felt.KeyBits {
				return felt.Zero, false, fmt.Errorf("proof node %d: descends past leaf depth", i)
			}
			if path.Bit(depth) == 0 {
				expected = p.Binary.Left
			} else {
				expected = p.Binary.Right
			}
			depth++
			continue
		}
		edgePath := Path{length: uint8(p.Edge.Len), bits: p.Edge.Path.Bytes()}
		if depth+p.Edge.Len > felt.KeyBits {
			return felt.Zero, false, fmt.Errorf("proof node %d: edge overruns leaf depth", i)
		}
		common := CommonPrefixLen(path.Suffix(depth), edgePath)
		if common < edgePath.Len() {
			if i != len(proof)-1 {
				return felt.Zero, false, fmt.Errorf("proof node %d: divergence before end of proof", i)
			}
			return felt.Zero, false, nil
		}
		expected = p.Edge.Child
		depth += p.Edge.Len
	}
	if depth != felt.KeyBits {
		return felt.Zero, false, fmt.Errorf("proof stops at depth %d, want %d", depth, felt.KeyBits)
	}
	return expected, true, nil
}
