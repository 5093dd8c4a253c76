package trie

import (
	"fmt"

	"github.com/quarrylabs/quarry/felt"
	"github.com/xlab/treeprint"
)

// Dump renders the trie committed at root as an indented tree, for
// debugging and CLI inspection.
func Dump(reader NodeReader, root felt.Felt) (string, error) {
	tree := treeprint.New()
	if root.IsZero() {
		tree.SetValue("(empty)")
		return tree.String(), nil
	}
	tree.SetValue(fmt.Sprintf("root %s", root))
	if err := dumpNode(reader, tree, root, felt.KeyBits); err != nil {
		return "", err
	}
	return tree.String(), nil
}

func dumpNode(reader NodeReader, branch treeprint.Tree, hash felt.Felt, remaining int) error {
	if remaining == 0 {
		branch.AddNode(fmt.Sprintf("leaf %s", hash))
		return nil
	}
	blob, err := reader.Node(&hash)
	if err != nil {
		return err
	}
	decoded, err := decodeNode(blob)
	if err != nil {
		return fmt.Errorf("node %s: %w", hash, err)
	}
	switch n := decoded.(type) {
	case *binaryNode:
		left := n.left.(hashNode).hash
		right := n.right.(hashNode).hash
		b := branch.AddBranch(fmt.Sprintf("binary %s", hash))
		if err := dumpNode(reader, b, left, remaining-1); err != nil {
			return err
		}
		return dumpNode(reader, b, right, remaining-1)
	case *edgeNode:
		child := n.child.(hashNode).hash
		b := branch.AddBranch(fmt.Sprintf("edge %s path=%s", hash, n.path))
		return dumpNode(reader, b, child, remaining-n.path.Len())
	}
	return fmt.Errorf("unexpected node type %T in store", decoded)
}
