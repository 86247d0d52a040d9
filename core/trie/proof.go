package trie

import (
	"context"
	"encoding/json"

	"github.com/NethermindEth/starktrie/core/crypto"
	"github.com/NethermindEth/starktrie/core/felt"
)

// Proof is the chain of nodes visited while walking one key from the root, root first.
// For a present key the walk ends at the leaf; for an absent key it ends at the edge whose
// path diverges from the key, or has no nodes at all when the trie is empty.
type Proof struct {
	Nodes  ProofNodes
	Exists bool
	Value  felt.Felt // zero unless Exists
}

// ProofNodes is a list of nodes with a JSON form of
// [{"binary":{"left":..,"right":..}} | {"edge":{"child":..,"path":{"value":..,"len":..}}}, ...].
type ProofNodes []Node

func (p *ProofNodes) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	nodes := make(ProofNodes, len(raw))
	for i, r := range raw {
		n, err := UnmarshalNodeJSON(r)
		if err != nil {
			return err
		}
		nodes[i] = n
	}
	*p = nodes
	return nil
}

// Prove builds a membership or non-membership proof for key under root.
func (t *Trie) Prove(root, key *felt.Felt) (*Proof, error) {
	path, err := t.keyPath(key)
	if err != nil {
		return nil, err
	}

	defer t.store.Lease()()
	return t.prove(root, path)
}

func (t *Trie) prove(root *felt.Felt, path Path) (*Proof, error) {
	proof := &Proof{Nodes: ProofNodes{}}
	value, depth, err := t.walk(root, path, func(n Node) {
		proof.Nodes = append(proof.Nodes, n)
	})
	if err != nil {
		return nil, err
	}

	proofsGenerated.Inc()
	if depth == t.height && !value.IsZero() {
		proof.Exists = true
		proof.Value = value
	}
	return proof, nil
}

// ProveMany proves each key under root in order. It stops early when ctx is done.
func (t *Trie) ProveMany(ctx context.Context, root *felt.Felt, keys []felt.Felt) ([]*Proof, error) {
	paths := make([]Path, len(keys))
	for i := range keys {
		path, err := t.keyPath(&keys[i])
		if err != nil {
			return nil, err
		}
		paths[i] = path
	}

	defer t.store.Lease()()
	proofs := make([]*Proof, len(keys))
	for i := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		proof, err := t.prove(root, paths[i])
		if err != nil {
			return nil, err
		}
		proofs[i] = proof
	}
	return proofs, nil
}

// VerifyProof checks a proof produced by Prove on a trie of the given height. For a membership
// claim value is the stored value; for a non-membership claim it is zero. Any inconsistency
// between the nodes, the key and the root makes the proof invalid.
func VerifyProof(root, key, value *felt.Felt, proof []Node, height uint8, hash crypto.HashFn) bool {
	if bitLen(key) > int(height) {
		return false
	}
	path := KeyPath(key, height)

	if len(proof) == 0 {
		return root.IsZero() && value.IsZero()
	}

	// Walk the key down the nodes: each node must consume steps of the key, and the last
	// node must either reach the leaf or diverge from the key.
	var depth uint8
	diverged := false
	for i, n := range proof {
		if diverged || depth >= height {
			return false
		}
		switch n := n.(type) {
		case *BinaryNode:
			depth++
		case *EdgeNode:
			length := n.Path.Len()
			if length == 0 || uint16(depth)+uint16(length) > uint16(height) {
				return false
			}
			if !path.Slice(depth, depth+length).Equal(n.Path) {
				if i != len(proof)-1 {
					return false
				}
				diverged = true
				continue
			}
			depth += length
		default:
			return false
		}
	}

	inclusion := !diverged
	if inclusion && depth != height {
		return false
	}
	if inclusion == value.IsZero() {
		return false
	}

	// Recompute hashes from the last node back to the root. Each node must be the child its
	// parent takes along the key.
	var expected felt.Felt
	if inclusion {
		expected = *value
	} else {
		expected = proof[len(proof)-1].Hash(hash)
	}
	depth = stepsBefore(proof, len(proof)-1)
	for i := len(proof) - 1; i >= 0; i-- {
		n := proof[i]
		if inclusion || i < len(proof)-1 {
			var child felt.Felt
			switch n := n.(type) {
			case *BinaryNode:
				child = n.Child(path.Bit(depth))
			case *EdgeNode:
				child = n.Child
			}
			if !child.Equal(&expected) {
				return false
			}
		}
		expected = n.Hash(hash)
		if i > 0 {
			depth -= proof[i-1].Len()
		}
	}
	return expected.Equal(root)
}

// stepsBefore returns the number of key steps consumed by proof[:i].
func stepsBefore(proof []Node, i int) uint8 {
	var depth uint8
	for _, n := range proof[:i] {
		depth += n.Len()
	}
	return depth
}

// VerifyProof checks a proof against this trie's height and hash function.
func (t *Trie) VerifyProof(root, key, value *felt.Felt, proof []Node) bool {
	return VerifyProof(root, key, value, proof, t.height, t.hash)
}
