package trie

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NethermindEth/starktrie/core/crypto"
	"github.com/NethermindEth/starktrie/core/felt"
)

// Node is an inner trie node: a *BinaryNode or an *EdgeNode. Leaves are never nodes, a leaf's
// hash is its value. Nodes are immutable once built.
type Node interface {
	Hash(hash crypto.HashFn) felt.Felt
	// Len is the number of path steps the node consumes.
	Len() uint8
	String() string
	json.Marshaler
}

var (
	_ Node = (*BinaryNode)(nil)
	_ Node = (*EdgeNode)(nil)
)

// BinaryNode branches on one key bit. Both children are always non-empty.
type BinaryNode struct {
	Left  felt.Felt
	Right felt.Felt
}

func (n *BinaryNode) Hash(hash crypto.HashFn) felt.Felt {
	return *hash(&n.Left, &n.Right)
}

func (n *BinaryNode) Len() uint8 { return 1 }

func (n *BinaryNode) String() string {
	return fmt.Sprintf("Binary{left: %s, right: %s}", n.Left.String(), n.Right.String())
}

// Child returns the child hash on the given side, 0 for left.
func (n *BinaryNode) Child(bit uint8) felt.Felt {
	if bit == 0 {
		return n.Left
	}
	return n.Right
}

// EdgeNode compresses a run of single-child steps into one path.
type EdgeNode struct {
	Child felt.Felt
	Path  Path
}

// Hash is H(child, path) + len, with field addition.
func (n *EdgeNode) Hash(hash crypto.HashFn) felt.Felt {
	pathFelt := n.Path.Felt()
	length := felt.FromUint64(uint64(n.Path.Len()))
	var res felt.Felt
	res.Add(hash(&n.Child, &pathFelt), &length)
	return res
}

func (n *EdgeNode) Len() uint8 { return n.Path.Len() }

func (n *EdgeNode) String() string {
	return fmt.Sprintf("Edge{child: %s, path: %s}", n.Child.String(), n.Path.BitString())
}

const (
	binaryTag byte = 0
	edgeTag   byte = 1
	// set when the node's children are leaf values rather than stored nodes
	leafFlag byte = 0x80
)

var errMalformedNode = errors.New("malformed node encoding")

// encodeNode serialises a node for the store.
//
//	binary: tag | left(32) | right(32)
//	edge:   tag | child(32) | path
func encodeNode(n Node, leafChildren bool) []byte {
	var buf bytes.Buffer
	var flag byte
	if leafChildren {
		flag = leafFlag
	}

	switch n := n.(type) {
	case *BinaryNode:
		buf.Grow(1 + 2*felt.Bytes)
		buf.WriteByte(binaryTag | flag)
		left, right := n.Left.Bytes(), n.Right.Bytes()
		buf.Write(left[:])
		buf.Write(right[:])
	case *EdgeNode:
		buf.Grow(1 + felt.Bytes + n.Path.encodedLen())
		buf.WriteByte(edgeTag | flag)
		child := n.Child.Bytes()
		buf.Write(child[:])
		// writes to a bytes.Buffer only fail on OOM, which panics
		_, _ = n.Path.write(&buf)
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
	return buf.Bytes()
}

// decodeNode is the inverse of encodeNode.
func decodeNode(data []byte) (Node, bool, error) {
	if len(data) == 0 {
		return nil, false, errMalformedNode
	}
	leafChildren := data[0]&leafFlag != 0
	body := data[1:]

	switch data[0] &^ leafFlag {
	case binaryTag:
		if len(body) != 2*felt.Bytes {
			return nil, false, fmt.Errorf("%w: binary node of %d bytes", errMalformedNode, len(data))
		}
		return &BinaryNode{
			Left:  felt.FromBytes(body[:felt.Bytes]),
			Right: felt.FromBytes(body[felt.Bytes:]),
		}, leafChildren, nil
	case edgeTag:
		if len(body) < felt.Bytes+1 {
			return nil, false, fmt.Errorf("%w: edge node of %d bytes", errMalformedNode, len(data))
		}
		n := &EdgeNode{Child: felt.FromBytes(body[:felt.Bytes])}
		if err := n.Path.UnmarshalBinary(body[felt.Bytes:]); err != nil {
			return nil, false, fmt.Errorf("%w: %w", errMalformedNode, err)
		}
		if n.Path.Len() == 0 {
			return nil, false, fmt.Errorf("%w: empty edge path", errMalformedNode)
		}
		return n, leafChildren, nil
	default:
		return nil, false, fmt.Errorf("%w: unknown tag %#x", errMalformedNode, data[0])
	}
}

type binaryJSON struct {
	Left  *felt.Felt `json:"left"`
	Right *felt.Felt `json:"right"`
}

type pathJSON struct {
	Value *felt.Felt `json:"value"`
	Len   uint8      `json:"len"`
}

type edgeJSON struct {
	Child *felt.Felt `json:"child"`
	Path  pathJSON   `json:"path"`
}

type nodeJSON struct {
	Binary *binaryJSON `json:"binary,omitempty"`
	Edge   *edgeJSON   `json:"edge,omitempty"`
}

func (n *BinaryNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeJSON{Binary: &binaryJSON{Left: &n.Left, Right: &n.Right}})
}

func (n *EdgeNode) MarshalJSON() ([]byte, error) {
	value := n.Path.Felt()
	return json.Marshal(nodeJSON{Edge: &edgeJSON{
		Child: &n.Child,
		Path:  pathJSON{Value: &value, Len: n.Path.Len()},
	}})
}

// UnmarshalNodeJSON decodes either JSON shape produced by MarshalJSON.
func UnmarshalNodeJSON(data []byte) (Node, error) {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch {
	case raw.Binary != nil && raw.Edge == nil:
		if raw.Binary.Left == nil || raw.Binary.Right == nil {
			return nil, errors.New("binary node needs left and right")
		}
		return &BinaryNode{Left: *raw.Binary.Left, Right: *raw.Binary.Right}, nil
	case raw.Edge != nil && raw.Binary == nil:
		if raw.Edge.Child == nil || raw.Edge.Path.Value == nil {
			return nil, errors.New("edge node needs child and path")
		}
		p := Path{len: raw.Edge.Path.Len}
		p.setBytes32(raw.Edge.Path.Value.Bytes())
		trimmed := p
		trimmed.truncate()
		if p.len == 0 || trimmed.words != p.words {
			return nil, fmt.Errorf("path value %s does not fit in %d bits", raw.Edge.Path.Value, p.len)
		}
		return &EdgeNode{Child: *raw.Edge.Child, Path: p}, nil
	default:
		return nil, errors.New("node must be exactly one of binary or edge")
	}
}
