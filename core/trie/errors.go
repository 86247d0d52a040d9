package trie

import (
	"errors"
	"fmt"

	"github.com/NethermindEth/starktrie/core/felt"
)

var (
	ErrNodeNotFound      = errors.New("trie node not found")
	ErrInvalidKey        = errors.New("invalid trie key")
	ErrRefCountUnderflow = errors.New("reference count underflow")
	ErrCorruptNode       = errors.New("corrupt trie node")
)

// MissingNodeError is returned when a node referenced from a reachable parent is absent
// from the store. Within a retained version this means the store is corrupt.
type MissingNodeError struct {
	Hash felt.Felt
	Path Path // steps from the root to the missing node, empty for the root itself
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("missing trie node %s at path %s", e.Hash.String(), e.Path.BitString())
}

func (e *MissingNodeError) Unwrap() error {
	return ErrNodeNotFound
}

// InvalidKeyError reports a key that does not fit in the trie height.
type InvalidKeyError struct {
	Key    felt.Felt
	Height uint8
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("key %s exceeds %d bits", e.Key.String(), e.Height)
}

func (e *InvalidKeyError) Unwrap() error {
	return ErrInvalidKey
}
