package state

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/NethermindEth/starktrie/core/crypto"
	"github.com/NethermindEth/starktrie/core/felt"
)

var (
	stateVersion = new(felt.Felt).SetBytes([]byte(`STARKNET_STATE_V0`))
	leafVersion  = new(felt.Felt).SetBytes([]byte(`CONTRACT_CLASS_LEAF_V0`))

	// Ver0_11_0 introduced the class trie and the Poseidon state commitment.
	Ver0_11_0 = semver.MustParse("0.11.0")
)

var (
	ErrClassTrieBeforeV011 = errors.New("class trie is not part of the state commitment before 0.11.0")
	ErrUnknownScheme       = errors.New("unknown commitment scheme")
)

// ParseProtocolVersion computes the block version, defaulting to "0.0.0" for empty strings
func ParseProtocolVersion(protocolVersion string) (*semver.Version, error) {
	if protocolVersion == "" {
		return semver.NewVersion("0.0.0")
	}

	sep := "."
	digits := strings.Split(protocolVersion, sep)
	// pad with 3 zeros in case version has less than 3 digits
	digits = append(digits, []string{"0", "0", "0"}...)

	// get first 3 digits only
	return semver.NewVersion(strings.Join(digits[:3], sep))
}

// CommitmentScheme names one rule for folding trie roots into a state commitment.
// Every block carries the scheme of its protocol version; rules are never chosen globally.
type CommitmentScheme uint8

const (
	// SchemeV0: the state commitment is the contract trie root. No class trie.
	SchemeV0 CommitmentScheme = iota
	// SchemeV1: Poseidon over the contract and class trie roots, unless the class trie is empty.
	SchemeV1
)

// SchemeFor returns the scheme in force at the given protocol version.
func SchemeFor(version *semver.Version) CommitmentScheme {
	if version.LessThan(Ver0_11_0) {
		return SchemeV0
	}
	return SchemeV1
}

func (s CommitmentScheme) String() string {
	switch s {
	case SchemeV0:
		return "v0"
	case SchemeV1:
		return "v1"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ContractLeaf is the value stored for a contract in the global contract trie.
func (s CommitmentScheme) ContractLeaf(classHash, storageRoot, nonce *felt.Felt) (felt.Felt, error) {
	switch s {
	case SchemeV0, SchemeV1:
		return *crypto.Pedersen(crypto.Pedersen(crypto.Pedersen(classHash, storageRoot), nonce), &felt.Zero), nil
	default:
		return felt.Zero, ErrUnknownScheme
	}
}

// ClassLeaf is the value stored for a declared class in the class trie.
func (s CommitmentScheme) ClassLeaf(compiledClassHash *felt.Felt) (felt.Felt, error) {
	switch s {
	case SchemeV0:
		return felt.Zero, ErrClassTrieBeforeV011
	case SchemeV1:
		// https://docs.starknet.io/documentation/starknet_versions/upcoming_versions/#commitment
		return *crypto.Poseidon(leafVersion, compiledClassHash), nil
	default:
		return felt.Zero, ErrUnknownScheme
	}
}

// StateCommitment folds the global contract root and the class root into the block's commitment.
func (s CommitmentScheme) StateCommitment(contractsRoot, classesRoot *felt.Felt) (felt.Felt, error) {
	switch s {
	case SchemeV0:
		if !classesRoot.IsZero() {
			return felt.Zero, ErrClassTrieBeforeV011
		}
		return *contractsRoot, nil
	case SchemeV1:
		if classesRoot.IsZero() {
			return *contractsRoot, nil
		}
		return *crypto.PoseidonArray(stateVersion, contractsRoot, classesRoot), nil
	default:
		return felt.Zero, ErrUnknownScheme
	}
}
