package state

import (
	"slices"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/trie"
)

// BlockUpdate is the state difference introduced by one block. DeclaredClasses maps a class
// hash to its compiled class hash.
type BlockUpdate struct {
	BlockNumber       uint64                        `json:"block_number"`
	StarknetVersion   string                        `json:"starknet_version" validate:"omitempty,starknet_version"`
	StorageDiffs      map[felt.Felt][]trie.Mutation `json:"storage_diffs,omitempty" validate:"dive,keys,felt_key,endkeys,dive"`
	Nonces            map[felt.Felt]felt.Felt       `json:"nonces,omitempty" validate:"dive,keys,felt_key,endkeys"`
	DeployedContracts map[felt.Felt]felt.Felt       `json:"deployed_contracts,omitempty" validate:"dive,keys,felt_key,endkeys"`
	ReplacedClasses   map[felt.Felt]felt.Felt       `json:"replaced_classes,omitempty" validate:"dive,keys,felt_key,endkeys"`
	DeclaredClasses   map[felt.Felt]felt.Felt       `json:"declared_classes,omitempty" validate:"dive,keys,felt_key,endkeys"`
}

// touchedContracts returns every address the update changes, sorted.
func (u *BlockUpdate) touchedContracts() []felt.Felt {
	seen := make(map[felt.Felt]struct{})
	for addr := range u.StorageDiffs {
		seen[addr] = struct{}{}
	}
	for _, m := range []map[felt.Felt]felt.Felt{u.Nonces, u.DeployedContracts, u.ReplacedClasses} {
		for addr := range m {
			seen[addr] = struct{}{}
		}
	}

	addrs := make([]felt.Felt, 0, len(seen))
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b felt.Felt) int { return a.Cmp(&b) })
	return addrs
}

func (u *BlockUpdate) classMutations() []trie.Mutation {
	muts := make([]trie.Mutation, 0, len(u.DeclaredClasses))
	for classHash, compiled := range u.DeclaredClasses {
		muts = append(muts, trie.Mutation{Key: classHash, Value: compiled})
	}
	return muts
}
