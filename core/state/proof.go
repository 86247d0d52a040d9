package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/sourcegraph/conc/pool"
)

// BlockID selects a height: the head when Latest is set, Number otherwise.
type BlockID struct {
	Latest bool
	Number uint64
}

type ContractData struct {
	ClassHash                felt.Felt         `json:"class_hash"`
	Nonce                    felt.Felt         `json:"nonce"`
	Root                     felt.Felt         `json:"root"`
	ContractStateHashVersion felt.Felt         `json:"contract_state_hash_version"`
	StorageProofs            []trie.ProofNodes `json:"storage_proofs"`
}

// ProofResult proves a contract's leaf in the global contract trie and, when the contract
// exists, the requested slots of its storage trie.
type ProofResult struct {
	StateCommitment felt.Felt       `json:"state_commitment"`
	ClassCommitment felt.Felt       `json:"class_commitment"`
	ContractProof   trie.ProofNodes `json:"contract_proof"`
	ContractData    *ContractData   `json:"contract_data,omitempty"`
}

// GetProof builds the proof of contract and its storage keys at the selected height. The key
// limit and the keys themselves are checked before anything is read.
func (c *Chain) GetProof(ctx context.Context, id BlockID, contract *felt.Felt, keys []felt.Felt) (*ProofResult, error) {
	if requested := uint64(len(keys)); requested > c.proofKeyLimit {
		proofRequests.WithLabelValues("limit_exceeded").Inc()
		return nil, &ProofLimitExceededError{Limit: c.proofKeyLimit, Requested: requested}
	}
	for _, key := range append([]felt.Felt{*contract}, keys...) {
		if !trie.ValidKey(&key) {
			proofRequests.WithLabelValues("invalid_key").Inc()
			return nil, &trie.InvalidKeyError{Key: key, Height: trie.Height}
		}
	}

	result, err := c.getProof(ctx, id, contract, keys)
	switch {
	case err == nil:
		proofRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrBlockNotFound):
		proofRequests.WithLabelValues("block_not_found").Inc()
	case errors.Is(err, trie.ErrNodeNotFound):
		proofRequests.WithLabelValues("proof_missing").Inc()
		c.log.Warnw("Trie node missing while proving", "block", id.Number, "latest", id.Latest, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrProofMissing, err)
	default:
		proofRequests.WithLabelValues("error").Inc()
	}
	return result, err
}

func (c *Chain) getProof(ctx context.Context, id BlockID, contract *felt.Felt, keys []felt.Felt) (*ProofResult, error) {
	number := id.Number
	if id.Latest {
		var err error
		if number, err = c.Head(); err != nil {
			return nil, err
		}
	}

	roots, err := c.BlockRoots(number)
	if err != nil {
		return nil, err
	}

	contractProof, err := c.contracts.Prove(&roots.ContractsRoot, contract)
	if err != nil {
		return nil, err
	}
	result := &ProofResult{
		StateCommitment: roots.StateCommitment,
		ClassCommitment: roots.ClassesRoot,
		ContractProof:   contractProof.Nodes,
	}

	record, err := c.ContractAt(number, contract)
	if errors.Is(err, ErrContractNotFound) {
		return result, nil
	} else if err != nil {
		return nil, err
	}

	storageProofs, err := c.proveStorage(ctx, &record.StorageRoot, keys)
	if err != nil {
		return nil, err
	}
	result.ContractData = &ContractData{
		ClassHash:     record.ClassHash,
		Nonce:         record.Nonce,
		Root:          record.StorageRoot,
		StorageProofs: storageProofs,
	}
	return result, nil
}

// proveStorage proves keys under root on a bounded worker pool. The result is in key order.
func (c *Chain) proveStorage(ctx context.Context, root *felt.Felt, keys []felt.Felt) ([]trie.ProofNodes, error) {
	proofs := make([]trie.ProofNodes, len(keys))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(c.proofWorkers)
	for i := range keys {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			proof, err := c.storage.Prove(root, &keys[i])
			if err != nil {
				return err
			}
			proofs[i] = proof.Nodes
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return proofs, nil
}
