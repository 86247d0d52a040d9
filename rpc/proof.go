package rpc

import (
	"context"
	"errors"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/NethermindEth/starktrie/jsonrpc"
)

// PathfinderGetProof returns the contract proof and the storage proofs of keys at the given block.
func (h *Handler) PathfinderGetProof(ctx context.Context, id BlockID, contract felt.Felt,
	keys []felt.Felt,
) (*state.ProofResult, *jsonrpc.Error) {
	result, err := h.proofs.GetProof(ctx, id.toState(), &contract, keys)
	if err != nil {
		return nil, h.proofError(err)
	}
	return result, nil
}

func (h *Handler) proofError(err error) *jsonrpc.Error {
	var limitErr *state.ProofLimitExceededError
	switch {
	case errors.As(err, &limitErr):
		return ErrProofLimitExceeded.CloneWithData(ProofLimitData{
			Limit:     limitErr.Limit,
			Requested: limitErr.Requested,
		})
	case errors.Is(err, state.ErrBlockNotFound):
		return ErrBlockNotFound
	case errors.Is(err, state.ErrProofMissing):
		return ErrProofMissing
	case errors.Is(err, trie.ErrInvalidKey):
		return jsonrpc.Err(jsonrpc.InvalidParams, err.Error())
	default:
		h.log.Errorw("Failed to build proof", "err", err)
		return ErrInternal.CloneWithData(err.Error())
	}
}
