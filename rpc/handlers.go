package rpc

import (
	"context"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/utils"
)

//go:generate mockgen -destination=../mocks/mock_proof_provider.go -package=mocks github.com/NethermindEth/starktrie/rpc ProofProvider
type ProofProvider interface {
	GetProof(ctx context.Context, id state.BlockID, contract *felt.Felt, keys []felt.Felt) (*state.ProofResult, error)
}

type Handler struct {
	proofs ProofProvider
	log    utils.SimpleLogger
}

func New(proofs ProofProvider, log utils.SimpleLogger) *Handler {
	return &Handler{
		proofs: proofs,
		log:    log,
	}
}
