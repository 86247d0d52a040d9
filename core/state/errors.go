package state

import (
	"errors"
	"fmt"
)

var (
	ErrBlockNotFound           = errors.New("block not found")
	ErrProofMissing            = errors.New("proof missing")
	ErrContractNotFound        = errors.New("contract not found")
	ErrContractAlreadyDeployed = errors.New("contract already deployed")
	ErrUnexpectedHeight        = errors.New("unexpected block height")
)

// ProofLimitExceededError is returned when a proof request names more storage keys than allowed.
type ProofLimitExceededError struct {
	Limit     uint64
	Requested uint64
}

func (e *ProofLimitExceededError) Error() string {
	return fmt.Sprintf("proof limit exceeded: requested %d keys, limit is %d", e.Requested, e.Limit)
}
