package rpc

import "github.com/NethermindEth/starktrie/jsonrpc"

var (
	ErrBlockNotFound      = &jsonrpc.Error{Code: 24, Message: "Block not found"}
	ErrProofLimitExceeded = &jsonrpc.Error{Code: 10000, Message: "Too many keys requested"}
	ErrProofMissing       = &jsonrpc.Error{Code: 10001, Message: "Merkle trie proof is not available"}
	ErrInternal           = &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "Internal error"}
)

type ProofLimitData struct {
	Limit     uint64 `json:"limit"`
	Requested uint64 `json:"requested"`
}
