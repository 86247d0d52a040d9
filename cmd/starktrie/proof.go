package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/rpc"
	"github.com/spf13/cobra"
)

const (
	blockF    = "block"
	contractF = "contract"
	keyF      = "key"
)

func newProofCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof --contract ADDRESS [--block N|latest] [--key KEY]...",
		Short: "Print the pathfinder_getProof response of a contract",
		Long: `This subcommand proves a contract's leaf in the global contract trie and, when the contract
exists, the given keys of its storage trie. The response is printed as JSON.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().String(blockF, "latest", `Block number, or "latest"`)
	cmd.Flags().String(contractF, "", "Contract address")
	cmd.Flags().StringSlice(keyF, nil, "Storage key to prove, repeatable")
	if err := cmd.MarkFlagRequired(contractF); err != nil {
		panic(err)
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		id, contract, keys, err := proofArgs(cmd)
		if err != nil {
			return err
		}

		n, err := openNode(cmd, *cfgFile)
		if err != nil {
			return err
		}
		defer n.Close()

		result, rpcErr := n.RPC().PathfinderGetProof(cmd.Context(), id, contract, keys)
		if rpcErr != nil {
			return rpcErr
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return cmd
}

func proofArgs(cmd *cobra.Command) (rpc.BlockID, felt.Felt, []felt.Felt, error) {
	var id rpc.BlockID
	block, err := cmd.Flags().GetString(blockF)
	if err != nil {
		return id, felt.Felt{}, nil, err
	}
	if block == "latest" {
		id.Latest = true
	} else if id.Number, err = strconv.ParseUint(block, 10, 64); err != nil {
		return id, felt.Felt{}, nil, fmt.Errorf("invalid block %q: %w", block, err)
	}

	contract, err := feltFlag(cmd, contractF)
	if err != nil {
		return id, felt.Felt{}, nil, err
	}

	rawKeys, err := cmd.Flags().GetStringSlice(keyF)
	if err != nil {
		return id, felt.Felt{}, nil, err
	}
	keys := make([]felt.Felt, len(rawKeys))
	for i, raw := range rawKeys {
		if _, err = keys[i].SetString(raw); err != nil {
			return id, felt.Felt{}, nil, fmt.Errorf("invalid key %q: %w", raw, err)
		}
	}
	return id, contract, keys, nil
}

func feltFlag(cmd *cobra.Command, name string) (felt.Felt, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return felt.Felt{}, err
	}
	var f felt.Felt
	if _, err = f.SetString(raw); err != nil {
		return felt.Felt{}, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return f, nil
}
