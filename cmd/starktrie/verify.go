package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/NethermindEth/starktrie/core/crypto"
	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/spf13/cobra"
)

const (
	rootF  = "root"
	valueF = "value"
	proofF = "proof"
	hashF  = "hash"
)

var errInvalidProof = errors.New("proof is invalid")

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify --root ROOT --key KEY [--value VALUE] --proof FILE",
		Short: "Verify a trie proof offline",
		Long: `This subcommand checks a proof node list, such as one entry of storage_proofs, against a trie root.
A zero value checks that the key is absent. No database is opened.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().String(rootF, "", "Trie root the proof must lead to")
	cmd.Flags().String(keyF, "", "Proven key")
	cmd.Flags().String(valueF, "0x0", "Value stored under the key, zero for absence")
	cmd.Flags().String(proofF, "", "JSON file holding the proof nodes")
	cmd.Flags().String(hashF, "pedersen", "Trie hash function: pedersen (storage and contract tries) or poseidon (class trie)")
	for _, name := range []string{rootF, keyF, proofF} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		var values [3]felt.Felt
		for i, name := range []string{rootF, keyF, valueF} {
			var err error
			if values[i], err = feltFlag(cmd, name); err != nil {
				return err
			}
		}
		root, key, value := values[0], values[1], values[2]

		hashName, err := cmd.Flags().GetString(hashF)
		if err != nil {
			return err
		}
		var hash crypto.HashFn
		switch hashName {
		case "pedersen":
			hash = crypto.Pedersen
		case "poseidon":
			hash = crypto.Poseidon
		default:
			return fmt.Errorf("unknown hash %q", hashName)
		}

		proofPath, err := cmd.Flags().GetString(proofF)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(proofPath)
		if err != nil {
			return err
		}
		var nodes trie.ProofNodes
		if err = json.Unmarshal(data, &nodes); err != nil {
			return fmt.Errorf("decode proof: %w", err)
		}

		if !trie.VerifyProof(&root, &key, &value, nodes, trie.Height, hash) {
			return errInvalidProof
		}
		claim := "membership"
		if value.IsZero() {
			claim = "non-membership"
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "valid %s proof\n", claim)
		return err
	}
	return cmd
}
