package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/NethermindEth/starktrie/db/memory"
	"github.com/NethermindEth/starktrie/utils"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// history writes blocks that keep rewriting the same few slots of two contracts.
func history(t *testing.T, blocks uint64) []*state.BlockUpdate {
	t.Helper()
	a, b := *utils.HexToFelt(t, "0xaaa"), *utils.HexToFelt(t, "0xbbb")
	class := *utils.HexToFelt(t, "0xc1a55")

	updates := []*state.BlockUpdate{{
		BlockNumber:       0,
		DeployedContracts: map[felt.Felt]felt.Felt{a: class, b: class},
	}}
	for i := uint64(1); i < blocks; i++ {
		update := &state.BlockUpdate{
			BlockNumber: i,
			StorageDiffs: map[felt.Felt][]trie.Mutation{
				a: {{Key: felt.FromUint64(i % 3), Value: felt.FromUint64(i)}},
			},
		}
		if i%2 == 0 {
			update.StorageDiffs[b] = []trie.Mutation{{Key: felt.FromUint64(i), Value: felt.FromUint64(i)}}
			update.Nonces = map[felt.Felt]felt.Felt{b: felt.FromUint64(i)}
		}
		updates = append(updates, update)
	}
	return updates
}

// flatten squashes updates into a single genesis block with the same final state.
func flatten(updates []*state.BlockUpdate) *state.BlockUpdate {
	out := &state.BlockUpdate{
		DeployedContracts: map[felt.Felt]felt.Felt{},
		Nonces:            map[felt.Felt]felt.Felt{},
		StorageDiffs:      map[felt.Felt][]trie.Mutation{},
	}
	for _, u := range updates {
		for addr, class := range u.DeployedContracts {
			out.DeployedContracts[addr] = class
		}
		for addr, nonce := range u.Nonces {
			out.Nonces[addr] = nonce
		}
		for addr, muts := range u.StorageDiffs {
			out.StorageDiffs[addr] = append(out.StorageDiffs[addr], muts...)
		}
	}
	return out
}

func TestRetentionKeepsWindow(t *testing.T) {
	const blocks, keep = 12, 3
	chain := newTestChain(t, memory.New(), state.WithRetention(keep))
	updates := history(t, blocks)

	// every retained height must answer the same as on a chain that keeps everything
	archive := newTestChain(t, memory.New())
	for _, u := range updates {
		_, err := chain.Apply(u)
		require.NoError(t, err)
		_, err = archive.Apply(u)
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(blocks-keep), chain.Floor())
	for number := range uint64(blocks) {
		want, err := archive.BlockRoots(number)
		require.NoError(t, err)

		got, err := chain.BlockRoots(number)
		if number < blocks-keep {
			require.ErrorIs(t, err, state.ErrBlockNotFound, "block %d", number)
			continue
		}
		require.NoError(t, err, "block %d", number)
		assert.Equal(t, want, got)

		for _, addr := range []string{"0xaaa", "0xbbb"} {
			wantRecord, err := archive.ContractAt(number, utils.HexToFelt(t, addr))
			require.NoError(t, err)
			gotRecord, err := chain.ContractAt(number, utils.HexToFelt(t, addr))
			require.NoError(t, err)
			assert.Equal(t, wantRecord, gotRecord)

			for key := range uint64(blocks) {
				k := felt.FromUint64(key)
				wantValue, err := archive.StorageAt(number, utils.HexToFelt(t, addr), &k)
				require.NoError(t, err)
				gotValue, err := chain.StorageAt(number, utils.HexToFelt(t, addr), &k)
				require.NoError(t, err)
				assert.Equal(t, wantValue, gotValue)
			}
		}
	}

	stats, err := chain.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Orphans)

	archiveStats, err := archive.Stats()
	require.NoError(t, err)
	assert.Less(t, stats.Nodes, archiveStats.Nodes)
}

func TestRetentionOfOneKeepsOnlyHead(t *testing.T) {
	updates := history(t, 10)

	chain := newTestChain(t, memory.New(), state.WithRetention(1))
	for _, u := range updates {
		_, err := chain.Apply(u)
		require.NoError(t, err)
	}

	// the nodes left are exactly those reachable from the head
	fresh := newTestChain(t, memory.New())
	roots, err := fresh.Apply(flatten(updates))
	require.NoError(t, err)

	head, err := chain.BlockRoots(9)
	require.NoError(t, err)
	assert.Equal(t, roots.StateCommitment, head.StateCommitment)

	stats, err := chain.Stats()
	require.NoError(t, err)
	freshStats, err := fresh.Stats()
	require.NoError(t, err)
	assert.Equal(t, freshStats.Nodes, stats.Nodes)
	assert.Zero(t, stats.Orphans)
}

func TestPruneCatchesUp(t *testing.T) {
	disk := memory.New()
	updates := history(t, 8)

	chain := newTestChain(t, disk)
	for _, u := range updates {
		_, err := chain.Apply(u)
		require.NoError(t, err)
	}
	pruned, err := chain.Prune()
	require.NoError(t, err)
	assert.Zero(t, pruned, "without retention nothing is released")

	// a later run with a retention window releases everything below it
	windowed := newTestChain(t, disk, state.WithRetention(2))
	pruned, err = windowed.Prune()
	require.NoError(t, err)
	assert.Positive(t, pruned)
	assert.Equal(t, uint64(6), windowed.Floor())

	_, err = windowed.BlockRoots(5)
	require.ErrorIs(t, err, state.ErrBlockNotFound)
	_, err = windowed.BlockRoots(6)
	require.NoError(t, err)

	pruned, err = windowed.Prune()
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestReadsRacingRetention(t *testing.T) {
	chain := newTestChain(t, memory.New(), state.WithRetention(1))
	addr := utils.HexToFelt(t, "0x11")
	class := *utils.HexToFelt(t, "0xc1a55")
	_, err := chain.Apply(&state.BlockUpdate{DeployedContracts: map[felt.Felt]felt.Felt{*addr: class}})
	require.NoError(t, err)

	const blocks = 500
	done := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() {
		defer close(done)
		for number := uint64(1); number <= blocks; number++ {
			_, err := chain.Apply(&state.BlockUpdate{
				BlockNumber: number,
				StorageDiffs: map[felt.Felt][]trie.Mutation{
					*addr: {{Key: felt.FromUint64(number % 4), Value: felt.FromUint64(number)}},
				},
			})
			if !assert.NoError(t, err) {
				return
			}
		}
	})

	// every answer is either the deployed contract or an unavailable height, never a missing contract
	for range 2 {
		wg.Go(func() {
			for {
				select {
				case <-done:
					return
				default:
				}

				head, err := chain.Head()
				if !assert.NoError(t, err) {
					return
				}

				record, err := chain.ContractAt(head, addr)
				if !errors.Is(err, state.ErrBlockNotFound) && assert.NoError(t, err, "block %d", head) {
					assert.Equal(t, class, record.ClassHash)
				}

				result, err := chain.GetProof(context.Background(), state.BlockID{Number: head}, addr, nil)
				if errors.Is(err, state.ErrBlockNotFound) || errors.Is(err, state.ErrProofMissing) {
					continue
				}
				if assert.NoError(t, err, "block %d", head) {
					assert.NotNil(t, result.ContractData, "block %d", head)
				}
			}
		})
	}
	wg.Wait()

	record, err := chain.ContractAt(blocks, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(blocks), record.Since)
}

func TestFailedApplyKeepsFloor(t *testing.T) {
	chain := newTestChain(t, memory.New(), state.WithRetention(2))
	for _, u := range history(t, 4) {
		_, err := chain.Apply(u)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(2), chain.Floor())

	// redeploying an existing contract fails inside the batch
	_, err := chain.Apply(&state.BlockUpdate{
		BlockNumber:       4,
		DeployedContracts: map[felt.Felt]felt.Felt{*utils.HexToFelt(t, "0xaaa"): felt.One},
	})
	require.ErrorIs(t, err, state.ErrContractAlreadyDeployed)
	assert.Equal(t, uint64(2), chain.Floor())

	_, err = chain.BlockRoots(2)
	require.NoError(t, err)
}
