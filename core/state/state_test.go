package state_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/NethermindEth/starktrie/core/crypto"
	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/NethermindEth/starktrie/db"
	"github.com/NethermindEth/starktrie/db/memory"
	"github.com/NethermindEth/starktrie/db/pebble"
	"github.com/NethermindEth/starktrie/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T, disk db.KeyValueStore, opts ...state.Option) *state.Chain {
	t.Helper()
	log := utils.NewNopZapLogger()
	store, err := trie.NewStore(disk, 0, log)
	require.NoError(t, err)
	chain, err := state.New(disk, store, log, opts...)
	require.NoError(t, err)
	return chain
}

func loadUpdate(t *testing.T, path string) *state.BlockUpdate {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var update state.BlockUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	return &update
}

func storageUpdate(number uint64, addr felt.Felt, muts ...trie.Mutation) *state.BlockUpdate {
	return &state.BlockUpdate{
		BlockNumber:  number,
		StorageDiffs: map[felt.Felt][]trie.Mutation{addr: muts},
	}
}

func TestMainnetBlock0(t *testing.T) {
	// See https://alpha-mainnet.starknet.io/feeder_gateway/get_state_update?blockNumber=0.
	update := loadUpdate(t, "testdata/mainnet_block0.json")
	want := utils.HexToFelt(t, "0x021870ba80540e7831fb21c591ee93481f5ae1bb71ff85a86ddd465be4eddee6")

	storageRoots := map[string]string{
		"0x735596016a37ee972c42adef6a3cf628c19bb3794369c65d2c82ba034aecf2c": "0x15c52969f4ae2ad48bf324e21b8c06ce8abcbc492263072a8de9c7f0bfa3c81",
		"0x20cfa74ee3564b4cd5435cdace0f9c4d43b939620e4a0bb5076105df0a626c6": "0x4532b9a656bd6074c2ddb1b884fb976eb055cd4d37e093448ce3f223864ccc4",
		"0x6ee3440b08a9c805305449ec7f7003f27e9f7e287b83610952ec36bdc5a6bae": "0x51c6b823cbf53c47ab7b34cddf1d9c0286fbb9d72ab29f2b577da0308cb1a07",
		"0x31c887d82502ceb218c06ebb46198da3f7b92864a8223746bc836dda3e34b52": "0x2eb33f71cbf096ea6b3a55ba19fb31efc31184caca6482bc89c7708c2cbb420",
		"0x31c9cdb9b00cb35cf31c05855c0ec3ecf6f7952a1ce6e3c53c3455fcd75a280": "0x6fe0662f4be66647b4508a53a08e13e7d1ffb2b19e93fa9dc991153f3a447d",
	}

	backends := map[string]func(t *testing.T) db.KeyValueStore{
		"memory": func(t *testing.T) db.KeyValueStore { return memory.New() },
		"pebble": func(t *testing.T) db.KeyValueStore { return pebble.NewMemTest(t) },
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			chain := newTestChain(t, backend(t))

			roots, err := chain.Apply(update)
			require.NoError(t, err)
			assert.Equal(t, *want, roots.StateCommitment)
			assert.Equal(t, *want, roots.ContractsRoot)
			assert.True(t, roots.ClassesRoot.IsZero())
			assert.Equal(t, state.SchemeV0, roots.Scheme)

			for addr, root := range storageRoots {
				record, err := chain.ContractAt(0, utils.HexToFelt(t, addr))
				require.NoError(t, err)
				assert.Equal(t, *utils.HexToFelt(t, root), record.StorageRoot, addr)
				assert.Equal(t, update.DeployedContracts[*utils.HexToFelt(t, addr)], record.ClassHash)
			}

			value, err := chain.StorageAt(0,
				utils.HexToFelt(t, "0x20cfa74ee3564b4cd5435cdace0f9c4d43b939620e4a0bb5076105df0a626c6"),
				utils.HexToFelt(t, "0x5aee31408163292105d875070f98cb48275b8c87e80380b78d30647e05854d5"))
			require.NoError(t, err)
			assert.Equal(t, felt.FromUint64(0x7e5), value)

			head, err := chain.Head()
			require.NoError(t, err)
			assert.Equal(t, uint64(0), head)
		})
	}
}

func TestApplyHeights(t *testing.T) {
	chain := newTestChain(t, memory.New())
	addr := *utils.HexToFelt(t, "0x1")

	_, err := chain.Head()
	require.ErrorIs(t, err, state.ErrBlockNotFound)

	_, err = chain.Apply(storageUpdate(1, addr))
	require.ErrorIs(t, err, state.ErrUnexpectedHeight)

	_, err = chain.Apply(storageUpdate(0, addr))
	require.NoError(t, err)
	_, err = chain.Apply(storageUpdate(0, addr))
	require.ErrorIs(t, err, state.ErrUnexpectedHeight)
	_, err = chain.Apply(storageUpdate(2, addr))
	require.ErrorIs(t, err, state.ErrUnexpectedHeight)
	_, err = chain.Apply(storageUpdate(1, addr))
	require.NoError(t, err)
}

func TestApplyIsAtomic(t *testing.T) {
	chain := newTestChain(t, memory.New())
	addr := *utils.HexToFelt(t, "0x1234")

	_, err := chain.Apply(storageUpdate(0, addr, trie.Mutation{Key: felt.FromUint64(1), Value: felt.FromUint64(2)}))
	require.NoError(t, err)
	before, err := chain.Stats()
	require.NoError(t, err)

	bad := storageUpdate(1, addr, trie.Mutation{Key: felt.FromUint64(3), Value: felt.FromUint64(4)})
	bad.StorageDiffs[*utils.HexToFelt(t, "0x99")] = []trie.Mutation{{
		Key:   *utils.HexToFelt(t, "0x800000000000000000000000000000000000000000000000000000000000000"),
		Value: felt.One,
	}}
	_, err = chain.Apply(bad)
	require.ErrorIs(t, err, trie.ErrInvalidKey)

	after, err := chain.Stats()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = chain.BlockRoots(1)
	require.ErrorIs(t, err, state.ErrBlockNotFound)

	// the same height can be applied once fixed
	delete(bad.StorageDiffs, *utils.HexToFelt(t, "0x99"))
	_, err = chain.Apply(bad)
	require.NoError(t, err)
}

func TestContractHistory(t *testing.T) {
	chain := newTestChain(t, memory.New())
	addr := utils.HexToFelt(t, "0xabc")
	classA, classB := utils.HexToFelt(t, "0xa"), utils.HexToFelt(t, "0xb")
	key := felt.FromUint64(7)

	_, err := chain.Apply(&state.BlockUpdate{
		BlockNumber:       0,
		DeployedContracts: map[felt.Felt]felt.Felt{*addr: *classA},
		StorageDiffs:      map[felt.Felt][]trie.Mutation{*addr: {{Key: key, Value: felt.FromUint64(1)}}},
	})
	require.NoError(t, err)
	_, err = chain.Apply(&state.BlockUpdate{BlockNumber: 1, Nonces: map[felt.Felt]felt.Felt{*addr: felt.One}})
	require.NoError(t, err)
	_, err = chain.Apply(&state.BlockUpdate{
		BlockNumber:     2,
		ReplacedClasses: map[felt.Felt]felt.Felt{*addr: *classB},
		StorageDiffs:    map[felt.Felt][]trie.Mutation{*addr: {{Key: key, Value: felt.FromUint64(2)}}},
	})
	require.NoError(t, err)
	_, err = chain.Apply(&state.BlockUpdate{BlockNumber: 3})
	require.NoError(t, err)

	tests := []struct {
		number uint64
		class  *felt.Felt
		nonce  uint64
		value  uint64
	}{
		{number: 0, class: classA, nonce: 0, value: 1},
		{number: 1, class: classA, nonce: 1, value: 1},
		{number: 2, class: classB, nonce: 1, value: 2},
		{number: 3, class: classB, nonce: 1, value: 2},
	}
	for _, test := range tests {
		record, err := chain.ContractAt(test.number, addr)
		require.NoError(t, err)
		assert.Equal(t, *test.class, record.ClassHash, "block %d", test.number)
		assert.Equal(t, felt.FromUint64(test.nonce), record.Nonce, "block %d", test.number)

		value, err := chain.StorageAt(test.number, addr, &key)
		require.NoError(t, err)
		assert.Equal(t, felt.FromUint64(test.value), value, "block %d", test.number)
	}

	_, err = chain.ContractAt(3, utils.HexToFelt(t, "0xdef"))
	require.ErrorIs(t, err, state.ErrContractNotFound)
	_, err = chain.ContractAt(4, addr)
	require.ErrorIs(t, err, state.ErrBlockNotFound)

	t.Run("deploying twice", func(t *testing.T) {
		_, err := chain.Apply(&state.BlockUpdate{
			BlockNumber:       4,
			DeployedContracts: map[felt.Felt]felt.Felt{*addr: *classA},
		})
		require.ErrorIs(t, err, state.ErrContractAlreadyDeployed)
	})
}

func TestDeclaredClasses(t *testing.T) {
	classHash := utils.HexToFelt(t, "0x123")
	compiled := utils.HexToFelt(t, "0x456")
	declare := func(number uint64, version string) *state.BlockUpdate {
		return &state.BlockUpdate{
			BlockNumber:     number,
			StarknetVersion: version,
			DeclaredClasses: map[felt.Felt]felt.Felt{*classHash: *compiled},
		}
	}

	t.Run("before 0.11.0", func(t *testing.T) {
		chain := newTestChain(t, memory.New())
		_, err := chain.Apply(declare(0, "0.10.3"))
		require.ErrorIs(t, err, state.ErrClassTrieBeforeV011)
	})

	t.Run("from 0.11.0", func(t *testing.T) {
		chain := newTestChain(t, memory.New())
		_, err := chain.Apply(&state.BlockUpdate{BlockNumber: 0, StarknetVersion: "0.10.3"})
		require.NoError(t, err)

		roots, err := chain.Apply(declare(1, "0.11.0"))
		require.NoError(t, err)
		assert.Equal(t, state.SchemeV1, roots.Scheme)

		leaf, err := state.SchemeV1.ClassLeaf(compiled)
		require.NoError(t, err)
		edge := &trie.EdgeNode{Child: leaf, Path: trie.KeyPath(classHash, trie.Height)}
		assert.Equal(t, edge.Hash(crypto.Poseidon), roots.ClassesRoot)

		want, err := state.SchemeV1.StateCommitment(&roots.ContractsRoot, &roots.ClassesRoot)
		require.NoError(t, err)
		assert.Equal(t, want, roots.StateCommitment)
	})
}

func TestChainReopen(t *testing.T) {
	disk := memory.New()
	chain := newTestChain(t, disk, state.WithRetention(2))
	addr := *utils.HexToFelt(t, "0x1")
	for i := range uint64(4) {
		_, err := chain.Apply(storageUpdate(i, addr, trie.Mutation{Key: felt.One, Value: felt.FromUint64(i + 1)}))
		require.NoError(t, err)
	}

	reopened := newTestChain(t, disk, state.WithRetention(2))
	head, err := reopened.Head()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), head)
	assert.Equal(t, uint64(2), reopened.Floor())

	_, err = reopened.Apply(storageUpdate(4, addr))
	require.NoError(t, err)
}

func TestFollow(t *testing.T) {
	chain := newTestChain(t, memory.New())
	addr := *utils.HexToFelt(t, "0x1")

	updates := make(chan *state.BlockUpdate, 3)
	for i := range uint64(3) {
		updates <- storageUpdate(i, addr, trie.Mutation{Key: felt.FromUint64(i), Value: felt.One})
	}
	close(updates)
	require.NoError(t, chain.Follow(context.Background(), updates))

	head, err := chain.Head()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), head)

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, chain.Follow(ctx, make(chan *state.BlockUpdate)), context.Canceled)
	})

	t.Run("failing update", func(t *testing.T) {
		updates := make(chan *state.BlockUpdate, 1)
		updates <- storageUpdate(7, addr)
		require.ErrorIs(t, chain.Follow(context.Background(), updates), state.ErrUnexpectedHeight)
	})
}
