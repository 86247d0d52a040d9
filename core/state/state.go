package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/NethermindEth/starktrie/db"
	"github.com/NethermindEth/starktrie/utils"
)

const DefaultProofKeyLimit = 10_000

type Option func(*Chain)

// WithRetention keeps the state of the last blocks heights and releases everything older.
// Zero keeps every height.
func WithRetention(blocks uint64) Option {
	return func(c *Chain) {
		c.retention = blocks
	}
}

func WithProofKeyLimit(limit uint64) Option {
	return func(c *Chain) {
		c.proofKeyLimit = limit
	}
}

func WithProofWorkers(workers int) Option {
	return func(c *Chain) {
		c.proofWorkers = max(workers, 1)
	}
}

// Chain maintains the Starknet state tries block by block. Every applied height keeps its
// own roots: the global contract trie, the class trie and one storage trie per contract,
// all sharing unchanged subtrees in one node store.
type Chain struct {
	disk      db.KeyValueStore
	store     *trie.Store
	contracts *trie.Trie
	storage   *trie.Trie
	classes   *trie.Trie
	log       utils.SimpleLogger

	retention     uint64
	proofKeyLimit uint64
	proofWorkers  int

	mu    sync.Mutex // one writer: Apply and Prune
	head  atomic.Pointer[uint64]
	floor atomic.Uint64
}

func New(disk db.KeyValueStore, store *trie.Store, log utils.SimpleLogger, opts ...Option) (*Chain, error) {
	c := &Chain{
		disk:          disk,
		store:         store,
		contracts:     trie.NewPedersen(store),
		storage:       trie.NewPedersen(store),
		classes:       trie.NewPoseidon(store),
		log:           log,
		proofKeyLimit: DefaultProofKeyLimit,
		proofWorkers:  1,
	}
	for _, opt := range opts {
		opt(c)
	}

	head, ok, err := getUint64(disk, db.ChainHeight.Key())
	if err != nil {
		return nil, fmt.Errorf("read chain height: %w", err)
	}
	if ok {
		c.head.Store(&head)
		chainHead.Set(float64(head))
	}

	floor, _, err := getUint64(disk, db.RetentionFloor.Key())
	if err != nil {
		return nil, fmt.Errorf("read retention floor: %w", err)
	}
	c.floor.Store(floor)
	retentionFloor.Set(float64(floor))
	return c, nil
}

// Store returns the node store shared by every trie of the chain.
func (c *Chain) Store() *trie.Store {
	return c.store
}

// Head returns the height of the last applied block, ErrBlockNotFound before the first one.
func (c *Chain) Head() (uint64, error) {
	head := c.head.Load()
	if head == nil {
		return 0, ErrBlockNotFound
	}
	return *head, nil
}

// ProofWorkers returns the number of storage proofs GetProof builds concurrently.
func (c *Chain) ProofWorkers() int {
	return c.proofWorkers
}

// Floor returns the lowest retained height.
func (c *Chain) Floor() uint64 {
	return c.floor.Load()
}

func (c *Chain) nextHeight() uint64 {
	if head := c.head.Load(); head != nil {
		return *head + 1
	}
	return 0
}

// retained reports whether the state at number is still available.
func (c *Chain) retained(number uint64) bool {
	head := c.head.Load()
	return head != nil && number <= *head && number >= c.floor.Load()
}

// BlockRoots returns the roots recorded for a retained height.
func (c *Chain) BlockRoots(number uint64) (*BlockRoots, error) {
	if !c.retained(number) {
		return nil, ErrBlockNotFound
	}
	return getBlockRoots(c.disk, number)
}

// ContractAt returns the state of a contract as of a retained height.
func (c *Chain) ContractAt(number uint64, addr *felt.Felt) (*ContractRecord, error) {
	if !c.retained(number) {
		return nil, ErrBlockNotFound
	}
	record, err := getContractRecord(c.disk, addr, number)
	// retention may have deleted the record while it was read
	if !c.retained(number) {
		return nil, ErrBlockNotFound
	}
	return record, err
}

// StorageAt returns the value of a storage slot as of a retained height, zero if never set.
func (c *Chain) StorageAt(number uint64, addr, key *felt.Felt) (felt.Felt, error) {
	record, err := c.ContractAt(number, addr)
	if err != nil {
		return felt.Zero, err
	}
	return c.storage.Get(&record.StorageRoot, key)
}

// Apply applies the next block. Either every change of the block is committed and the new
// roots become visible, or nothing is.
func (c *Chain) Apply(update *BlockUpdate) (*BlockRoots, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if expected := c.nextHeight(); update.BlockNumber != expected {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnexpectedHeight, update.BlockNumber, expected)
	}

	version, err := ParseProtocolVersion(update.StarknetVersion)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", update.BlockNumber, err)
	}
	scheme := SchemeFor(version)

	var (
		roots         *BlockRoots
		floor, target = c.floor.Load(), c.floorFor(update.BlockNumber)
	)
	undo := c.raiseFloor(target)
	err = c.store.Update(func(txn *trie.Txn) error {
		var err error
		if roots, err = c.applyBlock(txn, update, scheme); err != nil {
			return err
		}
		return c.releaseExpired(txn, floor, target)
	})
	if err != nil {
		undo()
		return nil, fmt.Errorf("apply block %d: %w", update.BlockNumber, err)
	}

	number := update.BlockNumber
	c.head.Store(&number)

	blocksApplied.Inc()
	chainHead.Set(float64(number))
	retentionFloor.Set(float64(target))
	blockApplyDuration.Observe(time.Since(start).Seconds())
	c.log.Debugw("Applied block", "number", number, "stateCommitment", roots.StateCommitment.String(),
		"scheme", roots.Scheme.String())

	if c.retention > 0 {
		if _, err := c.store.Prune(); err != nil {
			// orphans stay recorded, the next pass picks them up
			c.log.Errorw("Failed to prune trie nodes", "err", err)
		}
	}
	return roots, nil
}

func (c *Chain) applyBlock(txn *trie.Txn, update *BlockUpdate, scheme CommitmentScheme) (*BlockRoots, error) {
	batch := txn.Batch()
	number := update.BlockNumber

	prev := new(BlockRoots)
	if number > 0 {
		var err error
		if prev, err = getBlockRoots(batch, number-1); err != nil {
			return nil, fmt.Errorf("parent roots: %w", err)
		}
	}

	touched := update.touchedContracts()
	contractMuts := make([]trie.Mutation, 0, len(touched))
	for i := range touched {
		addr := &touched[i]
		record, err := c.nextContractRecord(txn, addr, update)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", addr.String(), err)
		}
		leaf, err := scheme.ContractLeaf(&record.ClassHash, &record.StorageRoot, &record.Nonce)
		if err != nil {
			return nil, err
		}
		if err := putContractRecord(batch, addr, record); err != nil {
			return nil, err
		}
		contractMuts = append(contractMuts, trie.Mutation{Key: *addr, Value: leaf})
	}

	contractsRoot, err := c.contracts.ApplyTxn(txn, prev.ContractsRoot, contractMuts)
	if err != nil {
		return nil, fmt.Errorf("contract trie: %w", err)
	}

	classMuts := update.classMutations()
	for i := range classMuts {
		if classMuts[i].Value, err = scheme.ClassLeaf(&classMuts[i].Value); err != nil {
			return nil, fmt.Errorf("class %s: %w", classMuts[i].Key.String(), err)
		}
	}
	classesRoot, err := c.classes.ApplyTxn(txn, prev.ClassesRoot, classMuts)
	if err != nil {
		return nil, fmt.Errorf("class trie: %w", err)
	}

	commitment, err := scheme.StateCommitment(&contractsRoot, &classesRoot)
	if err != nil {
		return nil, err
	}

	roots := &BlockRoots{
		Number:          number,
		ProtocolVersion: update.StarknetVersion,
		Scheme:          scheme,
		ContractsRoot:   contractsRoot,
		ClassesRoot:     classesRoot,
		StateCommitment: commitment,
	}
	if err := putBlockRoots(batch, roots); err != nil {
		return nil, err
	}
	if err := putJournal(batch, number, touched); err != nil {
		return nil, err
	}
	return roots, batch.Put(db.ChainHeight.Key(), db.Uint64(number))
}

// nextContractRecord derives the record of addr at the update's height. Addresses that were
// never deployed, such as system contracts, start from an empty record with class hash zero.
func (c *Chain) nextContractRecord(txn *trie.Txn, addr *felt.Felt, update *BlockUpdate) (*ContractRecord, error) {
	current, err := getContractRecord(txn.Batch(), addr, update.BlockNumber)
	exists := err == nil
	if errors.Is(err, ErrContractNotFound) {
		current = new(ContractRecord)
	} else if err != nil {
		return nil, err
	}

	next := &ContractRecord{
		Since:     update.BlockNumber,
		ClassHash: current.ClassHash,
		Nonce:     current.Nonce,
	}
	if classHash, ok := update.DeployedContracts[*addr]; ok {
		if exists {
			return nil, ErrContractAlreadyDeployed
		}
		next.ClassHash = classHash
	}
	if classHash, ok := update.ReplacedClasses[*addr]; ok {
		next.ClassHash = classHash
	}
	if nonce, ok := update.Nonces[*addr]; ok {
		next.Nonce = nonce
	}

	// the new record owns the reference returned here, the old record keeps its own
	next.StorageRoot, err = c.storage.ApplyTxn(txn, current.StorageRoot, update.StorageDiffs[*addr])
	if err != nil {
		return nil, fmt.Errorf("storage trie: %w", err)
	}
	return next, nil
}

// Follow applies updates in order until the channel is closed, ctx is done or an update fails.
func (c *Chain) Follow(ctx context.Context, updates <-chan *BlockUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if _, err := c.Apply(update); err != nil {
				return err
			}
		}
	}
}

type ChainStats struct {
	Head    *uint64
	Floor   uint64
	Nodes   int
	Orphans int
}

func (c *Chain) Stats() (ChainStats, error) {
	stats, err := c.store.Stats()
	if err != nil {
		return ChainStats{}, err
	}
	return ChainStats{
		Head:    c.head.Load(),
		Floor:   c.floor.Load(),
		Nodes:   stats.Nodes,
		Orphans: stats.Orphans,
	}, nil
}
