package state

import (
	"errors"
	"fmt"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/NethermindEth/starktrie/db"
)

// floorFor returns the lowest height that must stay available once head is applied.
func (c *Chain) floorFor(head uint64) uint64 {
	floor := c.floor.Load()
	if c.retention == 0 || head+1 <= c.retention {
		return floor
	}
	return max(floor, head+1-c.retention)
}

// raiseFloor publishes target as the floor ahead of releasing the heights below it. Readers
// check the floor again after reading, so a record deleted under them reads as a pruned height.
// The returned function restores the previous floor if the release is not committed.
func (c *Chain) raiseFloor(target uint64) (undo func()) {
	previous := c.floor.Load()
	c.floor.Store(target)
	return func() {
		c.floor.Store(previous)
	}
}

// releaseExpired moves the retention floor from floor up to target. Every reference held only
// on behalf of heights below target is released in txn: the block roots of those heights and the
// contract records that no retained height can see anymore. The released nodes become orphans
// for the next Store.Prune.
func (c *Chain) releaseExpired(txn *trie.Txn, floor, target uint64) error {
	if target <= floor {
		return nil
	}

	batch := txn.Batch()
	// A record of an address becomes invisible once a newer record of the same address is at
	// or below the floor. Journals name the addresses that got a newer record at each height.
	for number := floor + 1; number <= target; number++ {
		addrs, err := getJournal(batch, number)
		if err != nil {
			return err
		}
		for i := range addrs {
			if err := c.releaseSuperseded(txn, &addrs[i], number); err != nil {
				return fmt.Errorf("release contract %s at %d: %w", addrs[i].String(), number, err)
			}
		}
	}

	for number := floor; number < target; number++ {
		roots, err := getBlockRoots(batch, number)
		if err != nil {
			return fmt.Errorf("release block %d: %w", number, err)
		}
		for _, root := range []felt.Felt{roots.ContractsRoot, roots.ClassesRoot} {
			if err := release(txn, &root); err != nil {
				return fmt.Errorf("release block %d: %w", number, err)
			}
		}
		if err := batch.Delete(blockRootsKey(number)); err != nil {
			return err
		}
		if err := batch.Delete(db.BlockJournal.Key(db.Uint64(number))); err != nil {
			return err
		}
	}

	c.log.Debugw("Released expired heights", "from", floor, "to", target-1)
	return batch.Put(db.RetentionFloor.Key(), db.Uint64(target))
}

// releaseSuperseded drops the record of addr that the record written at number replaced.
func (c *Chain) releaseSuperseded(txn *trie.Txn, addr *felt.Felt, number uint64) error {
	if number == 0 {
		return nil
	}
	previous, err := getContractRecord(txn.Batch(), addr, number-1)
	if errors.Is(err, ErrContractNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if err := release(txn, &previous.StorageRoot); err != nil {
		return err
	}
	return txn.Batch().Delete(contractHistoryKey(addr, previous.Since))
}

func release(txn *trie.Txn, root *felt.Felt) error {
	if root.IsZero() {
		return nil
	}
	_, err := txn.DecRef(root, 1)
	return err
}

// Prune runs a retention pass against the current head and deletes every node no retained
// height references. It returns the number of deleted nodes.
func (c *Chain) Prune() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if head := c.head.Load(); head != nil {
		floor, target := c.floor.Load(), c.floorFor(*head)
		undo := c.raiseFloor(target)
		err := c.store.Update(func(txn *trie.Txn) error {
			return c.releaseExpired(txn, floor, target)
		})
		if err != nil {
			undo()
			return 0, err
		}
		retentionFloor.Set(float64(target))
	}
	return c.store.Prune()
}
