package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/db"
	"github.com/NethermindEth/starktrie/encoder"
)

// BlockRoots are the trie roots and commitment recorded for one height. The record holds one
// reference on each non-zero root until retention releases the height.
type BlockRoots struct {
	Number          uint64
	ProtocolVersion string
	Scheme          CommitmentScheme
	ContractsRoot   felt.Felt
	ClassesRoot     felt.Felt
	StateCommitment felt.Felt
}

// ContractRecord is the state of a contract from height Since until the next record of the
// same address. The record holds one reference on StorageRoot.
type ContractRecord struct {
	Since       uint64
	ClassHash   felt.Felt
	Nonce       felt.Felt
	StorageRoot felt.Felt
}

type reader interface {
	db.KeyValueReader
	db.Iterable
}

func blockRootsKey(number uint64) []byte {
	return db.BlockRoots.Key(db.Uint64(number))
}

// contractHistoryKey orders records of one address newest first, so seeking to a height
// lands on the latest record at or below it.
func contractHistoryKey(addr *felt.Felt, since uint64) []byte {
	addrBytes := addr.Bytes()
	return db.ContractHistory.Key(addrBytes[:], db.Uint64(^since))
}

func contractHistoryPrefix(addr *felt.Felt) []byte {
	addrBytes := addr.Bytes()
	return db.ContractHistory.Key(addrBytes[:])
}

func getBlockRoots(r db.KeyValueReader, number uint64) (*BlockRoots, error) {
	var roots BlockRoots
	err := r.Get(blockRootsKey(number), func(data []byte) error {
		return encoder.Unmarshal(data, &roots)
	})
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, ErrBlockNotFound
	}
	return &roots, err
}

func putBlockRoots(w db.KeyValueWriter, roots *BlockRoots) error {
	data, err := encoder.Marshal(roots)
	if err != nil {
		return err
	}
	return w.Put(blockRootsKey(roots.Number), data)
}

// getContractRecord returns the latest record of addr at or below height.
func getContractRecord(r reader, addr *felt.Felt, height uint64) (*ContractRecord, error) {
	it, err := r.NewIterator(contractHistoryPrefix(addr), true)
	if err != nil {
		return nil, err
	}

	record, err := seekContractRecord(it, contractHistoryKey(addr, height))
	if closeErr := it.Close(); err == nil {
		err = closeErr
	}
	return record, err
}

func seekContractRecord(it db.Iterator, key []byte) (*ContractRecord, error) {
	if !it.Seek(key) {
		return nil, ErrContractNotFound
	}

	data, err := it.Value()
	if err != nil {
		return nil, err
	}
	var record ContractRecord
	if err := encoder.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode contract record: %w", err)
	}
	return &record, nil
}

func putContractRecord(w db.KeyValueWriter, addr *felt.Felt, record *ContractRecord) error {
	data, err := encoder.Marshal(record)
	if err != nil {
		return err
	}
	return w.Put(contractHistoryKey(addr, record.Since), data)
}

func getJournal(r db.KeyValueReader, number uint64) ([]felt.Felt, error) {
	var addrs []felt.Felt
	err := r.Get(db.BlockJournal.Key(db.Uint64(number)), func(data []byte) error {
		return encoder.Unmarshal(data, &addrs)
	})
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, nil
	}
	return addrs, err
}

func putJournal(w db.KeyValueWriter, number uint64, addrs []felt.Felt) error {
	data, err := encoder.Marshal(addrs)
	if err != nil {
		return err
	}
	return w.Put(db.BlockJournal.Key(db.Uint64(number)), data)
}

// getUint64 reads a single counter record. ok is false when it was never written.
func getUint64(r db.KeyValueReader, key []byte) (value uint64, ok bool, err error) {
	err = r.Get(key, func(data []byte) error {
		if len(data) != 8 {
			return fmt.Errorf("counter %x has %d bytes", key, len(data))
		}
		value = binary.BigEndian.Uint64(data)
		return nil
	})
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, false, nil
	}
	return value, err == nil, err
}
