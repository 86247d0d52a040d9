package memory

import (
	"errors"
	"slices"
	"sort"

	"github.com/NethermindEth/starktrie/db"
)

var _ db.Iterator = (*iterator)(nil)

type iterator struct {
	curInd int
	keys   []string
	values [][]byte
	closed bool
}

func (i *iterator) Valid() bool {
	return !i.closed && i.curInd >= 0 && i.curInd < len(i.keys)
}

func (i *iterator) First() bool {
	i.curInd = 0
	return i.Valid()
}

func (i *iterator) Next() bool {
	if i.curInd < len(i.keys) {
		i.curInd++
	}
	return i.Valid()
}

func (i *iterator) Key() []byte {
	if !i.Valid() {
		return nil
	}

	return []byte(i.keys[i.curInd])
}

func (i *iterator) Value() ([]byte, error) {
	if i.closed {
		return nil, errIteratorClosed
	}
	if !i.Valid() {
		return nil, errors.New("iterator is not valid")
	}

	return slices.Clone(i.values[i.curInd]), nil
}

func (i *iterator) Seek(key []byte) bool {
	i.curInd = sort.SearchStrings(i.keys, string(key))
	return i.Valid()
}

func (i *iterator) Close() error {
	i.closed = true
	i.keys = nil
	i.values = nil
	return nil
}
