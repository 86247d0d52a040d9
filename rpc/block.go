package rpc

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/NethermindEth/starktrie/core/state"
)

// BlockID is either the string "latest" or an object {"block_number": n}.
type BlockID struct {
	Latest bool
	Number uint64
}

func (b *BlockID) UnmarshalJSON(data []byte) error {
	if string(data) == `"latest"` {
		*b = BlockID{Latest: true}
		return nil
	}

	var id struct {
		Number *uint64 `json:"block_number"`
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id.Number == nil {
		return errors.New(`block id must be "latest" or {"block_number": n}`)
	}
	*b = BlockID{Number: *id.Number}
	return nil
}

func (b BlockID) MarshalJSON() ([]byte, error) {
	if b.Latest {
		return []byte(`"latest"`), nil
	}
	return []byte(`{"block_number":` + strconv.FormatUint(b.Number, 10) + `}`), nil
}

func (b BlockID) toState() state.BlockID {
	return state.BlockID{Latest: b.Latest, Number: b.Number}
}
