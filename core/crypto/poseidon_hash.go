package crypto

import (
	junocrypto "github.com/NethermindEth/juno/core/crypto"
	junofelt "github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starktrie/core/felt"
)

// The Hades permutation and its round constants come from the juno node; values cross the
// package boundary as canonical 32-byte big-endian encodings.

func toJuno(f *felt.Felt) *junofelt.Felt {
	b := f.Bytes()
	return new(junofelt.Felt).SetBytes(b[:])
}

func fromJuno(f *junofelt.Felt) *felt.Felt {
	b := f.Bytes()
	return new(felt.Felt).SetBytes(b[:])
}

// Poseidon implements the [Poseidon hash].
//
// [Poseidon hash]: https://docs.starknet.io/documentation/architecture_and_concepts/Hashing/hash-functions/#poseidon_hash
func Poseidon(a, b *felt.Felt) *felt.Felt {
	return fromJuno(junocrypto.Poseidon(toJuno(a), toJuno(b)))
}

// PoseidonArray implements [Poseidon array hashing].
//
// [Poseidon array hashing]: https://docs.starknet.io/documentation/architecture_and_concepts/Hashing/hash-functions/#poseidon_array_hash
func PoseidonArray(elems ...*felt.Felt) *felt.Felt {
	converted := make([]*junofelt.Felt, len(elems))
	for i, e := range elems {
		converted[i] = toJuno(e)
	}
	return fromJuno(junocrypto.PoseidonArray(converted...))
}
