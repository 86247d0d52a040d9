package crypto

import "github.com/NethermindEth/starktrie/core/felt"

// HashFn is a two-to-one hash over field elements. Tries are parameterised by one.
type HashFn func(a, b *felt.Felt) *felt.Felt
