package crypto

import (
	"github.com/NethermindEth/starktrie/core/felt"
	pedersenhash "github.com/consensys/gnark-crypto/ecc/stark-curve/pedersen-hash"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const pedersenCacheSize = 1 << 16

type pedersenKey struct {
	x, y felt.Felt
}

var pedersenCache, _ = lru.New[pedersenKey, felt.Felt](pedersenCacheSize)

var pedersenCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starktrie",
	Name:      "pedersen_cache_lookups",
	Help:      "Pedersen memo cache lookups by outcome",
}, []string{"hit"})

// Pedersen implements the [Pedersen hash].
//
// [Pedersen hash]: https://docs.starknet.io/documentation/develop/Hashing/hash-functions/#pedersen_hash
func Pedersen(a, b *felt.Felt) *felt.Felt {
	key := pedersenKey{x: *a, y: *b}
	if res, ok := pedersenCache.Get(key); ok {
		pedersenCacheLookups.WithLabelValues("true").Inc()
		return &res
	}

	hash := pedersenhash.Pedersen(a.Impl(), b.Impl())
	result := felt.NewFelt(&hash)
	pedersenCache.Add(key, *result)
	pedersenCacheLookups.WithLabelValues("false").Inc()
	return result
}
