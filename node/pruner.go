package node

import (
	"context"
	"time"

	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/utils"
)

// pruner periodically releases heights that fell out of the retention window and deletes
// the nodes nothing references anymore. Apply already does this after every block; the
// pruner catches up on whatever a failed pass left behind.
type pruner struct {
	chain    *state.Chain
	interval time.Duration
	log      utils.SimpleLogger
}

func (p *pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			pruned, err := p.chain.Prune()
			if err != nil {
				p.log.Warnw("Pruning failed", "err", err)
				continue
			}
			if pruned > 0 {
				p.log.Infow("Pruned trie nodes", "count", pruned, "took", time.Since(start))
			}
		}
	}
}
