package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/db/lru"
)

// DefaultSpentCacheSize is the number of spent nullifiers kept by NewSpentCache
// when no size is given.
const DefaultSpentCacheSize = 4096

// SpentCache is a Ledger that remembers nullifiers known to be spent. A
// nullifier never goes back to unspent, so only positive answers are
// cached.
type SpentCache struct {
	Ledger
	spent *lru.Cache[common.Hash, struct{}]
}

var _ Ledger = (*SpentCache)(nil)

// NewSpentCache wraps l with a cache of up to size spent nullifiers.
func NewSpentCache(l Ledger, size int) *SpentCache {
	if size <= 0 {
		size = DefaultSpentCacheSize
	}
	return &SpentCache{Ledger: l, spent: lru.New[common.Hash, struct{}](size)}
}

// IsNullifierSpent implements Ledger.
func (c *SpentCache) IsNullifierSpent(ctx context.Context, nullifier common.Hash) (bool, error) {
	if c.spent.Contains(nullifier) {
		return true, nil
	}
	spent, err := c.Ledger.IsNullifierSpent(ctx, nullifier)
	if err != nil {
		return false, err
	}
	if spent {
		c.spent.Add(nullifier, struct{}{})
	}
	return spent, nil
}

// SubmitSpend implements Ledger.
func (c *SpentCache) SubmitSpend(ctx context.Context, noteHash, nullifier common.Hash,
	recipient common.Address, proof commitment.Proof,
) (*Receipt, error) {
	r, err := c.Ledger.SubmitSpend(ctx, noteHash, nullifier, recipient, proof)
	if err == nil || errors.Is(err, ErrAlreadySpent) {
		c.spent.Add(nullifier, struct{}{})
	}
	return r, err
}
