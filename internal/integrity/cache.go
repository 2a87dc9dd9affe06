package integrity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
)

// Cache is the locally cached copy of the remote profile and its
// transactions. The sync engine feeds it and the startup check reads it.
//
// The cache is complete when its transaction list is known to be the
// profile's full history. Only a full snapshot (a refresh from the remote
// store, or a restore of a complete backup) makes it complete. Appending a
// confirmed transaction keeps it complete only while the cached profile is
// the one the transaction was applied to.
type Cache struct {
	kv storage.KV
	mu sync.Mutex
}

// NewCache returns a Cache stored in kv.
func NewCache(kv storage.KV) *Cache {
	return &Cache{kv: kv}
}

// Profile returns the cached profile, or nil when none is cached.
func (c *Cache) Profile(ctx context.Context) (*schema.Profile, error) {
	var p schema.Profile
	ok, err := storage.GetJSON(ctx, c.kv, storage.KeyCachedProfile, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// Transactions returns the cached transactions.
func (c *Cache) Transactions(ctx context.Context) ([]schema.Transaction, error) {
	var txs []schema.Transaction
	if _, err := storage.GetJSON(ctx, c.kv, storage.KeyCachedTransactions, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// Complete reports whether the cached transactions are the profile's full
// history.
func (c *Cache) Complete(ctx context.Context) (bool, error) {
	var complete bool
	if _, err := storage.GetJSON(ctx, c.kv, storage.KeyCacheComplete, &complete); err != nil {
		return false, err
	}
	return complete, nil
}

// Snapshot returns both cached records and the completeness flag.
func (c *Cache) Snapshot(ctx context.Context) (*schema.Profile, []schema.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.Profile(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	txs, err := c.Transactions(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	complete, err := c.Complete(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	return p, txs, complete, nil
}

// Load returns both cached records.
func (c *Cache) Load(ctx context.Context) (*schema.Profile, []schema.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.Profile(ctx)
	if err != nil {
		return nil, nil, err
	}
	txs, err := c.Transactions(ctx)
	if err != nil {
		return nil, nil, err
	}
	return p, txs, nil
}

// Replace overwrites the cache. A nil profile removes the cached profile.
// complete states whether txs is the profile's full history.
func (c *Cache) Replace(ctx context.Context, p *schema.Profile, txs []schema.Transaction, complete bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.replace(ctx, p, txs); err != nil {
		return err
	}
	return storage.SetJSON(ctx, c.kv, storage.KeyCacheComplete, complete)
}

func (c *Cache) replace(ctx context.Context, p *schema.Profile, txs []schema.Transaction) error {
	if p == nil {
		if err := c.kv.Remove(ctx, storage.KeyCachedProfile); err != nil {
			return err
		}
	} else if err := storage.SetJSON(ctx, c.kv, storage.KeyCachedProfile, p); err != nil {
		return err
	}
	if txs == nil {
		txs = []schema.Transaction{}
	}
	return storage.SetJSON(ctx, c.kv, storage.KeyCachedTransactions, txs)
}

// RecordApplied appends a confirmed transaction and stores the profile it
// produced. before is the remote profile the transaction was applied to;
// when the cached profile differs from it the remote changed out of band
// and the cache is marked partial.
func (c *Cache) RecordApplied(ctx context.Context, before, after schema.Profile, tx schema.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, err := c.Profile(ctx)
	if err != nil {
		return err
	}
	txs, err := c.Transactions(ctx)
	if err != nil {
		return err
	}
	complete, err := c.Complete(ctx)
	if err != nil {
		return err
	}

	if err := c.replace(ctx, &after, append(txs, tx)); err != nil {
		return err
	}
	if complete && (cached == nil || !sameTotals(*cached, before)) {
		return storage.SetJSON(ctx, c.kv, storage.KeyCacheComplete, false)
	}
	return nil
}

// Covers reports whether txs account for every total of p, i.e. whether
// they can serve as p's full history. A nil profile is covered by anything.
func Covers(p *schema.Profile, txs []schema.Transaction) bool {
	if p == nil {
		return true
	}
	if !finite(p.Balance) || !finite(p.TotalEarned) || !finite(p.TotalSpent) {
		return false
	}
	t := recompute(txs)
	near := func(v float64, want decimal.Decimal) bool {
		return decimal.NewFromFloat(v).Sub(want).Abs().LessThanOrEqual(tolerance)
	}
	return near(p.Balance, t.balance()) && near(p.TotalEarned, t.earned) && near(p.TotalSpent, t.spent)
}

func sameTotals(a, b schema.Profile) bool {
	near := func(x, y float64) bool {
		if !finite(x) || !finite(y) {
			return false
		}
		return decimal.NewFromFloat(x).Sub(decimal.NewFromFloat(y)).Abs().LessThanOrEqual(tolerance)
	}
	return a.ID == b.ID && near(a.Balance, b.Balance) &&
		near(a.TotalEarned, b.TotalEarned) && near(a.TotalSpent, b.TotalSpent)
}

var errPartialCache = errors.New("cached transactions are not the full history")

// ProfileRepairer performs FixRecomputeProfile.
type ProfileRepairer interface {
	RecomputeProfile(ctx context.Context) error
}

// CacheRepairer recomputes the cached profile from the cached transactions.
type CacheRepairer struct {
	Cache *Cache
}

// RecomputeProfile rewrites total_earned, total_spent and balance of the
// cached profile from the cached transaction list. The profile ID is kept.
func (r CacheRepairer) RecomputeProfile(ctx context.Context) error {
	r.Cache.mu.Lock()
	defer r.Cache.mu.Unlock()

	p, err := r.Cache.Profile(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("no cached profile to recompute")
	}
	complete, err := r.Cache.Complete(ctx)
	if err != nil {
		return err
	}
	if !complete {
		return errPartialCache
	}
	txs, err := r.Cache.Transactions(ctx)
	if err != nil {
		return err
	}

	t := recompute(txs)
	p.TotalEarned = t.earned.InexactFloat64()
	p.TotalSpent = t.spent.InexactFloat64()
	p.Balance = t.balance().InexactFloat64()

	return storage.SetJSON(ctx, r.Cache.kv, storage.KeyCachedProfile, p)
}

type totals struct {
	earned decimal.Decimal
	spent  decimal.Decimal
}

func (t totals) balance() decimal.Decimal {
	return t.earned.Sub(t.spent)
}

// recompute sums the transactions exactly. Records with an unknown type or
// a non-finite amount are skipped.
func recompute(txs []schema.Transaction) totals {
	t := totals{earned: decimal.Zero, spent: decimal.Zero}
	for _, tx := range txs {
		if !finite(tx.Amount) {
			continue
		}
		amount := decimal.NewFromFloat(tx.Amount)
		switch tx.Type {
		case schema.Earn:
			t.earned = t.earned.Add(amount)
		case schema.Spend:
			t.spent = t.spent.Add(amount)
		}
	}
	return t
}
