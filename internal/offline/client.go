// Package offline is the caller-facing API of offsync. A Client wires the
// queue, network monitor, sync engine and integrity service over one local
// store and one remote store.
package offline

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mschirtzinger/offsync/internal/integrity"
	"github.com/mschirtzinger/offsync/internal/network"
	"github.com/mschirtzinger/offsync/internal/queue"
	"github.com/mschirtzinger/offsync/internal/remote"
	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
	"github.com/mschirtzinger/offsync/internal/sync"
)

// QueueStatus summarizes the local queue for display.
type QueueStatus struct {
	QueueLength   int        `json:"queueLength" yaml:"queueLength"`
	UnsyncedCount int        `json:"unsyncedCount" yaml:"unsyncedCount"`
	LastSync      *time.Time `json:"lastSync" yaml:"lastSync"`
	IsOnline      bool       `json:"isOnline" yaml:"isOnline"`
}

// Options carries the optional fields of a queued transaction.
type Options struct {
	ProofImageURL string
	AppName       string
	Timestamp     time.Time // defaults to now
}

// Config configures a Client.
type Config struct {
	UserID    string
	Network   network.Config
	Sync      sync.Config
	Integrity integrity.Config
	Logger    *log.Logger

	// OnEnqueue runs after every successful enqueue, e.g. to wake a daemon
	// in another process.
	OnEnqueue func()
}

// Client is the single entry point for callers.
type Client struct {
	userID string
	kv     storage.KV
	remote remote.Store

	queue     *queue.Store
	monitor   *network.Monitor
	engine    *sync.Engine
	cache     *integrity.Cache
	integrity *integrity.Service

	onEnqueue func()
	logger    *log.Logger
}

// New wires a Client over kv and rs.
func New(kv storage.KV, rs remote.Store, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[offsync] ", log.LstdFlags)
	}

	cache := integrity.NewCache(kv)
	q := queue.New(kv, queue.WithLogger(logger))
	monitor := network.NewMonitor(kv, withLogger(cfg.Network, logger))

	syncCfg := cfg.Sync
	if syncCfg.Cache == nil {
		syncCfg.Cache = cache
	}
	if syncCfg.Logger == nil {
		syncCfg.Logger = logger
	}

	integrityCfg := cfg.Integrity
	if integrityCfg.Logger == nil {
		integrityCfg.Logger = logger
	}

	return &Client{
		userID:    cfg.UserID,
		kv:        kv,
		remote:    rs,
		queue:     q,
		monitor:   monitor,
		engine:    sync.New(q, rs, monitor, kv, syncCfg),
		cache:     cache,
		integrity: integrity.NewService(kv, cache, integrityCfg),
		onEnqueue: cfg.OnEnqueue,
		logger:    logger,
	}
}

func withLogger(cfg network.Config, logger *log.Logger) network.Config {
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	return cfg
}

// UserID returns the identity passes run for.
func (c *Client) UserID() string { return c.userID }

// Queue returns the underlying queue store.
func (c *Client) Queue() *queue.Store { return c.queue }

// Engine returns the sync engine.
func (c *Client) Engine() *sync.Engine { return c.engine }

// Monitor returns the network monitor.
func (c *Client) Monitor() *network.Monitor { return c.monitor }

// Integrity returns the integrity service.
func (c *Client) Integrity() *integrity.Service { return c.integrity }

// Cache returns the local profile/transaction cache.
func (c *Client) Cache() *integrity.Cache { return c.cache }

// Status reports queue size, last sync and the last known connectivity.
func (c *Client) Status(ctx context.Context) (QueueStatus, error) {
	entries, err := c.queue.List(ctx)
	if err != nil {
		return QueueStatus{}, err
	}

	st := QueueStatus{
		QueueLength: len(entries),
		IsOnline:    c.monitor.ReadStatus(ctx),
	}
	for _, e := range entries {
		if !e.Synced {
			st.UnsyncedCount++
		}
	}
	if last, ok := c.engine.LastSync(ctx); ok {
		st.LastSync = &last
	}
	return st, nil
}

// QueueTransaction captures a user action for later sync and returns its
// local ID.
func (c *Client) QueueTransaction(ctx context.Context, typ schema.TxType, amount float64, description string, opts Options) (string, error) {
	id, err := c.queue.Enqueue(ctx, schema.NewTransaction{
		Type:          typ,
		Amount:        amount,
		Description:   description,
		Timestamp:     opts.Timestamp,
		ProofImageURL: opts.ProofImageURL,
		AppName:       opts.AppName,
	})
	if err != nil {
		return "", err
	}
	if c.onEnqueue != nil {
		c.onEnqueue()
	}
	return id, nil
}

// SyncNow runs a sync with retries. When entries were applied the local
// cache is refreshed from the remote store.
func (c *Client) SyncNow(ctx context.Context) (sync.Result, error) {
	result, err := c.engine.SyncWithRetry(ctx, c.userID)
	if result.Success > 0 {
		c.tryRefresh(ctx)
	}
	return result, err
}

// SyncOnce runs a single pass without retries.
func (c *Client) SyncOnce(ctx context.Context) (sync.Result, error) {
	result, err := c.engine.Sync(ctx, c.userID)
	if result.Success > 0 {
		c.tryRefresh(ctx)
	}
	return result, err
}

// tryRefresh refreshes the cache when the remote store can list
// transactions. Failures leave the cache as the engine wrote it, which the
// cache itself tracks as partial when needed.
func (c *Client) tryRefresh(ctx context.Context) {
	if _, ok := c.remote.(remote.TransactionLister); !ok || c.userID == "" {
		return
	}
	if err := c.RefreshCache(ctx); err != nil {
		c.logger.Printf("WARNING: failed to refresh cache: %v", err)
	}
}

// CheckConnectivity probes and persists the result.
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	return c.monitor.Check(ctx)
}

// CheckIntegrity validates the local cache.
func (c *Client) CheckIntegrity(ctx context.Context) integrity.Report {
	return c.integrity.CheckCached(ctx)
}

// Recover resolves errors reported by CheckIntegrity.
func (c *Client) Recover(ctx context.Context, errs []*integrity.CorruptionError) integrity.RecoveryResult {
	return c.integrity.Recover(ctx, errs)
}

// CreateBackup snapshots the local cache.
func (c *Client) CreateBackup(ctx context.Context, reason string) (*schema.DataBackup, error) {
	return c.integrity.CreateBackupFromCache(ctx, reason)
}

// RestoreBackup restores the local cache from the backup slot. It returns
// nil when no usable backup exists.
func (c *Client) RestoreBackup(ctx context.Context) (*schema.DataBackup, error) {
	return c.integrity.RestoreFromBackup(ctx)
}

// StartupCheck validates the cache and recovers when needed. When the remote
// store is reachable the cache is refreshed from it first. A clean cache
// that holds a profile is backed up.
func (c *Client) StartupCheck(ctx context.Context) (integrity.Report, *integrity.RecoveryResult) {
	if c.monitor.Check(ctx) {
		c.tryRefresh(ctx)
	}

	report := c.integrity.CheckCached(ctx)
	if !report.IsValid {
		result := c.integrity.Recover(ctx, report.Errors)
		return report, &result
	}

	if p, err := c.cache.Profile(ctx); err == nil && p != nil {
		if _, err := c.integrity.CreateBackupFromCache(ctx, "startup"); err != nil {
			c.logger.Printf("WARNING: failed to create startup backup: %v", err)
		}
	}
	return report, nil
}

// RefreshCache replaces the local cache with the remote profile and
// transactions. The remote store must support listing transactions. The
// cache counts as complete only when the listed transactions account for
// the profile totals.
func (c *Client) RefreshCache(ctx context.Context) error {
	lister, ok := c.remote.(remote.TransactionLister)
	if !ok {
		return fmt.Errorf("remote store cannot list transactions")
	}

	p, err := c.remote.GetProfile(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("failed to fetch profile: %w", err)
	}
	txs, err := lister.ListTransactions(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions: %w", err)
	}

	complete := integrity.Covers(p, txs)
	if err := c.cache.Replace(ctx, p, txs, complete); err != nil {
		return err
	}
	if !complete {
		c.logger.Printf("Refreshed cache: %d transactions (partial: remote totals predate them)", len(txs))
		return nil
	}
	c.logger.Printf("Refreshed cache: %d transactions", len(txs))
	return nil
}
