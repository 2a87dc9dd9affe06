package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mschirtzinger/offsync/internal/remote"
	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
)

// ErrRetriesExhausted is returned by SyncWithRetry when every attempt
// failed totally.
var ErrRetriesExhausted = errors.New("sync retries exhausted")

// ErrNoUser is returned when a pass is requested without a user identity.
var ErrNoUser = errors.New("no user id configured")

var errNoRecord = errors.New("remote store returned no transaction record")

// Result counts the entries applied and failed by one pass.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Total reports how many entries the pass attempted.
func (r Result) Total() int { return r.Success + r.Failed }

// PassReport is delivered to Config.Notify after every pass that ran.
type PassReport struct {
	UserID    string
	Result    Result
	Started   time.Time
	Duration  time.Duration
	Remaining int // unsynced entries left after the pass
}

// Queue is the part of the queue store the engine uses.
type Queue interface {
	ListUnsynced(ctx context.Context) ([]schema.QueuedTransaction, error)
	MarkSynced(ctx context.Context, id string) error
	CleanupSynced(ctx context.Context) (int, error)
}

// Connectivity reports whether the remote store is reachable. Check also
// records the answer, so status readers see what the last pass saw.
type Connectivity interface {
	Check(ctx context.Context) bool
}

// Cache receives every transaction the engine confirms, together with the
// remote profile before and after it was applied.
type Cache interface {
	RecordApplied(ctx context.Context, before, after schema.Profile, tx schema.Transaction) error
}

// Config configures an Engine. Zero values fall back to DefaultConfig.
type Config struct {
	MaxRetries   int           // attempts in total for SyncWithRetry
	RetryBase    time.Duration // first delay; doubled per attempt
	RetryJitter  float64       // backoff randomization factor, 0 is deterministic
	CallTimeout  time.Duration // bound for each remote call
	Logger       *log.Logger
	PromRegistry prometheus.Registerer
	Notify       func(PassReport)
	Cache        Cache
	Now          func() time.Time
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryBase:   2 * time.Second,
		RetryJitter: 0,
		CallTimeout: 15 * time.Second,
	}
}

// Engine runs sync passes for one client.
type Engine struct {
	queue  Queue
	remote remote.Store
	conn   Connectivity
	kv     storage.KV

	config  Config
	logger  *log.Logger
	metrics *metrics

	syncing atomic.Bool
}

// New creates an Engine. kv holds the last-sync timestamp.
func New(q Queue, rs remote.Store, conn Connectivity, kv storage.KV, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryJitter < 0 {
		cfg.RetryJitter = 0
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	e := &Engine{
		queue:   q,
		remote:  rs,
		conn:    conn,
		kv:      kv,
		config:  cfg,
		logger:  logger,
		metrics: &metrics{},
	}
	e.metrics.init(cfg.PromRegistry)
	return e
}

// IsSyncing reports whether a pass is in flight.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// tryAcquire takes the guard. The returned release must be called exactly
// once, and only when ok is true.
func (e *Engine) tryAcquire() (release func(), ok bool) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, false
	}
	return func() { e.syncing.Store(false) }, true
}

// Sync runs one pass for userID. A pass requested while another is running
// returns a zero Result and no error.
func (e *Engine) Sync(ctx context.Context, userID string) (Result, error) {
	out, err := e.pass(ctx, userID)
	return out.result, err
}

// passOutcome is a pass result plus the last per-entry failure, which
// SyncWithRetry reports when every attempt fails.
type passOutcome struct {
	result  Result
	lastErr error
}

// pass runs one guarded pass. The error is non-nil only when the pass could
// not run at all.
func (e *Engine) pass(ctx context.Context, userID string) (passOutcome, error) {
	if userID == "" {
		return passOutcome{}, ErrNoUser
	}

	release, ok := e.tryAcquire()
	if !ok {
		e.metrics.skipped.Inc()
		e.logger.Printf("Sync already in progress, skipping")
		return passOutcome{}, nil
	}
	defer release()

	if !e.conn.Check(ctx) {
		e.logger.Printf("Offline, skipping sync")
		return passOutcome{}, nil
	}

	// Past the probe the pass is not cancellable.
	ctx = context.WithoutCancel(ctx)
	started := e.config.Now()
	e.metrics.passes.Inc()

	entries, err := e.queue.ListUnsynced(ctx)
	if err != nil {
		return passOutcome{}, fmt.Errorf("failed to read queue: %w", err)
	}

	var (
		result  Result
		lastErr error
	)
	for i := range entries {
		entry := &entries[i]
		if err := e.apply(ctx, userID, entry); err != nil {
			e.logger.Printf("WARNING: failed to sync transaction %s: %v", entry.ID, err)
			result.Failed++
			lastErr = err
			continue
		}
		result.Success++
	}
	e.metrics.applied.Add(float64(result.Success))
	e.metrics.failed.Add(float64(result.Failed))

	if result.Success > 0 {
		if _, err := e.queue.CleanupSynced(ctx); err != nil {
			e.logger.Printf("WARNING: failed to clean up synced transactions: %v", err)
		}
	}

	if err := storage.SetJSON(ctx, e.kv, storage.KeyLastSync, e.config.Now().UTC()); err != nil {
		e.logger.Printf("WARNING: failed to persist last sync time: %v", err)
	}

	remaining := e.countUnsynced(ctx)

	if result.Total() > 0 {
		e.logger.Printf("Sync complete: success=%d failed=%d remaining=%d", result.Success, result.Failed, remaining)
	}

	if e.config.Notify != nil {
		e.config.Notify(PassReport{
			UserID:    userID,
			Result:    result,
			Started:   started,
			Duration:  e.config.Now().Sub(started),
			Remaining: remaining,
		})
	}

	return passOutcome{result: result, lastErr: lastErr}, nil
}

// apply writes one entry to the remote store and marks it synced.
func (e *Engine) apply(ctx context.Context, userID string, entry *schema.QueuedTransaction) error {
	var created *schema.Transaction
	if err := e.bounded(ctx, func(ctx context.Context) error {
		tx, err := e.remote.CreateTransaction(ctx, entry.ToRemote(userID))
		created = tx
		return err
	}); err != nil {
		return err
	}
	if created == nil {
		return &remote.RemoteWriteError{Op: remote.OpCreateTransaction, Err: errNoRecord}
	}

	var current *schema.Profile
	if err := e.bounded(ctx, func(ctx context.Context) error {
		p, err := e.remote.GetProfile(ctx, userID)
		current = p
		return err
	}); err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}
	if current == nil {
		return fmt.Errorf("%w: %s", remote.ErrProfileNotFound, userID)
	}

	updated := current.Apply(entry.Type, entry.Amount)
	if err := e.bounded(ctx, func(ctx context.Context) error {
		return e.remote.UpdateProfile(ctx, userID, schema.FullUpdate(updated))
	}); err != nil {
		return err
	}

	if err := e.queue.MarkSynced(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", entry.ID, err)
	}

	if e.config.Cache != nil {
		if err := e.config.Cache.RecordApplied(ctx, *current, updated, *created); err != nil {
			e.logger.Printf("WARNING: failed to update local cache: %v", err)
		}
	}

	e.logger.Printf("Synced transaction: %s (%s %.2f)", entry.ID, entry.Type, entry.Amount)
	return nil
}

// bounded runs fn under the per-call timeout.
func (e *Engine) bounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func (e *Engine) countUnsynced(ctx context.Context) int {
	entries, err := e.queue.ListUnsynced(ctx)
	if err != nil {
		return 0
	}
	e.metrics.unsynced.Set(float64(len(entries)))
	return len(entries)
}

// SyncWithRetry runs passes until one is not a total failure, up to
// MaxRetries attempts. On exhaustion it returns the last Result together
// with an error wrapping ErrRetriesExhausted. Cancelling ctx aborts the wait
// between attempts.
func (e *Engine) SyncWithRetry(ctx context.Context, userID string) (Result, error) {
	var (
		last     Result
		attempts int
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.RetryBase
	b.Multiplier = 2
	b.RandomizationFactor = e.config.RetryJitter
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(e.config.MaxRetries-1)),
		ctx,
	)

	op := func() error {
		attempts++
		out, err := e.pass(ctx, userID)
		last = out.result
		if errors.Is(err, ErrNoUser) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		if last.Failed > 0 && last.Success == 0 {
			if out.lastErr == nil {
				return errors.New("all transactions failed")
			}
			return out.lastErr
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		e.logger.Printf("Sync attempt %d/%d failed (%v), retrying in %s",
			attempts, e.config.MaxRetries, err, wait)
	}

	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, ErrNoUser):
		return last, err
	case ctx.Err() != nil:
		return last, ctx.Err()
	default:
		e.logger.Printf("Sync failed after %d attempts: %v", attempts, err)
		return last, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
}

// LastSync returns the time of the last pass that got past the
// connectivity probe.
func (e *Engine) LastSync(ctx context.Context) (time.Time, bool) {
	return ReadLastSync(ctx, e.kv)
}

// ReadLastSync reads the persisted last-sync time from kv.
func ReadLastSync(ctx context.Context, kv storage.KV) (time.Time, bool) {
	var t time.Time
	ok, err := storage.GetJSON(ctx, kv, storage.KeyLastSync, &t)
	if err != nil || !ok {
		return time.Time{}, false
	}
	return t, true
}
