// Package daemon schedules the sync engine.
//
// The daemon:
//  1. Runs the integrity startup check and recovery once
//  2. Runs an initial sync
//  3. Probes connectivity on a timer and syncs on a slower timer
//  4. Syncs on foreground events, explicit requests and trigger file writes
//
// Every trigger funnels into the same sync call; the engine's guard absorbs
// overlapping triggers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/offsync/internal/integrity"
	engine "github.com/mschirtzinger/offsync/internal/sync"
)

// Target is what the daemon drives. *offline.Client satisfies it.
type Target interface {
	CheckConnectivity(ctx context.Context) bool
	SyncNow(ctx context.Context) (engine.Result, error)
	StartupCheck(ctx context.Context) (integrity.Report, *integrity.RecoveryResult)
}

// Config holds configuration for the daemon.
type Config struct {
	// ConnectivityInterval is how often to probe the network.
	ConnectivityInterval time.Duration

	// SyncInterval is how often to attempt a sync.
	SyncInterval time.Duration

	// WatchDir enables the trigger file watcher when non-empty.
	WatchDir string

	// DebounceInterval batches rapid trigger writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns the production intervals.
func DefaultConfig() *Config {
	return &Config{
		ConnectivityInterval: 30 * time.Second,
		SyncInterval:         60 * time.Second,
		DebounceInterval:     500 * time.Millisecond,
		Logger:               log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

type request int

const (
	requestSync request = iota
	requestForeground
)

func (r request) String() string {
	if r == requestForeground {
		return "foreground"
	}
	return "sync"
}

// Daemon schedules connectivity checks and syncs for one Target.
type Daemon struct {
	target Target
	config *Config

	requests chan request

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a daemon. Zero fields of config take their defaults.
func New(target Target, config *Config) (*Daemon, error) {
	if target == nil {
		return nil, fmt.Errorf("target cannot be nil")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.ConnectivityInterval <= 0 {
		cfg.ConnectivityInterval = defaults.ConnectivityInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaults.SyncInterval
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = defaults.DebounceInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	return &Daemon{
		target:   target,
		config:   &cfg,
		requests: make(chan request, 8),
	}, nil
}

// Start runs the daemon. It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		close(done)
	}()

	d.config.Logger.Println("Starting daemon")

	var watcher *TriggerWatcher
	if d.config.WatchDir != "" {
		w, err := NewTriggerWatcher()
		if err != nil {
			return err
		}
		if err := w.Start(d.config.WatchDir); err != nil {
			_ = w.Stop()
			return err
		}
		watcher = w
		d.config.Logger.Printf("Watching: %s", TriggerPath(d.config.WatchDir))
	}

	d.startup(runCtx)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return d.connectivityLoop(gctx) })
	g.Go(func() error { return d.syncLoop(gctx) })
	g.Go(func() error { return d.requestLoop(gctx) })
	if watcher != nil {
		g.Go(func() error { return d.watchLoop(gctx, watcher) })
	}

	err := g.Wait()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.config.Logger.Println("Daemon stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels a running daemon and waits for Start to return.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	d.config.Logger.Println("Stopping daemon")
	cancel()
	<-done
}

// Foreground signals that the app returned to the foreground: connectivity
// is re-checked, then a sync runs.
func (d *Daemon) Foreground() {
	d.submit(requestForeground)
}

// RequestSync asks for a sync outside the timer.
func (d *Daemon) RequestSync() {
	d.submit(requestSync)
}

func (d *Daemon) submit(r request) {
	select {
	case d.requests <- r:
	default:
		// A full buffer already guarantees a sync soon.
		d.config.Logger.Printf("Dropping %s request: queue full", r)
	}
}

func (d *Daemon) startup(ctx context.Context) {
	report, recovery := d.target.StartupCheck(ctx)
	switch {
	case report.IsValid:
		d.config.Logger.Println("Integrity check passed")
	case recovery != nil && recovery.Recovered:
		d.config.Logger.Printf("Integrity check found %d errors, recovered (backup restored: %v)",
			len(report.Errors), recovery.BackupRestored)
	default:
		d.config.Logger.Printf("WARNING: integrity check found %d errors, not recovered", len(report.Errors))
	}

	d.sync(ctx, "initial")
}

func (d *Daemon) sync(ctx context.Context, reason string) {
	result, err := d.target.SyncNow(ctx)
	if err != nil {
		d.config.Logger.Printf("Error syncing (%s): %v", reason, err)
		return
	}
	if result.Total() > 0 {
		d.config.Logger.Printf("Sync (%s): %d succeeded, %d failed", reason, result.Success, result.Failed)
	}
}

func (d *Daemon) connectivityLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.config.ConnectivityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.target.CheckConnectivity(ctx)
		}
	}
}

func (d *Daemon) syncLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sync(ctx, "timer")
		}
	}
}

func (d *Daemon) requestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-d.requests:
			if r == requestForeground {
				d.target.CheckConnectivity(ctx)
			}
			d.sync(ctx, r.String())
		}
	}
}

// watchLoop debounces trigger writes: a sync runs once no write has been
// seen for DebounceInterval.
func (d *Daemon) watchLoop(ctx context.Context, w *TriggerWatcher) error {
	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	var pending time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case at, ok := <-w.Events():
			if !ok {
				return nil
			}
			pending = at

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			d.config.Logger.Printf("Watcher error: %v", err)

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < d.config.DebounceInterval {
				continue
			}
			pending = time.Time{}
			d.sync(ctx, "trigger")
		}
	}
}
