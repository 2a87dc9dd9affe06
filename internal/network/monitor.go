// Package network tracks whether the remote store is reachable.
//
// Reachability is decided by a bounded HTTP HEAD probe. A platform can
// supply an OnlineSignal, which is authoritative: when it reports offline
// no probe is made, and when it reports online a failing probe is ignored.
// The last result is persisted so a fresh process starts from it.
package network

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/mschirtzinger/offsync/internal/storage"
)

// DefaultTimeout bounds every probe.
const DefaultTimeout = 5 * time.Second

// Prober performs one reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// OnlineSignal reports the platform's view of connectivity.
type OnlineSignal func() bool

// Status is the persisted connectivity record.
type Status struct {
	IsOnline    bool      `json:"isOnline"`
	LastChecked time.Time `json:"lastChecked"`
}

// Config configures a Monitor.
type Config struct {
	Prober  Prober
	Signal  OnlineSignal
	Timeout time.Duration
	Logger  *log.Logger
	Now     func() time.Time
}

// Monitor probes connectivity and persists the result.
type Monitor struct {
	kv      storage.KV
	prober  Prober
	signal  OnlineSignal
	timeout time.Duration
	logger  *log.Logger
	now     func() time.Time
}

// NewMonitor returns a Monitor persisting into kv.
func NewMonitor(kv storage.KV, cfg Config) *Monitor {
	m := &Monitor{
		kv:      kv,
		prober:  cfg.Prober,
		signal:  cfg.Signal,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.logger == nil {
		m.logger = log.New(os.Stderr, "[network] ", log.LstdFlags)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Probe reports whether the remote store is currently reachable.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.signal != nil && !m.signal() {
		return false
	}
	if m.prober == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.prober.Probe(ctx); err != nil {
		if m.signal != nil {
			// Platform says online; trust it over a flaky probe.
			m.logger.Printf("Probe failed but platform reports online: %v", err)
			return true
		}
		m.logger.Printf("Probe failed: %v", err)
		return false
	}
	return true
}

// PersistStatus records online with the current time.
func (m *Monitor) PersistStatus(ctx context.Context, online bool) error {
	return storage.SetJSON(ctx, m.kv, storage.KeyNetworkStatus, Status{
		IsOnline:    online,
		LastChecked: m.now().UTC(),
	})
}

// Status returns the persisted record. ok is false when nothing usable is
// stored.
func (m *Monitor) Status(ctx context.Context) (Status, bool) {
	var st Status
	ok, err := storage.GetJSON(ctx, m.kv, storage.KeyNetworkStatus, &st)
	if err != nil {
		m.logger.Printf("WARNING: failed to read network status: %v", err)
		return Status{}, false
	}
	return st, ok
}

// ReadStatus returns the persisted online flag, defaulting to true when it
// is absent or unreadable.
func (m *Monitor) ReadStatus(ctx context.Context) bool {
	st, ok := m.Status(ctx)
	if !ok {
		return true
	}
	return st.IsOnline
}

// Check probes and persists the result.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.Probe(ctx)
	if err := m.PersistStatus(ctx, online); err != nil {
		m.logger.Printf("WARNING: failed to persist network status: %v", err)
	}
	return online
}

// HTTPProber issues a HEAD request against URL. Any status below 400 counts
// as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.URL, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s: unexpected status %d", p.URL, resp.StatusCode)
	}
	return nil
}
