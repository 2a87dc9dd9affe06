// Package queue implements the durable offline transaction queue.
//
// The whole queue lives under one storage key as a JSON array, in enqueue
// order. Every read-modify-write goes through Store's mutex, so two callers
// in the same process can never interleave a load and a save. Each entry
// also carries a monotonic Seq assigned at enqueue. The high-water mark is
// persisted under its own key, so Seq keeps growing after the queue drains,
// and entries are always returned in Seq order.
package queue

import (
	"context"
	"cmp"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
)

// Store is the single access point to the persisted queue.
type Store struct {
	kv     storage.KV
	logger *log.Logger

	mu sync.Mutex

	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to stderr with a "[queue] " prefix.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the timestamp source used for entries without one.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the uuid generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// New returns a Store persisting into kv.
func New(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		logger: log.New(os.Stderr, "[queue] ", log.LstdFlags),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue validates tx and appends it as a new unsynced entry. The returned
// ID is only meaningful when err is nil; on a storage failure the entry was
// not persisted.
func (s *Store) Enqueue(ctx context.Context, tx schema.NewTransaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	seq, err := s.nextSeq(ctx, entries, 1)
	if err != nil {
		return "", err
	}

	ts := tx.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	entry := schema.QueuedTransaction{
		ID:            s.newID(),
		Seq:           seq,
		Type:          tx.Type,
		Amount:        tx.Amount,
		Description:   tx.Description,
		Timestamp:     ts.UTC(),
		ProofImageURL: tx.ProofImageURL,
		AppName:       tx.AppName,
	}

	if err := s.save(ctx, append(entries, entry)); err != nil {
		return "", err
	}

	s.logger.Printf("Queued %s transaction %s (amount %.2f)", entry.Type, entry.ID, entry.Amount)
	return entry.ID, nil
}

// List returns every entry in enqueue order.
func (s *Store) List(ctx context.Context) ([]schema.QueuedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// ListUnsynced returns the entries not yet confirmed remotely, oldest first.
func (s *Store) ListUnsynced(ctx context.Context) ([]schema.QueuedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	unsynced := make([]schema.QueuedTransaction, 0, len(entries))
	for _, e := range entries {
		if !e.Synced {
			unsynced = append(unsynced, e)
		}
	}
	return unsynced, nil
}

// MarkSynced flags id as synced. Unknown and already-synced IDs are a no-op.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return err
	}

	changed := false
	for i := range entries {
		if entries[i].ID == id && !entries[i].Synced {
			entries[i].Synced = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(ctx, entries)
}

// CleanupSynced removes every synced entry and returns how many were
// removed. Unsynced entries are never touched.
func (s *Store) CleanupSynced(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if !e.Synced {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := s.save(ctx, kept); err != nil {
		return 0, err
	}
	s.logger.Printf("Removed %d synced transactions from queue", removed)
	return removed, nil
}

// Clear drops the whole queue, synced or not.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Remove(ctx, storage.KeyQueue); err != nil {
		return err
	}
	s.logger.Printf("WARNING: queue cleared")
	return nil
}

func (s *Store) load(ctx context.Context) ([]schema.QueuedTransaction, error) {
	var entries []schema.QueuedTransaction
	if _, err := storage.GetJSON(ctx, s.kv, storage.KeyQueue, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []schema.QueuedTransaction{}
	}
	slices.SortStableFunc(entries, func(a, b schema.QueuedTransaction) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return entries, nil
}

// nextSeq reserves n sequence numbers and returns the first. The persisted
// high-water mark is advanced before the queue is written, so a failed save
// leaves a gap but never reuses a number.
func (s *Store) nextSeq(ctx context.Context, entries []schema.QueuedTransaction, n int64) (int64, error) {
	var high int64
	if _, err := storage.GetJSON(ctx, s.kv, storage.KeyQueueSeq, &high); err != nil {
		return 0, err
	}
	for _, e := range entries {
		high = max(high, e.Seq)
	}
	if err := storage.SetJSON(ctx, s.kv, storage.KeyQueueSeq, high+n); err != nil {
		return 0, err
	}
	return high + 1, nil
}

func (s *Store) save(ctx context.Context, entries []schema.QueuedTransaction) error {
	return storage.SetJSON(ctx, s.kv, storage.KeyQueue, entries)
}
