package remote

import (
	"context"
	"sync"

	"github.com/mschirtzinger/offsync/internal/schema"
)

// OpConnect names connection failures in NetworkError.
const OpConnect = "connect"

// Lazy defers connecting to the remote store until the first call, so a
// client can queue work while the store is unreachable. A failed connect is
// retried on the next call.
type Lazy struct {
	open func() (*GormStore, error)

	mu    sync.Mutex
	store *GormStore
}

// NewLazy returns a Lazy that connects with OpenGorm(dsn).
func NewLazy(dsn string) *Lazy {
	return &Lazy{open: func() (*GormStore, error) { return OpenGorm(dsn) }}
}

func (l *Lazy) get() (*GormStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		return l.store, nil
	}
	s, err := l.open()
	if err != nil {
		return nil, &NetworkError{Op: OpConnect, Err: err}
	}
	l.store = s
	return s, nil
}

// Connected reports whether a connection has been made.
func (l *Lazy) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store != nil
}

func (l *Lazy) GetProfile(ctx context.Context, userID string) (*schema.Profile, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

func (l *Lazy) UpdateProfile(ctx context.Context, userID string, update schema.ProfileUpdate) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.UpdateProfile(ctx, userID, update)
}

func (l *Lazy) CreateTransaction(ctx context.Context, tx schema.Transaction) (*schema.Transaction, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.CreateTransaction(ctx, tx)
}

func (l *Lazy) ListTransactions(ctx context.Context, userID string) ([]schema.Transaction, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.ListTransactions(ctx, userID)
}

// EnsureProfile connects and creates an empty profile for userID if needed.
func (l *Lazy) EnsureProfile(ctx context.Context, userID string) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.EnsureProfile(ctx, userID)
}

// Close closes the connection if one was made.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
