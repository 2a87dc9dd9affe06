package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/mschirtzinger/offsync/internal/schema"
)

// Memory is an in-process Store for tests and local development.
//
// Failures can be injected per call with the Fail* hooks, which receive the
// argument of the call and return the error to report (nil to succeed).
type Memory struct {
	mu           sync.Mutex
	profiles     map[string]schema.Profile
	transactions []schema.Transaction
	nextID       int

	FailCreate func(tx schema.Transaction) error
	FailGet    func(userID string) error
	FailUpdate func(userID string, update schema.ProfileUpdate) error

	// Calls records every call in order as "create", "get" or "update".
	Calls []string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{profiles: make(map[string]schema.Profile)}
}

// PutProfile stores p, replacing any existing profile with the same ID.
func (m *Memory) PutProfile(p schema.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// Profile returns the stored profile for userID.
func (m *Memory) Profile(userID string) (schema.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	return p, ok
}

// Transactions returns a copy of every stored transaction.
func (m *Memory) Transactions() []schema.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.Transaction(nil), m.transactions...)
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (*schema.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "get")

	if err := ctx.Err(); err != nil {
		return nil, &NetworkError{Op: "get_profile", Err: err}
	}
	if m.FailGet != nil {
		if err := m.FailGet(userID); err != nil {
			return nil, classify("get_profile", false, err)
		}
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) UpdateProfile(ctx context.Context, userID string, update schema.ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "update")

	if err := ctx.Err(); err != nil {
		return &NetworkError{Op: OpUpdateProfile, Err: err}
	}
	if m.FailUpdate != nil {
		if err := m.FailUpdate(userID, update); err != nil {
			return classify(OpUpdateProfile, true, err)
		}
	}
	p, ok := m.profiles[userID]
	if !ok {
		return &RemoteWriteError{Op: OpUpdateProfile, Err: ErrProfileNotFound}
	}
	m.profiles[userID] = update.ApplyTo(p)
	return nil
}

func (m *Memory) CreateTransaction(ctx context.Context, tx schema.Transaction) (*schema.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "create")

	if err := ctx.Err(); err != nil {
		return nil, &NetworkError{Op: OpCreateTransaction, Err: err}
	}
	if m.FailCreate != nil {
		if err := m.FailCreate(tx); err != nil {
			return nil, classify(OpCreateTransaction, true, err)
		}
	}
	m.nextID++
	tx.ID = fmt.Sprintf("remote-%d", m.nextID)
	m.transactions = append(m.transactions, tx)
	return &tx, nil
}

func (m *Memory) ListTransactions(_ context.Context, userID string) ([]schema.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txs []schema.Transaction
	for _, tx := range m.transactions {
		if tx.UserID == userID {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}
