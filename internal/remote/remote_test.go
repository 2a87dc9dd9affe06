package remote

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/offsync/internal/schema"
)

func setupGorm(t *testing.T) *GormStore {
	t.Helper()
	s, err := OpenGorm(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stores runs the same contract against every implementation.
func stores(t *testing.T) map[string]interface {
	Store
	TransactionLister
} {
	t.Helper()
	return map[string]interface {
		Store
		TransactionLister
	}{
		"gorm":   setupGorm(t),
		"memory": NewMemory(),
	}
}

func seedProfile(t *testing.T, s Store, p schema.Profile) {
	t.Helper()
	switch st := s.(type) {
	case *GormStore:
		require.NoError(t, st.EnsureProfile(context.Background(), p.ID))
		require.NoError(t, st.UpdateProfile(context.Background(), p.ID, schema.FullUpdate(p)))
	case *Memory:
		st.PutProfile(p)
	default:
		t.Fatalf("unknown store %T", s)
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p, err := s.GetProfile(ctx, "u1")
			require.NoError(t, err)
			assert.Nil(t, p, "absent profile should be (nil, nil)")

			err = s.UpdateProfile(ctx, "u1", schema.FullUpdate(schema.Profile{Balance: 1}))
			var werr *RemoteWriteError
			require.ErrorAs(t, err, &werr)
			assert.Equal(t, OpUpdateProfile, werr.Op)
			assert.ErrorIs(t, err, ErrProfileNotFound)

			seedProfile(t, s, schema.Profile{ID: "u1", Balance: 5, TotalEarned: 5})

			balance := -3.0
			require.NoError(t, s.UpdateProfile(ctx, "u1", schema.ProfileUpdate{Balance: &balance}))
			p, err = s.GetProfile(ctx, "u1")
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, -3.0, p.Balance, "negative balances must be representable")
			assert.Equal(t, 5.0, p.TotalEarned, "nil fields must be left unchanged")

			created, err := s.CreateTransaction(ctx, schema.Transaction{
				UserID:    "u1",
				Amount:    2,
				Type:      schema.Spend,
				Timestamp: "2026-01-10T07:36:29Z",
				AppName:   "cafe",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, created.ID, "server must assign an ID")
			assert.Equal(t, "cafe", created.AppName)

			txs, err := s.ListTransactions(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, txs, 1)
			assert.Equal(t, created.ID, txs[0].ID)
		})
	}
}

func TestMemory_FailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailCreate = func(tx schema.Transaction) error {
		if tx.Amount > 100 {
			return errors.New("limit exceeded")
		}
		return nil
	}

	_, err := m.CreateTransaction(ctx, schema.Transaction{UserID: "u1", Amount: 500})
	var werr *RemoteWriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, OpCreateTransaction, werr.Op)

	_, err = m.CreateTransaction(ctx, schema.Transaction{UserID: "u1", Amount: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "create"}, m.Calls)
}

func TestClassify_Timeout(t *testing.T) {
	err := classify(OpCreateTransaction, true, context.DeadlineExceeded)
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMemory().GetProfile(ctx, "u1")
	require.ErrorAs(t, err, &nerr)
}
