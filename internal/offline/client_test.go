package offline

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/offsync/internal/integrity"
	"github.com/mschirtzinger/offsync/internal/network"
	"github.com/mschirtzinger/offsync/internal/remote"
	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
	"github.com/mschirtzinger/offsync/internal/sync"
)

func setupClient(t *testing.T, online bool) (*Client, *remote.Memory, *int) {
	t.Helper()

	rs := remote.NewMemory()
	rs.PutProfile(schema.Profile{ID: "u1"})
	enqueued := 0

	c := New(storage.NewMemory(), rs, Config{
		UserID:  "u1",
		Network: network.Config{Signal: func() bool { return online }},
		Sync:    sync.Config{RetryBase: time.Millisecond},
		Logger:  log.New(io.Discard, "", 0),
		OnEnqueue: func() {
			enqueued++
		},
	})
	return c, rs, &enqueued
}

func TestClient_QueueAndStatus(t *testing.T) {
	ctx := context.Background()
	c, _, enqueued := setupClient(t, false)

	_, err := c.QueueTransaction(ctx, schema.Earn, 10, "reward", Options{AppName: "quiz"})
	require.NoError(t, err)
	_, err = c.QueueTransaction(ctx, schema.Spend, 4, "coffee", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, *enqueued)

	assert.False(t, c.CheckConnectivity(ctx))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStatus{QueueLength: 2, UnsyncedCount: 2, IsOnline: false}, st)
}

func TestClient_InvalidTransactionNotQueued(t *testing.T) {
	c, _, enqueued := setupClient(t, true)
	_, err := c.QueueTransaction(context.Background(), "gift", 1, "", Options{})
	require.ErrorIs(t, err, schema.ErrInvalidTransaction)
	assert.Zero(t, *enqueued)
}

func TestClient_SyncNowFeedsCache(t *testing.T) {
	ctx := context.Background()
	c, rs, _ := setupClient(t, true)

	_, err := c.QueueTransaction(ctx, schema.Earn, 10, "reward", Options{})
	require.NoError(t, err)
	_, err = c.QueueTransaction(ctx, schema.Spend, 5, "coffee", Options{})
	require.NoError(t, err)

	result, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, sync.Result{Success: 2}, result)

	p, _ := rs.Profile("u1")
	assert.Equal(t, 5.0, p.Balance)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.QueueLength)
	require.NotNil(t, st.LastSync)

	report := c.CheckIntegrity(ctx)
	assert.True(t, report.IsValid, "errors: %v", report.Errors)

	cached, txs, err := c.Cache().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, *cached)
	assert.Len(t, txs, 2)
}

func TestClient_StartupCheckBacksUpCleanCache(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setupClient(t, true)

	_, err := c.QueueTransaction(ctx, schema.Earn, 3, "x", Options{})
	require.NoError(t, err)
	_, err = c.SyncNow(ctx)
	require.NoError(t, err)

	report, recovery := c.StartupCheck(ctx)
	assert.True(t, report.IsValid)
	assert.Nil(t, recovery)

	history, err := c.Integrity().BackupHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestClient_StartupCheckRecovers(t *testing.T) {
	ctx := context.Background()
	// Offline, so the startup check works on the cache as found.
	c, _, _ := setupClient(t, false)

	require.NoError(t, c.Cache().Replace(ctx,
		&schema.Profile{ID: "u1", Balance: 100, TotalEarned: 90, TotalSpent: 10},
		[]schema.Transaction{
			{ID: "a", UserID: "u1", Type: schema.Earn, Amount: 90, Timestamp: "2026-01-09T10:00:00Z"},
			{ID: "b", UserID: "u1", Type: schema.Spend, Amount: 10, Timestamp: "2026-01-09T11:00:00Z"},
		}, true))

	report, recovery := c.StartupCheck(ctx)
	require.False(t, report.IsValid)
	require.NotNil(t, recovery)
	assert.Equal(t, integrity.RecoveryResult{Recovered: true}, *recovery)

	p, err := c.Cache().Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80.0, p.Balance)
}

func TestClient_ProfileWithEarlierHistory(t *testing.T) {
	ctx := context.Background()
	c, rs, _ := setupClient(t, true)
	rs.PutProfile(schema.Profile{ID: "u1", Balance: 50, TotalEarned: 50})

	_, err := c.QueueTransaction(ctx, schema.Earn, 10, "reward", Options{})
	require.NoError(t, err)
	result, err := c.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, sync.Result{Success: 1}, result)

	report := c.CheckIntegrity(ctx)
	assert.True(t, report.IsValid, "errors: %v", report.Errors)
	assert.NotEmpty(t, report.Warnings)

	report, recovery := c.StartupCheck(ctx)
	assert.True(t, report.IsValid, "errors: %v", report.Errors)
	assert.Nil(t, recovery)

	p, err := c.Cache().Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.Profile{ID: "u1", Balance: 60, TotalEarned: 60}, *p)

	remoteProfile, _ := rs.Profile("u1")
	assert.Equal(t, remoteProfile, *p)
}

func TestClient_StartupCheckRefreshesStaleCache(t *testing.T) {
	ctx := context.Background()
	c, rs, _ := setupClient(t, true)

	rs.PutProfile(schema.Profile{ID: "u1", Balance: 7, TotalEarned: 7})
	_, err := rs.CreateTransaction(ctx, schema.Transaction{UserID: "u1", Type: schema.Earn, Amount: 7, Timestamp: "2026-01-09T10:00:00Z"})
	require.NoError(t, err)

	// Left behind by an older pass, before the remote changed.
	require.NoError(t, c.Cache().Replace(ctx, &schema.Profile{ID: "u1", Balance: 3, TotalEarned: 3}, nil, false))

	report, recovery := c.StartupCheck(ctx)
	assert.True(t, report.IsValid, "errors: %v", report.Errors)
	assert.Nil(t, recovery)

	p, txs, complete, err := c.Cache().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, p.Balance)
	assert.Len(t, txs, 1)
	assert.True(t, complete)
}

func TestClient_SyncPersistsConnectivity(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setupClient(t, false)

	_, err := c.SyncOnce(ctx)
	require.NoError(t, err)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsOnline, "status should reflect the pass's connectivity check")
}

func TestClient_RefreshCache(t *testing.T) {
	ctx := context.Background()
	c, rs, _ := setupClient(t, true)

	rs.PutProfile(schema.Profile{ID: "u1", Balance: 7, TotalEarned: 7})
	_, err := rs.CreateTransaction(ctx, schema.Transaction{UserID: "u1", Type: schema.Earn, Amount: 7, Timestamp: "2026-01-09T10:00:00Z"})
	require.NoError(t, err)

	require.NoError(t, c.RefreshCache(ctx))

	p, txs, err := c.Cache().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, p.Balance)
	assert.Len(t, txs, 1)
}

func TestClient_BackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setupClient(t, true)

	b, err := c.RestoreBackup(ctx)
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, c.Cache().Replace(ctx, &schema.Profile{ID: "u1"}, nil, true))
	_, err = c.CreateBackup(ctx, "manual")
	require.NoError(t, err)

	require.NoError(t, c.Cache().Replace(ctx, nil, nil, true))
	b, err = c.RestoreBackup(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)

	p, err := c.Cache().Profile(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "u1", p.ID)
}
