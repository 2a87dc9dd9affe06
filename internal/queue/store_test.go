package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
)

func setupStore(t *testing.T) (*Store, *storage.Memory) {
	t.Helper()
	kv := storage.NewMemory()
	n := 0
	s := New(kv,
		WithLogger(log.New(io.Discard, "", 0)),
		WithClock(func() time.Time { return time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("tx-%d", n)
		}),
	)
	return s, kv
}

func earn(amount float64) schema.NewTransaction {
	return schema.NewTransaction{Type: schema.Earn, Amount: amount, Description: "reward"}
}

func TestStore_EnqueueAssignsFields(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	id, err := s.Enqueue(ctx, earn(10))
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.False(t, entries[0].Synced)
	assert.Equal(t, time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC), entries[0].Timestamp)
}

func TestStore_EnqueueRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	_, err := s.Enqueue(ctx, schema.NewTransaction{Type: schema.Spend, Amount: -5})
	require.ErrorIs(t, err, schema.ErrInvalidTransaction)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_EnqueuePersistenceFailure(t *testing.T) {
	ctx := context.Background()
	s, kv := setupStore(t)
	kv.SetFailures(nil, errors.New("quota exceeded"), nil)

	id, err := s.Enqueue(ctx, earn(1))
	require.Error(t, err)
	assert.Empty(t, id)

	var perr *storage.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, storage.KeyQueueSeq, perr.Key)

	kv.SetFailures(nil, nil, nil)
	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed enqueue must not leave an entry behind")
}

func TestStore_ListEmpty(t *testing.T) {
	s, _ := setupStore(t)
	entries, err := s.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_ListUnsyncedKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	for i := 1; i <= 5; i++ {
		_, err := s.Enqueue(ctx, earn(float64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkSynced(ctx, "tx-2"))
	require.NoError(t, s.MarkSynced(ctx, "tx-4"))

	unsynced, err := s.ListUnsynced(ctx)
	require.NoError(t, err)

	var ids []string
	for _, e := range unsynced {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"tx-1", "tx-3", "tx-5"}, ids)
}

func TestStore_MarkSyncedIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	_, err := s.Enqueue(ctx, earn(1))
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, "tx-1"))
	require.NoError(t, s.MarkSynced(ctx, "tx-1"))
	require.NoError(t, s.MarkSynced(ctx, "does-not-exist"))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Synced)
}

func TestStore_CleanupSyncedOnlyRemovesSynced(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	for i := 0; i < 4; i++ {
		_, err := s.Enqueue(ctx, earn(1))
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkSynced(ctx, "tx-1"))
	require.NoError(t, s.MarkSynced(ctx, "tx-3"))

	removed, err := s.CleanupSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.False(t, e.Synced)
	}

	removed, err = s.CleanupSynced(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStore_SeqContinuesAfterCleanup(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	_, _ = s.Enqueue(ctx, earn(1))
	_, _ = s.Enqueue(ctx, earn(2))
	require.NoError(t, s.MarkSynced(ctx, "tx-1"))
	_, err := s.CleanupSynced(ctx)
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, earn(3))
	require.NoError(t, err)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Seq)
	assert.Equal(t, int64(3), entries[1].Seq)
}

func TestStore_SeqContinuesAfterDrain(t *testing.T) {
	ctx := context.Background()
	s, kv := setupStore(t)

	_, _ = s.Enqueue(ctx, earn(1))
	_, _ = s.Enqueue(ctx, earn(2))
	require.NoError(t, s.MarkSynced(ctx, "tx-1"))
	require.NoError(t, s.MarkSynced(ctx, "tx-2"))
	removed, err := s.CleanupSynced(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = s.Enqueue(ctx, earn(3))
	require.NoError(t, err)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].Seq)

	require.NoError(t, s.Clear(ctx))
	reopened := New(kv, WithLogger(log.New(io.Discard, "", 0)))
	_, err = reopened.Enqueue(ctx, earn(4))
	require.NoError(t, err)

	entries, err = reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(4), entries[0].Seq)
}

func TestStore_ListOrdersBySeq(t *testing.T) {
	ctx := context.Background()
	s, kv := setupStore(t)

	require.NoError(t, storage.SetJSON(ctx, kv, storage.KeyQueue, []schema.QueuedTransaction{
		{ID: "b", Seq: 2, Type: schema.Earn, Amount: 2},
		{ID: "a", Seq: 1, Type: schema.Earn, Amount: 1},
	}))

	entries, err := s.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
}

func TestStore_ConcurrentMutationsSerialize(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	s := New(kv, WithLogger(log.New(io.Discard, "", 0)))

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Enqueue(ctx, earn(1))
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	// Interleave mark/cleanup with the reads.
	var marked []string
	for id := range ids {
		marked = append(marked, id)
	}
	for i, id := range marked {
		if i%2 == 0 {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				assert.NoError(t, s.MarkSynced(ctx, id))
			}(id)
		}
	}
	wg.Wait()

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, n, "no enqueue may be lost to an interleaved write")

	seqs := make(map[int64]bool)
	for _, e := range entries {
		assert.False(t, seqs[e.Seq], "duplicate seq %d", e.Seq)
		seqs[e.Seq] = true
	}

	removed, err := s.CleanupSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, n/2, removed)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	_, _ = s.Enqueue(ctx, earn(1))
	require.NoError(t, s.Clear(ctx))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_CorruptQueueSurfacesError(t *testing.T) {
	ctx := context.Background()
	s, kv := setupStore(t)
	require.NoError(t, kv.Set(ctx, storage.KeyQueue, "not json"))

	_, err := s.List(ctx)
	var perr *storage.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "decode", perr.Op)
}
