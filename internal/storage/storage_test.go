package storage

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	bdg, err := OpenBadger("", log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bdg.Close() })

	return map[string]KV{
		"sqlite": sqlite,
		"badger": bdg,
		"memory": NewMemory(),
	}
}

func TestKV_Contract(t *testing.T) {
	ctx := context.Background()

	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := kv.Get(ctx, KeyQueue)
			require.NoError(t, err)
			assert.False(t, ok, "absent key should report ok=false")

			require.NoError(t, kv.Set(ctx, KeyQueue, `[]`))
			v, ok, err := kv.Get(ctx, KeyQueue)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[]`, v)

			require.NoError(t, kv.Set(ctx, KeyQueue, `[{"id":"a"}]`))
			v, _, err = kv.Get(ctx, KeyQueue)
			require.NoError(t, err)
			assert.Equal(t, `[{"id":"a"}]`, v, "Set should overwrite")

			require.NoError(t, kv.Remove(ctx, KeyQueue))
			_, ok, err = kv.Get(ctx, KeyQueue)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Remove(ctx, "never-written"), "removing an absent key is not an error")
		})
	}
}

func TestSQLiteKV_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "offsync.db")

	kv, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, KeyLastSync, `"2026-01-10T07:36:29Z"`))
	require.NoError(t, kv.Close())

	kv, err = OpenSQLite(path)
	require.NoError(t, err)
	defer kv.Close()

	v, ok, err := kv.Get(ctx, KeyLastSync)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"2026-01-10T07:36:29Z"`, v)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	type record struct {
		Name string `json:"name"`
	}

	var got record
	ok, err := GetJSON(ctx, kv, "rec", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, kv, "rec", record{Name: "x"}))
	ok, err = GetJSON(ctx, kv, "rec", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", got.Name)

	require.NoError(t, kv.Set(ctx, "rec", "{not json"))
	_, err = GetJSON(ctx, kv, "rec", &got)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "decode", perr.Op)
}

func TestMemory_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	boom := errors.New("disk full")
	kv.SetFailures(nil, boom, nil)

	err := kv.Set(ctx, KeyQueue, "[]")
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "set", perr.Op)
	assert.Equal(t, KeyQueue, perr.Key)
	assert.ErrorIs(t, err, boom)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("leveldb", t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}
