// Package storage provides the durable key-value store offsync keeps its
// queue, cache and backups in.
//
// Every value is a JSON string stored under one of the fixed keys below.
// Two backends are available: SQLiteKV (the default, a single WAL-mode
// database file) and BadgerKV. Memory is an in-process store for tests.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
)

// Keys used by offsync. Values are JSON strings.
const (
	KeyQueue              = "offline_transaction_queue"
	KeyQueueSeq           = "offline_transaction_queue_seq"
	KeyLastSync           = "last_sync_time"
	KeyNetworkStatus      = "network_status"
	KeyBackup             = "data_backup"
	KeyBackupHistory      = "backup_history"
	KeyCachedProfile      = "cached_profile"
	KeyCachedTransactions = "cached_transactions"
	KeyCacheComplete      = "cached_transactions_complete"
)

// KV is the local storage contract. Get reports ok=false when the key is
// absent. Implementations wrap every failure in a *PersistenceError.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open opens the store for backend under dataDir.
func Open(backend, dataDir string, logger *log.Logger) (KV, error) {
	switch backend {
	case "", BackendSQLite:
		return OpenSQLite(filepath.Join(dataDir, "offsync.db"))
	case BackendBadger:
		return OpenBadger(filepath.Join(dataDir, "badger"), logger)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want sqlite, badger or memory)", backend)
	}
}

// GetJSON reads key and decodes it into v. It returns ok=false when the key
// is absent. A value that fails to decode is reported as a *PersistenceError
// with Op "decode".
func GetJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, &PersistenceError{Op: "decode", Key: key, Err: err}
	}
	return true, nil
}

// SetJSON encodes v and writes it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "encode", Key: key, Err: err}
	}
	return kv.Set(ctx, key, string(data))
}
