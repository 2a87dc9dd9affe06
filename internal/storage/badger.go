package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerKV stores keys in a badger database. An empty dir opens an
// in-memory instance.
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens the badger database in dir.
func OpenBadger(dir string, logger *log.Logger) (*BadgerKV, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[badger] ", log.LstdFlags)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger}).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Get(_ context.Context, key string) (string, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &PersistenceError{Op: "get", Key: key, Err: err}
	}
	return string(value), true, nil
}

func (b *BadgerKV) Set(_ context.Context, key, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return &PersistenceError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (b *BadgerKV) Remove(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return &PersistenceError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's leveled logging through a *log.Logger.
type badgerLogger struct {
	l *log.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Printf("ERROR: "+format, args...)
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Printf("WARNING: "+format, args...)
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Printf(format, args...)
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Printf("DEBUG: "+format, args...)
}
