// Package remote defines the narrow contract offsync needs from the remote
// record store, and the implementations of it.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/offsync/internal/schema"
)

// Store is the remote source of truth.
//
// GetProfile returns (nil, nil) when the user has no profile.
// CreateTransaction returns the stored record with its server-assigned ID.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*schema.Profile, error)
	UpdateProfile(ctx context.Context, userID string, update schema.ProfileUpdate) error
	CreateTransaction(ctx context.Context, tx schema.Transaction) (*schema.Transaction, error)
}

// TransactionLister is implemented by stores that can list a user's
// confirmed transactions. It is used to refresh the local cache.
type TransactionLister interface {
	ListTransactions(ctx context.Context, userID string) ([]schema.Transaction, error)
}

// Write operations named in RemoteWriteError.
const (
	OpCreateTransaction = "create_transaction"
	OpUpdateProfile     = "update_profile"
)

// ErrProfileNotFound is returned when an update targets a missing profile.
var ErrProfileNotFound = errors.New("profile not found")

// RemoteWriteError reports a rejected remote write.
type RemoteWriteError struct {
	Op  string
	Err error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// NetworkError reports a remote call that could not complete, typically a
// timeout.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// classify wraps err as a NetworkError when the call ran out of time, and
// as a RemoteWriteError for failed writes.
func classify(op string, write bool, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &NetworkError{Op: op, Err: err}
	}
	if write {
		return &RemoteWriteError{Op: op, Err: err}
	}
	return fmt.Errorf("remote %s failed: %w", op, err)
}
