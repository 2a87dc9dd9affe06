package schema

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// TxType is the direction of a balance change.
type TxType string

const (
	// Earn adds to balance and total_earned.
	Earn TxType = "earn"
	// Spend subtracts from balance and adds to total_spent.
	Spend TxType = "spend"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	return t == Earn || t == Spend
}

// ErrInvalidTransaction is returned when a transaction fails validation.
var ErrInvalidTransaction = errors.New("invalid transaction")

// QueuedTransaction is a locally originated action not yet confirmed by the
// remote store.
type QueuedTransaction struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq"`

	Type        TxType    `json:"type"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`

	ProofImageURL string `json:"proofImageUrl,omitempty"`
	AppName       string `json:"appName,omitempty"`

	// Synced flips to true once the remote store has the transaction and the
	// profile delta has been applied. Synced entries are never re-applied.
	Synced bool `json:"synced"`
}

// NewTransaction is the caller-supplied part of a QueuedTransaction. The queue
// assigns ID, Seq and Synced.
type NewTransaction struct {
	Type          TxType
	Amount        float64
	Description   string
	Timestamp     time.Time
	ProofImageURL string
	AppName       string
}

// Validate checks the caller-supplied fields.
func (n NewTransaction) Validate() error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: type must be earn or spend (got %q)", ErrInvalidTransaction, n.Type)
	}
	if math.IsNaN(n.Amount) || math.IsInf(n.Amount, 0) {
		return fmt.Errorf("%w: amount must be finite", ErrInvalidTransaction)
	}
	if n.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative (got %v)", ErrInvalidTransaction, n.Amount)
	}
	return nil
}

// Validate checks a queue entry read back from storage or an import file.
func (q *QueuedTransaction) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTransaction)
	}
	if q.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidTransaction)
	}
	return NewTransaction{Type: q.Type, Amount: q.Amount}.Validate()
}

// ToRemote converts the queued entry into the record written to the remote
// store for userID. The remote store assigns the ID.
func (q *QueuedTransaction) ToRemote(userID string) Transaction {
	return Transaction{
		UserID:        userID,
		Amount:        q.Amount,
		Type:          q.Type,
		Description:   q.Description,
		Timestamp:     q.Timestamp.UTC().Format(time.RFC3339Nano),
		ProofImageURL: q.ProofImageURL,
		AppName:       q.AppName,
	}
}

// Transaction is a confirmed remote record. Timestamp is kept as the ISO
// string the remote store holds so validation can detect unparseable values.
type Transaction struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Type          TxType  `json:"type"`
	Description   string  `json:"description"`
	Timestamp     string  `json:"timestamp"`
	ProofImageURL string  `json:"proof_image_url,omitempty"`
	AppName       string  `json:"app_name,omitempty"`
}

// ParsedTimestamp parses Timestamp as RFC 3339.
func (t *Transaction) ParsedTimestamp() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, t.Timestamp)
}

// DuplicateKey identifies logically identical transactions. The ID is
// deliberately excluded: a re-sync can produce a new ID for the same action.
type DuplicateKey struct {
	UserID      string
	Amount      float64
	Type        TxType
	Description string
	Timestamp   string
}

// Key returns the duplicate-detection key for t.
func (t *Transaction) Key() DuplicateKey {
	return DuplicateKey{
		UserID:      t.UserID,
		Amount:      t.Amount,
		Type:        t.Type,
		Description: t.Description,
		Timestamp:   t.Timestamp,
	}
}
