package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/mod/semver"

	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
)

// BackupCheck is the result of validating a backup. Warnings never make a
// backup unusable.
type BackupCheck struct {
	Valid    bool     `json:"valid" yaml:"valid"`
	Errors   []string `json:"errors" yaml:"errors"`
	Warnings []string `json:"warnings" yaml:"warnings"`
}

// CreateBackup snapshots profile and txs into the backup slot, replacing
// the previous backup, and appends the snapshot time to the history. txs
// must be the profile's full history.
func (s *Service) CreateBackup(ctx context.Context, profile *schema.Profile, txs []schema.Transaction, reason string) (*schema.DataBackup, error) {
	return s.createBackup(ctx, profile, txs, reason, true)
}

func (s *Service) createBackup(ctx context.Context, profile *schema.Profile, txs []schema.Transaction, reason string, complete bool) (*schema.DataBackup, error) {
	if txs == nil {
		txs = []schema.Transaction{}
	}

	b := &schema.DataBackup{
		Timestamp:    s.now().UTC(),
		Version:      schema.BackupVersion,
		Profile:      profile,
		Transactions: txs,
		Metadata: schema.BackupMetadata{
			TotalTransactions: len(txs),
			BackupReason:      reason,
			Complete:          complete,
		},
	}

	var lastSync time.Time
	if ok, err := storage.GetJSON(ctx, s.kv, storage.KeyLastSync, &lastSync); err == nil && ok {
		b.Metadata.LastSyncTime = &lastSync
	}

	if err := storage.SetJSON(ctx, s.kv, storage.KeyBackup, b); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}

	history, err := s.BackupHistory(ctx)
	if err != nil {
		s.logger.Printf("WARNING: discarding unreadable backup history: %v", err)
		history = nil
	}
	history = append(history, b.Timestamp)
	if len(history) > s.historyLimit {
		history = history[len(history)-s.historyLimit:]
	}
	if err := storage.SetJSON(ctx, s.kv, storage.KeyBackupHistory, history); err != nil {
		s.logger.Printf("WARNING: failed to update backup history: %v", err)
	}

	s.logger.Printf("Created backup (%s): %d transactions", reason, len(txs))
	return b, nil
}

// CreateBackupFromCache snapshots the current local cache.
func (s *Service) CreateBackupFromCache(ctx context.Context, reason string) (*schema.DataBackup, error) {
	p, txs, complete, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache: %w", err)
	}
	return s.createBackup(ctx, p, txs, reason, complete)
}

// Backup returns the stored backup without validating it.
func (s *Service) Backup(ctx context.Context) (*schema.DataBackup, error) {
	var b schema.DataBackup
	ok, err := storage.GetJSON(ctx, s.kv, storage.KeyBackup, &b)
	if err != nil || !ok {
		return nil, err
	}
	return &b, nil
}

// HasBackup reports whether a structurally valid backup exists. An
// undecodable backup counts as absent.
func (s *Service) HasBackup(ctx context.Context) (bool, error) {
	b, err := s.Backup(ctx)
	if err != nil {
		if isDecodeError(err) {
			return false, nil
		}
		return false, err
	}
	return b != nil && s.ValidateBackup(b).Valid, nil
}

// RestoreFromBackup loads and re-validates the backup and writes it into
// the local cache. It returns (nil, nil) when there is no usable backup.
func (s *Service) RestoreFromBackup(ctx context.Context) (*schema.DataBackup, error) {
	b, err := s.Backup(ctx)
	if err != nil {
		if isDecodeError(err) {
			s.logger.Printf("WARNING: backup is unreadable: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if b == nil {
		s.logger.Printf("No backup to restore")
		return nil, nil
	}

	check := s.ValidateBackup(b)
	if !check.Valid {
		s.logger.Printf("WARNING: backup is invalid: %v", check.Errors)
		return nil, nil
	}
	for _, w := range check.Warnings {
		s.logger.Printf("WARNING: %s", w)
	}

	if s.cache != nil {
		if err := s.cache.Replace(ctx, b.Profile, b.Transactions, b.Metadata.Complete); err != nil {
			return nil, fmt.Errorf("failed to write restored data: %w", err)
		}
	}

	s.logger.Printf("Restored backup from %s (%d transactions)", b.Timestamp.Format(time.RFC3339), len(b.Transactions))
	return b, nil
}

// ValidateBackup checks structure, schema version and age.
func (s *Service) ValidateBackup(b *schema.DataBackup) BackupCheck {
	check := BackupCheck{Errors: []string{}, Warnings: []string{}}
	if b == nil {
		check.Errors = append(check.Errors, "backup is missing")
		return check
	}

	if b.Timestamp.IsZero() {
		check.Errors = append(check.Errors, "backup has no timestamp")
	}

	v := "v" + b.Version
	switch {
	case !semver.IsValid(v):
		check.Errors = append(check.Errors, fmt.Sprintf("invalid backup version %q", b.Version))
	case semver.Major(v) != semver.Major("v"+schema.BackupVersion):
		check.Errors = append(check.Errors, fmt.Sprintf(
			"backup version %s is incompatible with %s", b.Version, schema.BackupVersion))
	}

	if e := s.validator.ValidateProfile(b.Profile); e != nil {
		check.Errors = append(check.Errors, e.Error())
	}
	for _, tx := range b.Transactions {
		if e := s.validator.ValidateTransaction(tx); e != nil {
			check.Errors = append(check.Errors, e.Error())
		}
	}

	if b.Metadata.TotalTransactions != len(b.Transactions) {
		check.Warnings = append(check.Warnings, fmt.Sprintf(
			"metadata lists %d transactions, backup holds %d", b.Metadata.TotalTransactions, len(b.Transactions)))
	}
	if !b.Timestamp.IsZero() {
		if age := b.Age(s.now()); age > s.maxBackupAge {
			check.Warnings = append(check.Warnings, fmt.Sprintf(
				"backup is stale: %d days old", int(age.Hours()/24)))
		}
	}

	check.Valid = len(check.Errors) == 0
	return check
}

// BackupHistory returns the timestamps of retained backups, oldest first.
func (s *Service) BackupHistory(ctx context.Context) ([]time.Time, error) {
	var history []time.Time
	if _, err := storage.GetJSON(ctx, s.kv, storage.KeyBackupHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func isDecodeError(err error) bool {
	var perr *storage.PersistenceError
	return errors.As(err, &perr) && perr.Op == "decode"
}
