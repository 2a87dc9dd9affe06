// Package integrity detects corruption of the locally cached financial
// state and recovers from it.
//
// A startup check validates the cached profile and transactions, checks
// that the profile agrees with the transactions it was built from, and
// flags duplicates. Recover turns the detected faults into a recovered or
// not-recovered outcome: HIGH faults are answered with a backup restore,
// recoverable MEDIUM/LOW faults with their FixStrategy.
package integrity

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
)

// Defaults for Config.
const (
	DefaultMaxBackupAge = 7 * 24 * time.Hour
	DefaultHistoryLimit = 5
)

var tolerance = decimal.NewFromFloat(schema.BalanceTolerance)

// Report is the outcome of a startup check.
type Report struct {
	IsValid   bool               `json:"isValid" yaml:"isValid"`
	Errors    []*CorruptionError `json:"errors" yaml:"errors"`
	Warnings  []string           `json:"warnings" yaml:"warnings"`
	HasBackup bool               `json:"hasBackup" yaml:"hasBackup"`
}

// RecoveryResult is the outcome of Recover.
type RecoveryResult struct {
	Recovered      bool `json:"recovered" yaml:"recovered"`
	BackupRestored bool `json:"backupRestored" yaml:"backupRestored"`
}

// Config configures a Service.
type Config struct {
	Validator Validator
	Repairer  ProfileRepairer

	// OnIrrecoverable is told about HIGH faults no backup could resolve. It
	// is called at most once per Recover call.
	OnIrrecoverable func(errs []*CorruptionError)

	MaxBackupAge time.Duration
	HistoryLimit int
	Logger       *log.Logger
	Now          func() time.Time
}

// Service runs integrity checks, recovery and backups.
type Service struct {
	kv    storage.KV
	cache *Cache

	validator       Validator
	repairer        ProfileRepairer
	onIrrecoverable func([]*CorruptionError)
	maxBackupAge    time.Duration
	historyLimit    int
	logger          *log.Logger
	now             func() time.Time
}

// NewService returns a Service over kv. When cfg.Repairer is nil the profile
// is recomputed from the local cache.
func NewService(kv storage.KV, cache *Cache, cfg Config) *Service {
	s := &Service{
		kv:              kv,
		cache:           cache,
		validator:       cfg.Validator,
		repairer:        cfg.Repairer,
		onIrrecoverable: cfg.OnIrrecoverable,
		maxBackupAge:    cfg.MaxBackupAge,
		historyLimit:    cfg.HistoryLimit,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
	if s.validator == nil {
		s.validator = StructuralValidator{}
	}
	if s.repairer == nil && cache != nil {
		s.repairer = CacheRepairer{Cache: cache}
	}
	if s.maxBackupAge <= 0 {
		s.maxBackupAge = DefaultMaxBackupAge
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "[integrity] ", log.LstdFlags)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CheckCached runs CheckStartup against the local cache. A cache that cannot
// be read degrades to a single storage fault. When the cached transactions
// are not the profile's full history the profile totals cannot be checked
// against them; that is reported as a warning.
func (s *Service) CheckCached(ctx context.Context) Report {
	p, txs, complete, err := s.cache.Snapshot(ctx)
	if err != nil {
		s.logger.Printf("WARNING: failed to load cache: %v", err)
		return s.degraded(ctx, err)
	}
	report := s.check(ctx, p, txs, complete)
	if !complete && p != nil && len(txs) > 0 {
		report.Warnings = append(report.Warnings, partialCacheWarning)
	}
	return report
}

const partialCacheWarning = "cached transactions are partial; profile totals not checked (run a sync with cache refresh)"

// CheckStartup validates profile and transactions, which must be the
// profile's full history. It never panics and never returns a raw error:
// unexpected failures become one STORAGE_CORRUPTION/HIGH fault.
func (s *Service) CheckStartup(ctx context.Context, profile *schema.Profile, txs []schema.Transaction) Report {
	return s.check(ctx, profile, txs, true)
}

func (s *Service) check(ctx context.Context, profile *schema.Profile, txs []schema.Transaction, consistency bool) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("ERROR: integrity check panicked: %v", r)
			report = s.degraded(ctx, r)
		}
	}()

	report = Report{Errors: []*CorruptionError{}, Warnings: []string{}}

	if e := s.validator.ValidateProfile(profile); e != nil {
		report.Errors = append(report.Errors, e)
	}
	for _, tx := range txs {
		if e := s.validator.ValidateTransaction(tx); e != nil {
			report.Errors = append(report.Errors, e)
		}
	}

	if consistency && profile != nil && len(txs) > 0 {
		report.Errors = append(report.Errors, s.checkConsistency(profile, txs)...)
	}

	report.Warnings = append(report.Warnings, duplicateWarnings(txs)...)

	hasBackup, err := s.HasBackup(ctx)
	if err != nil {
		s.logger.Printf("WARNING: failed to read backup: %v", err)
		return s.degraded(ctx, err)
	}
	report.HasBackup = hasBackup
	report.IsValid = len(report.Errors) == 0

	if !report.IsValid {
		s.logger.Printf("Integrity check found %d errors, %d warnings", len(report.Errors), len(report.Warnings))
	}
	return report
}

func (s *Service) degraded(ctx context.Context, cause any) Report {
	hasBackup, _ := s.HasBackup(ctx)
	return Report{
		IsValid:   false,
		Errors:    []*CorruptionError{storageFault(cause)},
		Warnings:  []string{},
		HasBackup: hasBackup,
	}
}

func (s *Service) checkConsistency(p *schema.Profile, txs []schema.Transaction) []*CorruptionError {
	if !finite(p.Balance) || !finite(p.TotalEarned) || !finite(p.TotalSpent) {
		// Already reported structurally.
		return nil
	}

	t := recompute(txs)
	var errs []*CorruptionError

	mismatch := func(cached float64, want decimal.Decimal) bool {
		return decimal.NewFromFloat(cached).Sub(want).Abs().GreaterThan(tolerance)
	}

	if mismatch(p.Balance, t.balance()) {
		errs = append(errs, &CorruptionError{
			Kind: KindProfile, Severity: SeverityMedium, Recoverable: true, Fix: FixRecomputeProfile,
			Field:   "balance",
			Message: fmt.Sprintf("balance %v does not match transactions (%s)", p.Balance, t.balance()),
		})
	}
	if mismatch(p.TotalEarned, t.earned) {
		errs = append(errs, &CorruptionError{
			Kind: KindProfile, Severity: SeverityLow, Recoverable: true, Fix: FixRecomputeProfile,
			Field:   "total_earned",
			Message: fmt.Sprintf("total_earned %v does not match transactions (%s)", p.TotalEarned, t.earned),
		})
	}
	if mismatch(p.TotalSpent, t.spent) {
		errs = append(errs, &CorruptionError{
			Kind: KindProfile, Severity: SeverityLow, Recoverable: true, Fix: FixRecomputeProfile,
			Field:   "total_spent",
			Message: fmt.Sprintf("total_spent %v does not match transactions (%s)", p.TotalSpent, t.spent),
		})
	}
	return errs
}

func duplicateWarnings(txs []schema.Transaction) []string {
	var warnings []string
	seen := make(map[schema.DuplicateKey]int, len(txs))
	for i := range txs {
		key := txs[i].Key()
		seen[key]++
		if seen[key] == 2 {
			warnings = append(warnings, fmt.Sprintf(
				"duplicate transaction: %s %v %q at %s for user %s",
				key.Type, key.Amount, key.Description, key.Timestamp, key.UserID))
		}
	}
	return warnings
}

// Recover resolves errs. HIGH faults are handled first by restoring the
// backup; the first successful restore ends recovery. Otherwise each
// recoverable MEDIUM/LOW fault is handled by its FixStrategy, running each
// strategy at most once. Recovered is true only when nothing is left
// unresolved.
func (s *Service) Recover(ctx context.Context, errs []*CorruptionError) RecoveryResult {
	var high, rest []*CorruptionError
	for _, e := range errs {
		if e == nil {
			continue
		}
		if e.Severity == SeverityHigh {
			high = append(high, e)
		} else {
			rest = append(rest, e)
		}
	}

	if len(high) > 0 {
		for _, e := range high {
			if s.tryRestore(ctx) {
				s.logger.Printf("Recovered from %s by restoring backup", e.Kind)
				return RecoveryResult{Recovered: true, BackupRestored: true}
			}
		}
		s.logger.Printf("ERROR: %d irrecoverable integrity faults, no usable backup", len(high))
		if s.onIrrecoverable != nil {
			s.onIrrecoverable(high)
		}
	}

	unresolved := len(high)
	done := make(map[FixStrategy]bool)
	failed := make(map[FixStrategy]bool)

	for _, e := range rest {
		if !e.Recoverable {
			unresolved++
			continue
		}
		if done[e.Fix] {
			continue
		}
		if failed[e.Fix] {
			unresolved++
			continue
		}

		ok, restored := s.applyFix(ctx, e)
		if restored {
			// The restored cache supersedes every other fix.
			return RecoveryResult{Recovered: true, BackupRestored: true}
		}
		if ok {
			done[e.Fix] = true
		} else {
			failed[e.Fix] = true
			unresolved++
		}
	}

	return RecoveryResult{Recovered: unresolved == 0}
}

// applyFix runs the fix for e. restored reports that the whole cache was
// replaced from the backup.
func (s *Service) applyFix(ctx context.Context, e *CorruptionError) (ok, restored bool) {
	switch e.Fix {
	case FixRecomputeProfile:
		if s.repairer == nil {
			s.logger.Printf("WARNING: no profile repairer configured, cannot fix %s", e.Field)
			return false, false
		}
		if err := s.repairer.RecomputeProfile(ctx); err != nil {
			s.logger.Printf("WARNING: failed to recompute profile: %v", err)
			return false, false
		}
		s.logger.Printf("Recomputed profile from cached transactions")
		return true, false

	case FixRequiresBackup:
		if s.tryRestore(ctx) {
			return true, true
		}
		return false, false

	default:
		s.logger.Printf("Declining fix for %s (%s): requires external context", e.Kind, e.Message)
		return false, false
	}
}

func (s *Service) tryRestore(ctx context.Context) bool {
	b, err := s.RestoreFromBackup(ctx)
	if err != nil {
		s.logger.Printf("WARNING: backup restore failed: %v", err)
		return false
	}
	return b != nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
