package integrity

import "fmt"

// Kind classifies what was found corrupt.
type Kind string

const (
	KindProfile     Kind = "PROFILE_CORRUPTION"
	KindTransaction Kind = "TRANSACTION_CORRUPTION"
	KindStorage     Kind = "STORAGE_CORRUPTION"
)

// Severity orders faults for recovery. HIGH faults go to backup restore.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// FixStrategy is the closed set of repairs Recover knows about.
type FixStrategy int

const (
	// FixRequiresExternalContext means no local repair exists. Recover
	// declines it explicitly.
	FixRequiresExternalContext FixStrategy = iota
	// FixRecomputeProfile rebuilds the profile totals and balance from the
	// cached transaction list.
	FixRecomputeProfile
	// FixRequiresBackup restores the whole cache from the backup slot.
	FixRequiresBackup
)

func (f FixStrategy) String() string {
	switch f {
	case FixRecomputeProfile:
		return "recompute_profile"
	case FixRequiresBackup:
		return "requires_backup"
	default:
		return "requires_external_context"
	}
}

// MarshalText renders the strategy by name in reports.
func (f FixStrategy) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// CorruptionError is one detected fault.
type CorruptionError struct {
	Kind        Kind        `json:"kind" yaml:"kind"`
	Severity    Severity    `json:"severity" yaml:"severity"`
	Recoverable bool        `json:"recoverable" yaml:"recoverable"`
	Message     string      `json:"message" yaml:"message"`
	Field       string      `json:"field,omitempty" yaml:"field,omitempty"`
	Fix         FixStrategy `json:"fix" yaml:"fix"`
}

func (e *CorruptionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s [%s]", e.Kind, e.Severity, e.Message, e.Field)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Severity, e.Message)
}

// storageFault is the single result a failed check degrades to.
func storageFault(cause any) *CorruptionError {
	return &CorruptionError{
		Kind:     KindStorage,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("integrity check failed: %v", cause),
		Fix:      FixRequiresBackup,
	}
}
