package integrity

import (
	"fmt"
	"math"

	"github.com/mschirtzinger/offsync/internal/schema"
)

// Validator checks the structure of single records. A nil result means the
// record is well-formed.
type Validator interface {
	ValidateProfile(p *schema.Profile) *CorruptionError
	ValidateTransaction(tx schema.Transaction) *CorruptionError
}

// StructuralValidator is the default Validator.
type StructuralValidator struct{}

func (StructuralValidator) ValidateProfile(p *schema.Profile) *CorruptionError {
	if p == nil {
		return nil
	}
	if p.ID == "" {
		return &CorruptionError{
			Kind: KindProfile, Severity: SeverityHigh, Fix: FixRequiresBackup,
			Message: "profile has no id", Field: "id",
		}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"balance", p.Balance},
		{"total_earned", p.TotalEarned},
		{"total_spent", p.TotalSpent},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &CorruptionError{
				Kind: KindProfile, Severity: SeverityHigh, Fix: FixRequiresBackup,
				Message: fmt.Sprintf("%s is not a finite number", f.name), Field: f.name,
			}
		}
	}
	if p.TotalEarned < 0 {
		return &CorruptionError{
			Kind: KindProfile, Severity: SeverityLow, Recoverable: true, Fix: FixRecomputeProfile,
			Message: "total_earned is negative", Field: "total_earned",
		}
	}
	if p.TotalSpent < 0 {
		return &CorruptionError{
			Kind: KindProfile, Severity: SeverityLow, Recoverable: true, Fix: FixRecomputeProfile,
			Message: "total_spent is negative", Field: "total_spent",
		}
	}
	return nil
}

func (StructuralValidator) ValidateTransaction(tx schema.Transaction) *CorruptionError {
	high := func(field, msg string) *CorruptionError {
		return &CorruptionError{
			Kind: KindTransaction, Severity: SeverityHigh, Fix: FixRequiresBackup,
			Message: fmt.Sprintf("transaction %q: %s", tx.ID, msg), Field: field,
		}
	}
	medium := func(field, msg string) *CorruptionError {
		return &CorruptionError{
			Kind: KindTransaction, Severity: SeverityMedium, Fix: FixRequiresExternalContext,
			Message: fmt.Sprintf("transaction %q: %s", tx.ID, msg), Field: field,
		}
	}

	switch {
	case tx.ID == "":
		return high("id", "missing id")
	case tx.UserID == "":
		return high("user_id", "missing user_id")
	case !tx.Type.Valid():
		return high("type", fmt.Sprintf("unknown type %q", tx.Type))
	case math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0):
		return medium("amount", "amount is not a finite number")
	case tx.Amount < 0:
		return medium("amount", "amount is negative")
	}
	if _, err := tx.ParsedTimestamp(); err != nil {
		return medium("timestamp", fmt.Sprintf("unparseable timestamp %q", tx.Timestamp))
	}
	return nil
}
