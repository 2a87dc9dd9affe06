package schema

import "math"

// BalanceTolerance is the allowed drift between balance and
// total_earned - total_spent before the profile counts as inconsistent.
const BalanceTolerance = 0.01

// Profile is the remote source of truth for a user's balance, cached locally.
type Profile struct {
	ID          string  `json:"id"`
	Balance     float64 `json:"balance"`
	TotalEarned float64 `json:"total_earned"`
	TotalSpent  float64 `json:"total_spent"`
}

// Apply returns p with one transaction applied. Spends are not floored at
// zero.
func (p Profile) Apply(typ TxType, amount float64) Profile {
	switch typ {
	case Earn:
		p.Balance += amount
		p.TotalEarned += amount
	case Spend:
		p.Balance -= amount
		p.TotalSpent += amount
	}
	return p
}

// Consistent reports whether balance matches earned minus spent within
// BalanceTolerance.
func (p Profile) Consistent() bool {
	return math.Abs(p.Balance-(p.TotalEarned-p.TotalSpent)) <= BalanceTolerance
}

// ProfileUpdate is a partial write to a remote profile. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	Balance     *float64 `json:"balance,omitempty"`
	TotalEarned *float64 `json:"total_earned,omitempty"`
	TotalSpent  *float64 `json:"total_spent,omitempty"`
}

// FullUpdate returns an update that overwrites all three numeric fields with
// p's values.
func FullUpdate(p Profile) ProfileUpdate {
	return ProfileUpdate{
		Balance:     &p.Balance,
		TotalEarned: &p.TotalEarned,
		TotalSpent:  &p.TotalSpent,
	}
}

// ApplyTo returns p with the non-nil fields of u applied.
func (u ProfileUpdate) ApplyTo(p Profile) Profile {
	if u.Balance != nil {
		p.Balance = *u.Balance
	}
	if u.TotalEarned != nil {
		p.TotalEarned = *u.TotalEarned
	}
	if u.TotalSpent != nil {
		p.TotalSpent = *u.TotalSpent
	}
	return p
}
