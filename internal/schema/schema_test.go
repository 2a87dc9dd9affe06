package schema

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestNewTransaction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tx      NewTransaction
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid earn",
			tx:   NewTransaction{Type: Earn, Amount: 10, Description: "reward"},
		},
		{
			name: "valid zero spend",
			tx:   NewTransaction{Type: Spend, Amount: 0},
		},
		{
			name:    "unknown type",
			tx:      NewTransaction{Type: "refund", Amount: 1},
			wantErr: true,
			errMsg:  "type must be earn or spend",
		},
		{
			name:    "negative amount",
			tx:      NewTransaction{Type: Earn, Amount: -1},
			wantErr: true,
			errMsg:  "amount must be non-negative",
		},
		{
			name:    "NaN amount",
			tx:      NewTransaction{Type: Earn, Amount: math.NaN()},
			wantErr: true,
			errMsg:  "amount must be finite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrInvalidTransaction) {
				t.Errorf("Validate() error = %v, want ErrInvalidTransaction", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestProfile_Apply(t *testing.T) {
	start := Profile{ID: "u1"}

	p := start.Apply(Earn, 10)
	if p.Balance != 10 || p.TotalEarned != 10 || p.TotalSpent != 0 {
		t.Fatalf("after earn: got %+v", p)
	}

	p = p.Apply(Spend, 25)
	if p.Balance != -15 {
		t.Errorf("balance = %v, want -15 (no floor at zero)", p.Balance)
	}
	if p.TotalSpent != 25 {
		t.Errorf("total_spent = %v, want 25", p.TotalSpent)
	}
	if !p.Consistent() {
		t.Errorf("profile %+v should be consistent", p)
	}

	if start.Balance != 0 {
		t.Errorf("Apply must not mutate the receiver, got %+v", start)
	}
}

func TestProfile_Consistent(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		want bool
	}{
		{"exact", Profile{Balance: 5, TotalEarned: 10, TotalSpent: 5}, true},
		{"within tolerance", Profile{Balance: 5.005, TotalEarned: 10, TotalSpent: 5}, true},
		{"outside tolerance", Profile{Balance: 100, TotalEarned: 90, TotalSpent: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Consistent(); got != tt.want {
				t.Errorf("Consistent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfileUpdate_ApplyTo(t *testing.T) {
	balance := 42.0
	u := ProfileUpdate{Balance: &balance}

	got := u.ApplyTo(Profile{ID: "u1", Balance: 1, TotalEarned: 2, TotalSpent: 3})
	want := Profile{ID: "u1", Balance: 42, TotalEarned: 2, TotalSpent: 3}
	if got != want {
		t.Errorf("ApplyTo() = %+v, want %+v", got, want)
	}

	full := FullUpdate(Profile{Balance: 7, TotalEarned: 9, TotalSpent: 2})
	if got := full.ApplyTo(Profile{ID: "u1"}); got.Balance != 7 || got.TotalEarned != 9 || got.TotalSpent != 2 {
		t.Errorf("FullUpdate().ApplyTo() = %+v", got)
	}
}

func TestQueuedTransaction_ToRemote(t *testing.T) {
	ts := time.Date(2026, 1, 10, 7, 36, 29, 0, time.FixedZone("X", 3600))
	q := QueuedTransaction{
		ID:            "local-1",
		Type:          Spend,
		Amount:        5,
		Description:   "coffee",
		Timestamp:     ts,
		ProofImageURL: "https://img.example/1.png",
		AppName:       "cafe",
	}

	got := q.ToRemote("user-1")
	if got.ID != "" {
		t.Errorf("remote ID should be left for the server, got %q", got.ID)
	}
	if got.UserID != "user-1" || got.Type != Spend || got.Amount != 5 {
		t.Errorf("ToRemote() = %+v", got)
	}
	if got.Timestamp != "2026-01-10T06:36:29Z" {
		t.Errorf("Timestamp = %q, want UTC RFC3339", got.Timestamp)
	}
	if got.ProofImageURL != q.ProofImageURL || got.AppName != q.AppName {
		t.Errorf("optional fields not carried: %+v", got)
	}
}

func TestQueuedTransaction_JSONFieldNames(t *testing.T) {
	q := QueuedTransaction{ID: "a", Type: Earn, Amount: 1, Timestamp: time.Unix(0, 0).UTC(), AppName: "app"}
	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, field := range []string{`"appName":"app"`, `"synced":false`, `"seq":0`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("JSON %s missing %s", data, field)
		}
	}
	if strings.Contains(string(data), "proofImageUrl") {
		t.Errorf("empty proofImageUrl should be omitted: %s", data)
	}
}

func TestTransaction_KeyIgnoresID(t *testing.T) {
	a := Transaction{ID: "1", UserID: "u", Amount: 5, Type: Earn, Description: "x", Timestamp: "2026-01-01T00:00:00Z"}
	b := a
	b.ID = "2"
	if a.Key() != b.Key() {
		t.Errorf("keys differ for transactions that only differ by ID")
	}
	b.Amount = 6
	if a.Key() == b.Key() {
		t.Errorf("keys equal for transactions with different amounts")
	}
}
