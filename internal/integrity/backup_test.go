package integrity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/storage"
)

func TestCreateBackup(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := setupService(t, nil)

	lastSync := testNow.Add(-time.Hour)
	require.NoError(t, storage.SetJSON(ctx, kv, storage.KeyLastSync, lastSync))

	p := &schema.Profile{ID: "u1", Balance: 10, TotalEarned: 10}
	b, err := s.CreateBackup(ctx, p, []schema.Transaction{tx("1", schema.Earn, 10)}, "manual")
	require.NoError(t, err)

	assert.Equal(t, schema.BackupVersion, b.Version)
	assert.Equal(t, testNow, b.Timestamp)
	assert.Equal(t, 1, b.Metadata.TotalTransactions)
	assert.Equal(t, "manual", b.Metadata.BackupReason)
	require.NotNil(t, b.Metadata.LastSyncTime)
	assert.True(t, lastSync.Equal(*b.Metadata.LastSyncTime))

	ok, err := s.HasBackup(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateBackup_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	now := testNow
	s, _, _ := setupService(t, func(c *Config) { c.Now = func() time.Time { return now } })

	var stamps []time.Time
	for i := 0; i < 7; i++ {
		now = testNow.Add(time.Duration(i) * time.Minute)
		stamps = append(stamps, now)
		_, err := s.CreateBackup(ctx, nil, nil, "auto")
		require.NoError(t, err)
	}

	history, err := s.BackupHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, h := range history {
		assert.True(t, stamps[i+2].Equal(h), "oldest entries should be dropped first")
	}

	b, err := s.Backup(ctx)
	require.NoError(t, err)
	assert.True(t, stamps[6].Equal(b.Timestamp), "slot holds the newest backup")
}

func TestRestoreFromBackup_Absent(t *testing.T) {
	s, _, _ := setupService(t, nil)
	b, err := s.RestoreFromBackup(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestRestoreFromBackup_Invalid(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := setupService(t, nil)

	require.NoError(t, storage.SetJSON(ctx, kv, storage.KeyBackup, schema.DataBackup{
		Timestamp: testNow,
		Version:   "2.0.0",
	}))
	b, err := s.RestoreFromBackup(ctx)
	require.NoError(t, err)
	assert.Nil(t, b, "incompatible major version is not usable")

	require.NoError(t, kv.Set(ctx, storage.KeyBackup, "{truncated"))
	b, err = s.RestoreFromBackup(ctx)
	require.NoError(t, err)
	assert.Nil(t, b, "undecodable backup is not usable")
}

func TestRestoreFromBackup_StaleStillRestores(t *testing.T) {
	ctx := context.Background()
	created := testNow.Add(-10 * 24 * time.Hour)
	now := created
	s, _, cache := setupService(t, func(c *Config) { c.Now = func() time.Time { return now } })

	p := &schema.Profile{ID: "u1", Balance: 3, TotalEarned: 3}
	_, err := s.CreateBackup(ctx, p, []schema.Transaction{tx("1", schema.Earn, 3)}, "old")
	require.NoError(t, err)

	now = testNow
	b, err := s.RestoreFromBackup(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)

	check := s.ValidateBackup(b)
	assert.True(t, check.Valid)
	assert.Empty(t, check.Errors)
	require.Len(t, check.Warnings, 1)
	assert.True(t, strings.Contains(check.Warnings[0], "stale"))

	cached, err := cache.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, *p, *cached)
}

func TestValidateBackup(t *testing.T) {
	s, _, _ := setupService(t, nil)

	tests := []struct {
		name      string
		backup    *schema.DataBackup
		wantValid bool
		wantWarn  int
	}{
		{
			name:      "nil",
			backup:    nil,
			wantValid: false,
		},
		{
			name:      "minor version bump is compatible",
			backup:    &schema.DataBackup{Timestamp: testNow, Version: "1.4.2", Transactions: []schema.Transaction{}},
			wantValid: true,
		},
		{
			name:      "garbage version",
			backup:    &schema.DataBackup{Timestamp: testNow, Version: "latest"},
			wantValid: false,
		},
		{
			name:      "missing timestamp",
			backup:    &schema.DataBackup{Version: "1.0.0"},
			wantValid: false,
		},
		{
			name: "corrupt transaction",
			backup: &schema.DataBackup{
				Timestamp:    testNow,
				Version:      "1.0.0",
				Transactions: []schema.Transaction{{ID: "x"}},
				Metadata:     schema.BackupMetadata{TotalTransactions: 1},
			},
			wantValid: false,
		},
		{
			name: "metadata count mismatch warns",
			backup: &schema.DataBackup{
				Timestamp: testNow,
				Version:   "1.0.0",
				Metadata:  schema.BackupMetadata{TotalTransactions: 3},
			},
			wantValid: true,
			wantWarn:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := s.ValidateBackup(tt.backup)
			assert.Equal(t, tt.wantValid, check.Valid, "errors: %v", check.Errors)
			assert.Len(t, check.Warnings, tt.wantWarn)
		})
	}
}
