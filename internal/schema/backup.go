package schema

import "time"

// BackupVersion is the schema version written into new backups. Backups
// whose major version differs cannot be restored.
const BackupVersion = "1.0.0"

// DataBackup is a point-in-time snapshot of the cached profile and its
// transactions.
type DataBackup struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	Profile      *Profile       `json:"profile"`
	Transactions []Transaction  `json:"transactions"`
	Metadata     BackupMetadata `json:"metadata"`
}

// BackupMetadata describes why and from what state a backup was taken.
type BackupMetadata struct {
	TotalTransactions int        `json:"totalTransactions"`
	LastSyncTime      *time.Time `json:"lastSyncTime"`
	BackupReason      string     `json:"backupReason"`

	// Complete is set when the transactions are the profile's full history.
	Complete bool `json:"complete,omitempty"`
}

// Age returns how old the backup is at now.
func (b *DataBackup) Age(now time.Time) time.Duration {
	return now.Sub(b.Timestamp)
}
