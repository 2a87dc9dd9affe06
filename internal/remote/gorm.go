package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mschirtzinger/offsync/internal/schema"
)

type profileRow struct {
	ID          string  `gorm:"primaryKey;size:64"`
	Balance     float64 `gorm:"not null;default:0"`
	TotalEarned float64 `gorm:"not null;default:0"`
	TotalSpent  float64 `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

func (profileRow) TableName() string { return "profiles" }

type transactionRow struct {
	ID            string  `gorm:"primaryKey;size:64"`
	UserID        string  `gorm:"index;size:64;not null"`
	Amount        float64 `gorm:"not null"`
	Type          string  `gorm:"size:16;not null"`
	Description   string
	Timestamp     string `gorm:"index;not null"`
	ProofImageURL string
	AppName       string
	CreatedAt     time.Time
}

func (transactionRow) TableName() string { return "transactions" }

// BeforeCreate assigns the server-side ID.
func (r *transactionRow) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *transactionRow) toSchema() *schema.Transaction {
	return &schema.Transaction{
		ID:            r.ID,
		UserID:        r.UserID,
		Amount:        r.Amount,
		Type:          schema.TxType(r.Type),
		Description:   r.Description,
		Timestamp:     r.Timestamp,
		ProofImageURL: r.ProofImageURL,
		AppName:       r.AppName,
	}
}

// GormStore is a Store backed by a SQL database through gorm. DSNs starting
// with postgres:// or postgresql:// use Postgres; anything else is treated
// as a SQLite path.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to dsn and migrates the profiles and transactions
// tables.
func OpenGorm(dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote store: %w", err)
	}

	if err := db.AutoMigrate(&profileRow{}, &transactionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) GetProfile(ctx context.Context, userID string) (*schema.Profile, error) {
	var row profileRow
	result := s.db.WithContext(ctx).Where("id = ?", userID).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify("get_profile", false, result.Error)
	}
	return &schema.Profile{
		ID:          row.ID,
		Balance:     row.Balance,
		TotalEarned: row.TotalEarned,
		TotalSpent:  row.TotalSpent,
	}, nil
}

func (s *GormStore) UpdateProfile(ctx context.Context, userID string, update schema.ProfileUpdate) error {
	fields := map[string]any{}
	if update.Balance != nil {
		fields["balance"] = *update.Balance
	}
	if update.TotalEarned != nil {
		fields["total_earned"] = *update.TotalEarned
	}
	if update.TotalSpent != nil {
		fields["total_spent"] = *update.TotalSpent
	}
	if len(fields) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).Model(&profileRow{}).Where("id = ?", userID).Updates(fields)
	if result.Error != nil {
		return classify(OpUpdateProfile, true, result.Error)
	}
	if result.RowsAffected == 0 {
		return &RemoteWriteError{Op: OpUpdateProfile, Err: ErrProfileNotFound}
	}
	return nil
}

func (s *GormStore) CreateTransaction(ctx context.Context, tx schema.Transaction) (*schema.Transaction, error) {
	row := transactionRow{
		ID:            tx.ID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		Type:          string(tx.Type),
		Description:   tx.Description,
		Timestamp:     tx.Timestamp,
		ProofImageURL: tx.ProofImageURL,
		AppName:       tx.AppName,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, classify(OpCreateTransaction, true, err)
	}
	return row.toSchema(), nil
}

// ListTransactions returns userID's transactions ordered by timestamp.
func (s *GormStore) ListTransactions(ctx context.Context, userID string) ([]schema.Transaction, error) {
	var rows []transactionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify("list_transactions", false, err)
	}

	txs := make([]schema.Transaction, 0, len(rows))
	for i := range rows {
		txs = append(txs, *rows[i].toSchema())
	}
	return txs, nil
}

// EnsureProfile creates an empty profile for userID if none exists.
func (s *GormStore) EnsureProfile(ctx context.Context, userID string) error {
	row := profileRow{ID: userID}
	if err := s.db.WithContext(ctx).Where("id = ?", userID).FirstOrCreate(&row).Error; err != nil {
		return fmt.Errorf("failed to ensure profile %s: %w", userID, err)
	}
	return nil
}
