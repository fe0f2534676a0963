package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
	"github.com/evmtx/txpipeline/internal/pkg/logger"
)

// nonceRow is one KVStore entry: a key, its JSON-encoded value, and a
// lock-holder expiry. The lock lives in the row itself rather than in a
// separate lock table: Lock takes a SELECT ... FOR UPDATE row lock only
// long enough to check and write LockExpiry, and the value is read
// afterwards by a separate Get query.
type nonceRow struct {
	Key        string `gorm:"primaryKey"`
	Value      string
	LockedAt   *time.Time
	LockExpiry *time.Time
}

func (nonceRow) TableName() string { return "pipeline_nonce_store" }

// PostgresStore is a gorm-backed KVStore using row-level locking, for
// deployments that want nonce state to survive process restarts (spec
// §4.2's persisted-store contract).
type PostgresStore struct {
	db  *gorm.DB
	cfg LockConfig
}

// NewPostgresStore opens dsn and migrates the nonce store table.
func NewPostgresStore(dsn string, cfg LockConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&nonceRow{}); err != nil {
		return nil, fmt.Errorf("migrating nonce store schema: %w", err)
	}
	return &PostgresStore{db: db, cfg: cfg}, nil
}

func (s *PostgresStore) Get(key string) (any, bool) {
	var row nonceRow
	if err := s.db.Where("key = ?", key).First(&row).Error; err != nil {
		return nil, false
	}
	var out map[uint64]bool
	if err := json.Unmarshal([]byte(row.Value), &out); err != nil {
		return nil, false
	}
	return out, true
}

func (s *PostgresStore) Put(key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		logger.Warn("postgres store: failed to encode value", "key", key, "error", err)
		return
	}
	if err := s.db.Save(&nonceRow{Key: key, Value: string(encoded)}).Error; err != nil {
		logger.Warn("postgres store: failed to write value", "key", key, "error", err)
	}
	s.Release(key)
}

func (s *PostgresStore) Delete(key string) {
	s.db.Where("key = ?", key).Delete(&nonceRow{})
	s.Release(key)
}

func (s *PostgresStore) Keys() []string {
	var rows []nonceRow
	s.db.Select("key").Find(&rows)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key)
	}
	return out
}

func (s *PostgresStore) Clear() {
	s.db.Exec("DELETE FROM pipeline_nonce_store")
}

// Lock acquires a row-level lock by writing a lock expiry into the row
// (creating it if absent), polling at CheckInterval until AcquireTimeout
// elapses or the prior lock's expiry has passed (the watchdog: an expired
// LockExpiry is treated as free even if Release was never called).
func (s *PostgresStore) Lock(key string) error {
	deadline := time.Now().Add(s.cfg.AcquireTimeout)
	for {
		acquired, err := s.tryLock(key)
		if err != nil {
			return apperrors.New(apperrors.ErrGeneric, "postgres lock error: "+err.Error(), err)
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.New(apperrors.ErrTimeout, "timed out acquiring postgres lock for "+key, nil)
		}
		time.Sleep(s.cfg.CheckInterval)
	}
}

func (s *PostgresStore) tryLock(key string) (bool, error) {
	now := time.Now()
	expiry := now.Add(s.cfg.LockTimeout)

	var acquired bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row nonceRow
		err := tx.Raw("SELECT * FROM pipeline_nonce_store WHERE key = ? FOR UPDATE", key).Scan(&row).Error
		if err != nil {
			return err
		}

		if row.Key == "" {
			acquired = true
			return tx.Create(&nonceRow{Key: key, Value: "{}", LockedAt: &now, LockExpiry: &expiry}).Error
		}
		if row.LockExpiry != nil && row.LockExpiry.After(now) {
			acquired = false
			return nil
		}
		acquired = true
		return tx.Model(&nonceRow{}).Where("key = ?", key).
			Updates(map[string]any{"locked_at": now, "lock_expiry": expiry}).Error
	})
	return acquired, err
}

func (s *PostgresStore) Release(key string) {
	if err := s.db.Model(&nonceRow{}).Where("key = ?", key).
		Updates(map[string]any{"locked_at": nil, "lock_expiry": nil}).Error; err != nil {
		logger.Warn("postgres store: failed to release lock", "key", key, "error", err)
	}
}
