// Package store provides the durable local persistence layer for
// transaction records and webhook delivery logs. It is the source of truth
// for a captured message until the remote ledger acknowledges it, so its
// errors are the most severe class in the pipeline: callers propagate them
// instead of absorbing them.
package store

import (
	"errors"
	"fmt"
	"time"

	"fjacquet/smspipe/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var log = logrus.New()

// SetLogger allows setting a configured logger
func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("transaction record not found")

// DeliveryLog is one append-only webhook delivery outcome. Rows are never
// updated or deleted by this subsystem.
type DeliveryLog struct {
	ID          uint `gorm:"primaryKey"`
	Destination string
	URL         string
	StatusCode  int
	Response    string
	LatencyMS   int64
	CreatedAt   time.Time
}

// Store wraps the sqlite database. A single Store handle is owned by the
// process and passed explicitly to the components that need it.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// WAL keeps readers unblocked while the sync engine writes.
	db.Exec("PRAGMA journal_mode=WAL")

	if err := db.AutoMigrate(&models.TransactionRecord{}, &DeliveryLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Enqueue durably inserts a record in its initial state. The insert is
// idempotent on the content-derived reference: enqueueing a duplicate raw
// message returns the existing record's id as a no-op success, not an
// error.
func (s *Store) Enqueue(rec *models.TransactionRecord) (string, error) {
	var existing models.TransactionRecord
	err := s.db.Where("content_ref = ?", rec.ContentRef).First(&existing).Error
	if err == nil {
		log.WithFields(logrus.Fields{
			"id":          existing.ID,
			"content_ref": rec.ContentRef,
		}).Debug("Duplicate raw message, returning existing record")
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to check for existing record: %w", err)
	}

	if err := s.db.Create(rec).Error; err != nil {
		// A concurrent insert may have won the unique index race; fall back
		// to the record that got there first.
		var raced models.TransactionRecord
		if s.db.Where("content_ref = ?", rec.ContentRef).First(&raced).Error == nil {
			return raced.ID, nil
		}
		return "", fmt.Errorf("failed to enqueue record: %w", err)
	}

	log.WithFields(logrus.Fields{
		"id":        rec.ID,
		"direction": rec.Direction,
		"state":     rec.State,
	}).Info("Enqueued transaction record")
	return rec.ID, nil
}

// Get loads one record by id.
func (s *Store) Get(id string) (*models.TransactionRecord, error) {
	var rec models.TransactionRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load record %s: %w", id, err)
	}
	return &rec, nil
}

// ListByState returns records in any of the given states, in insertion
// order. With no states it returns everything.
func (s *Store) ListByState(states ...models.DeliveryState) ([]models.TransactionRecord, error) {
	var recs []models.TransactionRecord
	q := s.db.Order("created_at ASC")
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return recs, nil
}

// ListSyncable selects the records the sync engine should attempt:
// PENDING records plus SYNCING records left behind by a crashed or
// cancelled invocation, all below the retry ceiling. FAILED is terminal
// and never re-selected.
func (s *Store) ListSyncable(maxRetry int) ([]models.TransactionRecord, error) {
	var recs []models.TransactionRecord
	err := s.db.
		Where("state IN ? AND retry_count < ?",
			[]models.DeliveryState{models.StatePending, models.StateSyncing}, maxRetry).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select syncable records: %w", err)
	}
	return recs, nil
}

// StateUpdate carries the optional fields of an UpdateState call. Nil
// fields are left untouched.
type StateUpdate struct {
	LastError  *string
	RetryCount *int
	RemoteID   *string
}

// UpdateState is the only mutation path for a record after its initial
// insert. The update is applied atomically in one transaction so a
// concurrent reader never observes a partial transition. The remote id is
// written guarded: once set it is never overwritten.
func (s *Store) UpdateState(id string, state models.DeliveryState, upd StateUpdate) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"state": state}
		if upd.LastError != nil {
			updates["last_error"] = *upd.LastError
		}
		if upd.RetryCount != nil {
			updates["retry_count"] = *upd.RetryCount
		}

		res := tx.Model(&models.TransactionRecord{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update record %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if upd.RemoteID != nil {
			res := tx.Model(&models.TransactionRecord{}).
				Where("id = ? AND remote_id IS NULL", id).
				Update("remote_id", *upd.RemoteID)
			if res.Error != nil {
				return fmt.Errorf("failed to set remote id on record %s: %w", id, res.Error)
			}
			if res.RowsAffected == 0 {
				log.WithField("id", id).Warn("Remote id already set, keeping the original")
			}
		}
		return nil
	})
}

// MarkWalletCredited flips the wallet-credit flag and reports whether this
// call won the flip. Exactly one caller per record ever sees true, which is
// what prevents double-crediting across retries.
func (s *Store) MarkWalletCredited(id string) (bool, error) {
	res := s.db.Model(&models.TransactionRecord{}).
		Where("id = ? AND wallet_credited = ?", id, false).
		Update("wallet_credited", true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark wallet credit on record %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CountByState returns how many records sit in each delivery state.
func (s *Store) CountByState() (map[models.DeliveryState]int64, error) {
	type row struct {
		State models.DeliveryState
		N     int64
	}
	var rows []row
	err := s.db.Model(&models.TransactionRecord{}).
		Select("state, count(*) as n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	out := make(map[models.DeliveryState]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.N
	}
	return out, nil
}

// LogDelivery appends one webhook delivery outcome. Append-only.
func (s *Store) LogDelivery(destination, url string, statusCode int, response string, latency time.Duration) error {
	entry := DeliveryLog{
		Destination: destination,
		URL:         url,
		StatusCode:  statusCode,
		Response:    response,
		LatencyMS:   latency.Milliseconds(),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append delivery log: %w", err)
	}
	return nil
}

// ListDeliveryLogs returns delivery logs for a destination, newest first.
func (s *Store) ListDeliveryLogs(destination string) ([]DeliveryLog, error) {
	var logs []DeliveryLog
	err := s.db.Where("destination = ?", destination).
		Order("id DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	return logs, nil
}
