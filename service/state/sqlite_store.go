package state

import (
	"encoding/json"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/model"
	"weather-alert-bridge/service/models"
)

// trackedRow is Backend B's table schema (spec §4.2/§6): one row per
// fingerprint, ordered timestamp columns, a serialized payload.
type trackedRow struct {
	EventID     string `gorm:"primaryKey;column:event_id"`
	Payload     models.JSONB `gorm:"column:payload"`
	FirstSeenAt time.Time  `gorm:"column:first_seen_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	LastSentAt  *time.Time `gorm:"column:last_sent_at"`
	Sent        bool       `gorm:"column:sent;index"`
}

func (trackedRow) TableName() string { return "tracked_events" }

// SQLiteStore is Backend B, grounded on the teacher's gorm+sqlite
// migration convention (service/database/migrate.go) generalized to this
// domain's single table.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLiteStore opens (creating if needed) the embedded relational
// backend at path, in WAL mode with a busy timeout so transient lock
// contention doesn't surface as a hard failure (spec §4.2).
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperr.New(apperr.KindStateIO, "opening sqlite state store", err)
	}
	if err := db.AutoMigrate(&trackedRow{}); err != nil {
		return nil, apperr.New(apperr.KindStateIO, "migrating sqlite state store", err)
	}
	return &SQLiteStore{db: db}, nil
}

func eventToJSONB(e model.WarningEvent) models.JSONB {
	raw, _ := json.Marshal(toFilePayload(e))
	var m models.JSONB
	_ = json.Unmarshal(raw, &m)
	return m
}

func jsonbToEvent(j models.JSONB) model.WarningEvent {
	raw, _ := json.Marshal(j)
	var p filePayload
	_ = json.Unmarshal(raw, &p)
	return p.toWarningEvent()
}

// Upsert applies every incoming event inside a single transaction: one
// lookup per event, then an insert for a new fingerprint or an update when
// the payload changed.
func (s *SQLiteStore) Upsert(records []model.WarningEvent, now time.Time) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, ev := range records {
			fp := ev.Fingerprint()
			var existing trackedRow
			err := tx.First(&existing, "event_id = ?", fp).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				row := trackedRow{
					EventID: fp, Payload: eventToJSONB(ev),
					FirstSeenAt: now, UpdatedAt: now, Sent: false,
				}
				if err := tx.Create(&row).Error; err != nil {
					return apperr.New(apperr.KindStateIO, "inserting tracked row", err)
				}
			case err != nil:
				return apperr.New(apperr.KindStateIO, "reading tracked row", err)
			default:
				if !jsonbToEvent(existing.Payload).Equal(ev) {
					existing.Payload = eventToJSONB(ev)
					existing.UpdatedAt = now
					if err := tx.Save(&existing).Error; err != nil {
						return apperr.New(apperr.KindStateIO, "updating tracked row", err)
					}
				}
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListPending() ([]model.TrackedRecord, error) {
	var rows []trackedRow
	if err := s.db.Where("sent = ?", false).Find(&rows).Error; err != nil {
		return nil, apperr.New(apperr.KindStateIO, "listing pending rows", err)
	}
	return toRecords(rows), nil
}

func (s *SQLiteStore) ListAll() ([]model.TrackedRecord, error) {
	var rows []trackedRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, apperr.New(apperr.KindStateIO, "listing all rows", err)
	}
	return toRecords(rows), nil
}

func (s *SQLiteStore) MarkSent(eventIDs []string, now time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	err := s.db.Model(&trackedRow{}).
		Where("event_id IN ?", eventIDs).
		Updates(map[string]interface{}{"sent": true, "last_sent_at": now}).Error
	if err != nil {
		return apperr.New(apperr.KindStateIO, "marking rows sent", err)
	}
	return nil
}

// CleanupStale is a single filtered DELETE, per spec §4.2, so it scales
// to large datasets without loading rows into memory.
func (s *SQLiteStore) CleanupStale(olderThan time.Time, includeUnsent bool) (int, error) {
	q := s.db.Where("updated_at < ?", olderThan)
	if !includeUnsent {
		q = q.Where("sent = ?", true)
	}
	result := q.Delete(&trackedRow{})
	if result.Error != nil {
		return 0, apperr.New(apperr.KindStateIO, "cleaning up stale rows", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *SQLiteStore) CountPending() (int, error) {
	var n int64
	if err := s.db.Model(&trackedRow{}).Where("sent = ?", false).Count(&n).Error; err != nil {
		return 0, apperr.New(apperr.KindStateIO, "counting pending rows", err)
	}
	return int(n), nil
}

// bulkInsert is used only by the migration utility, which must preserve
// the source timestamps exactly rather than route through Upsert's
// change-detection logic.
func (s *SQLiteStore) bulkInsert(rows []trackedRow) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if err := tx.Save(&row).Error; err != nil {
				return apperr.New(apperr.KindStateIO, "bulk-inserting migrated row", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecords(rows []trackedRow) []model.TrackedRecord {
	out := make([]model.TrackedRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.TrackedRecord{
			EventID: r.EventID, Payload: jsonbToEvent(r.Payload),
			FirstSeenAt: r.FirstSeenAt, UpdatedAt: r.UpdatedAt,
			LastSentAt: r.LastSentAt, Sent: r.Sent,
		})
	}
	return out
}
