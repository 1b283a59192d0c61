package state

import (
	"weather-alert-bridge/logger"
)

// Migrate is the one-shot utility that reads every record from the file
// backend and bulk-inserts it into the relational backend, preserving
// FirstSeenAt/UpdatedAt/LastSentAt/Sent exactly (spec §4.2, §6
// migrate-state). It writes rows directly rather than going through
// Upsert, which would stamp a fresh UpdatedAt.
func Migrate(from *FileStore, to *SQLiteStore) (int, error) {
	records, err := from.ListAll()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		logger.Event("state.migration.complete", "rows_migrated", 0)
		return 0, nil
	}

	rows := make([]trackedRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, trackedRow{
			EventID: r.EventID, Payload: eventToJSONB(r.Payload),
			FirstSeenAt: r.FirstSeenAt, UpdatedAt: r.UpdatedAt,
			LastSentAt: r.LastSentAt, Sent: r.Sent,
		})
	}

	if err := to.bulkInsert(rows); err != nil {
		logger.EventAt(errLevel, "state.migration.failed", "error", err.Error())
		return 0, err
	}
	logger.Event("state.migration.complete", "rows_migrated", len(rows))
	return len(rows), nil
}
