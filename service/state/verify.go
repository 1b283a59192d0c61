package state

import (
	"fmt"

	"weather-alert-bridge/logger"
)

// Verify compares the file and sqlite backends row-by-row: row count,
// presence of each fingerprint, and per-row sent, first_seen_at and
// updated_at (spec §4.2). Row-count, missing-row and sent differences are
// error-level mismatches; any first_seen_at or updated_at difference, of
// whatever size, is warning-level drift, which fails the report only in
// strict mode. last_sent_at is not compared.
func Verify(file *FileStore, sqlite *SQLiteStore, strict bool) (IntegrityReport, error) {
	fileRecords, err := file.ListAll()
	if err != nil {
		return IntegrityReport{}, err
	}
	sqliteRecords, err := sqlite.ListAll()
	if err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{FileRowCount: len(fileRecords), SQLiteRowCount: len(sqliteRecords)}
	if report.FileRowCount != report.SQLiteRowCount {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf(
			"row count mismatch: file=%d sqlite=%d", report.FileRowCount, report.SQLiteRowCount))
	}

	bySQLite := make(map[string]int, len(sqliteRecords))
	for i, r := range sqliteRecords {
		bySQLite[r.EventID] = i
	}

	for _, f := range fileRecords {
		idx, ok := bySQLite[f.EventID]
		if !ok {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("event_id %s missing from sqlite", f.EventID))
			continue
		}
		s := sqliteRecords[idx]
		if f.Sent != s.Sent {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("event_id %s sent mismatch: file=%v sqlite=%v", f.EventID, f.Sent, s.Sent))
		}
		if !f.FirstSeenAt.Equal(s.FirstSeenAt) {
			report.Drift = append(report.Drift, fmt.Sprintf("event_id %s first_seen_at drift: file=%v sqlite=%v", f.EventID, f.FirstSeenAt, s.FirstSeenAt))
		}
		if !f.UpdatedAt.Equal(s.UpdatedAt) {
			report.Drift = append(report.Drift, fmt.Sprintf("event_id %s updated_at drift: file=%v sqlite=%v", f.EventID, f.UpdatedAt, s.UpdatedAt))
		}
	}

	if report.OK(strict) {
		logger.Event("state.verify.complete", "file_rows", report.FileRowCount, "sqlite_rows", report.SQLiteRowCount,
			"mismatches", len(report.Mismatches), "drift", len(report.Drift))
	} else {
		logger.EventAt(errLevel, "state.verify.failed", "file_rows", report.FileRowCount, "sqlite_rows", report.SQLiteRowCount,
			"mismatches", len(report.Mismatches), "drift", len(report.Drift))
	}
	return report, nil
}
