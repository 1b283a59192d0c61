// Package state implements the StateStore component (C4): durable
// upsert/query/cleanup of tracked warning events, keyed by fingerprint,
// with two interchangeable backends (file and embedded relational).
// Grounded on original_source/app/repositories/{json_state_repo,
// sqlite_state_repo,state_repository}.py for the shared contract, and on
// the teacher's service/database (gorm+sqlite) conventions for Backend B.
package state

import (
	"time"

	"weather-alert-bridge/service/model"
)

// IntegrityReport is the structured summary verify_integrity returns
// (spec §4.2).
type IntegrityReport struct {
	FileRowCount   int
	SQLiteRowCount int
	Mismatches     []string // error-level
	Drift          []string // warning-level
}

// OK reports whether the two backends are considered consistent: no
// error-level mismatches and, when strict is set, no warning-level drift
// either.
func (r IntegrityReport) OK(strict bool) bool {
	if len(r.Mismatches) > 0 {
		return false
	}
	if strict && len(r.Drift) > 0 {
		return false
	}
	return true
}

// Store is the backend-agnostic contract both implementations satisfy
// (spec §4.2, §9 "duck-typed protocol boundaries").
type Store interface {
	Upsert(records []model.WarningEvent, now time.Time) error
	ListPending() ([]model.TrackedRecord, error)
	ListAll() ([]model.TrackedRecord, error)
	MarkSent(eventIDs []string, now time.Time) error
	CleanupStale(olderThan time.Time, includeUnsent bool) (int, error)
	CountPending() (int, error)
	Close() error
}
